// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/beevik/maestro/host"
	"github.com/beevik/maestro/vm"
	"github.com/beevik/term"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

var (
	compile    string
	configFile string
	variant    string
	verbose    bool
	noColor    bool
)

func init() {
	flag.StringVar(&compile, "a", "", "compile script file")
	flag.StringVar(&configFile, "config", "", "configuration file (default "+host.DefaultConfigFile+")")
	flag.StringVar(&variant, "variant", "", "controller variant (micro or mini)")
	flag.BoolVar(&verbose, "v", false, "verbose output")
	flag.BoolVar(&noColor, "no-color", false, "disable colored output")
	flag.CommandLine.Usage = func() {
		fmt.Println("Usage: maestro [script] ..\nOptions:")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: color.NoColor}).
		Level(level).
		With().Timestamp().Logger()

	config, err := loadConfig()
	if err != nil {
		exitOnError(err)
	}

	h := host.New(host.WithConfig(config), host.WithLogger(log))
	defer h.Close()

	// Do command-line compile if requested.
	if compile != "" {
		err := h.CompileFile(compile, os.Stdout)
		if err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Run commands contained in command-line files.
	args := flag.Args()
	if len(args) > 0 {
		for _, filename := range args {
			file, err := os.Open(filename)
			if err != nil {
				exitOnError(err)
			}
			h.RunCommands(file, os.Stdout, false)
			file.Close()
		}
	}

	// Break on Ctrl-C.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go handleInterrupt(h, c)

	// Run commands interactively.
	h.RunCommands(os.Stdin, os.Stdout, interactive)
}

func loadConfig() (*host.Config, error) {
	var config *host.Config
	var err error
	if configFile != "" {
		config, err = host.LoadConfig(configFile)
	} else {
		config, err = host.LoadDefaultConfig()
	}
	if err != nil {
		return nil, err
	}

	if variant != "" {
		v, err := vm.ParseVariant(variant)
		if err != nil {
			return nil, err
		}
		config.Variant = v.String()
	}
	if verbose {
		config.Verbose = true
	}
	return config, nil
}

func handleInterrupt(h *host.Host, c chan os.Signal) {
	for {
		<-c
		h.Break()
	}
}

func exitOnError(err error) {
	msg := strings.TrimSpace(err.Error())
	color.New(color.FgRed).Fprintf(os.Stderr, "ERROR: %v\n", msg)
	os.Exit(1)
}
