// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package host implements an interactive shell for developing Maestro
// servo controller scripts.
//
// Within the host it is possible to compile scripts, inspect their
// listings, subroutines and disassembly, and step through them in a
// simulator with breakpoints. An attached controller can be opened, the
// compiled script uploaded into it and its execution controlled and
// inspected.
package host

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/beevik/cmd"
	"github.com/beevik/maestro/asm"
	"github.com/beevik/maestro/disasm"
	"github.com/beevik/maestro/sim"
	"github.com/beevik/maestro/usc"
	"github.com/beevik/maestro/vm"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// A DeviceOpener opens a session with an attached controller.
type DeviceOpener func(serial string, opts ...usc.Option) (*usc.Device, error)

// A Host is a command shell holding at most one loaded script and one
// open device.
type Host struct {
	input       *bufio.Scanner
	output      *bufio.Writer
	interactive bool
	lastCmd     *cmd.Selection
	settings    *settings
	log         zerolog.Logger
	errColor    *color.Color
	open        DeviceOpener
	program     *asm.Program
	device      *usc.Device
	machine     *sim.Machine
	debugger    *sim.Debugger
	nextLine    int
	nextAddr    int
}

// An Option configures a Host.
type Option func(h *Host)

// WithConfig sets the initial settings of the host.
func WithConfig(c *Config) Option {
	return func(h *Host) {
		h.settings = newSettings(c)
	}
}

// WithLogger sets the logger used by the host and the devices it opens.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Host) {
		h.log = l
	}
}

// WithDeviceOpener replaces the function used to open devices.
func WithDeviceOpener(fn DeviceOpener) Option {
	return func(h *Host) {
		h.open = fn
	}
}

// New creates a new host.
func New(opts ...Option) *Host {
	h := &Host{
		settings: newSettings(DefaultConfig()),
		log:      zerolog.Nop(),
		errColor: color.New(color.FgRed),
		open:     usc.Open,
		output:   bufio.NewWriter(os.Stdout),
		nextLine: 1,
	}
	h.debugger = sim.NewDebugger(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RunCommands accepts host commands from a reader and outputs the results
// to a writer. If the commands are interactive, a prompt is displayed while
// the host waits for the the next command to be entered.
func (h *Host) RunCommands(r io.Reader, w io.Writer, interactive bool) {
	h.input = bufio.NewScanner(r)
	h.output = bufio.NewWriter(w)
	h.interactive = interactive

	if interactive {
		h.println()
	}

	for {
		h.prompt()

		line, err := h.getLine()
		if err != nil {
			break
		}

		var c cmd.Selection
		if line != "" {
			c, err = cmds.Lookup(line)
			switch {
			case err == cmd.ErrNotFound:
				h.errorf("Command not found.\n")
				continue
			case err == cmd.ErrAmbiguous:
				h.errorf("Command is ambiguous.\n")
				continue
			case err != nil:
				h.errorf("ERROR: %v.\n", err)
				continue
			}
		} else if h.lastCmd != nil {
			c = *h.lastCmd
		}

		if c.Command == nil {
			continue
		}
		h.lastCmd = &c

		command, ok := c.Command.Data.(*command)
		if !ok {
			continue
		}
		err = command.handler(h, c)
		if err != nil {
			break
		}
	}

	h.flush()
}

// Break interrupts the command prompt.
func (h *Host) Break() {
	h.println()
	h.prompt()
}

// Close closes the open device, if any.
func (h *Host) Close() error {
	if h.device == nil {
		return nil
	}
	err := h.device.Close()
	h.device = nil
	return err
}

// CompileFile compiles a script file, writing the compiled image and
// listing next to it.
func (h *Host) CompileFile(filename string, w io.Writer) error {
	h.output = bufio.NewWriter(w)
	defer h.flush()

	_, err := h.compile(filename, h.settings.Verbose)
	if err != nil {
		h.errorf("Failed to compile '%s'.\n%v\n", filepath.Base(filename), err)
	}
	return err
}

func (h *Host) printf(format string, args ...any) {
	fmt.Fprintf(h.output, format, args...)
	h.flush()
}

func (h *Host) println(args ...any) {
	fmt.Fprintln(h.output, args...)
	h.flush()
}

func (h *Host) errorf(format string, args ...any) {
	h.errColor.Fprintf(h.output, format, args...)
	h.flush()
}

func (h *Host) flush() {
	h.output.Flush()
}

func (h *Host) getLine() (string, error) {
	if h.input.Scan() {
		return strings.TrimSpace(h.input.Text()), nil
	}
	if h.input.Err() != nil {
		return "", h.input.Err()
	}
	return "", io.EOF
}

func (h *Host) prompt() {
	if h.interactive {
		h.printf("* ")
	}
}

func (h *Host) fail(c cmd.Selection, err error) {
	h.log.Debug().Err(err).Str("command", strings.Join(append([]string{c.Command.Name}, c.Args...), " ")).Msg("command failed")
}

func (h *Host) cmdHelp(c cmd.Selection) error {
	if len(c.Args) == 0 {
		h.println("Maestro commands:")
		for _, c := range commands {
			if c.brief != "" {
				h.printf("    %-15s  %s\n", c.name, c.brief)
			}
		}
		for _, g := range groups {
			h.printf("    %-15s  %s\n", g.name, g.brief)
		}
		return nil
	}

	if g := findGroup(c.Args[0]); g != nil && len(c.Args) == 1 {
		h.printf("%s:\n", g.brief)
		for _, c := range g.commands {
			h.printf("    %-15s  %s\n", c.name, c.brief)
		}
		return nil
	}

	s, err := cmds.Lookup(strings.Join(c.Args, " "))
	if err != nil || s.Command == nil {
		h.errorf("Command not found.\n")
		return nil
	}
	command, ok := s.Command.Data.(*command)
	if !ok {
		return nil
	}

	if command.usage != "" {
		h.printf("Syntax: %s\n\n", command.usage)
	}
	switch {
	case command.description != "":
		h.printf("Description:\n%s\n\n", indentWrap(3, command.description))
	case command.brief != "":
		h.printf("Description:\n%s.\n\n", indentWrap(3, command.brief))
	}
	return nil
}

func findGroup(name string) *group {
	var found *group
	for _, g := range groups {
		if strings.HasPrefix(g.name, strings.ToLower(name)) {
			if found != nil {
				return nil
			}
			found = g
		}
	}
	return found
}

func (h *Host) displayUsage(c cmd.Selection) {
	if command, ok := c.Command.Data.(*command); ok && command.usage != "" {
		h.printf("Syntax: %s\n", command.usage)
	} else {
		h.println("<no help text>")
	}
}

func (h *Host) compile(filename string, verbose bool) (*asm.Program, error) {
	if filepath.Ext(filename) == "" {
		filename += ".mss"
	}

	var options asm.Option
	if verbose {
		options |= asm.Verbose
	}

	p, err := asm.AssembleFile(filename, h.settings.variant(), options, h.output)
	h.flush()
	if err != nil {
		return nil, err
	}

	h.setProgram(p)
	return p, nil
}

func (h *Host) setProgram(p *asm.Program) {
	h.program = p
	h.machine = nil
	h.nextLine = 1
	h.nextAddr = 0
}

func (h *Host) requireProgram() *asm.Program {
	if h.program == nil {
		h.errorf("No script is loaded.\n")
	}
	return h.program
}

func (h *Host) requireDevice() *usc.Device {
	if h.device == nil {
		h.errorf("No device is open.\n")
	}
	return h.device
}

func (h *Host) cmdCompile(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	verbose := h.settings.Verbose
	if len(c.Args) > 1 {
		v, err := stringToBool(c.Args[1])
		if err != nil {
			h.errorf("%v\n", err)
			return nil
		}
		verbose = v
	}

	if _, err := h.compile(c.Args[0], verbose); err != nil {
		h.fail(c, err)
		h.errorf("Failed to compile '%s'.\n%v\n", filepath.Base(c.Args[0]), err)
	}
	return nil
}

func (h *Host) cmdLoad(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	filename := c.Args[0]
	switch filepath.Ext(filename) {
	case "":
		filename += ".msc"
	case ".msc":
	default:
		if _, err := h.compile(filename, h.settings.Verbose); err != nil {
			h.fail(c, err)
			h.errorf("Failed to compile '%s'.\n%v\n", filepath.Base(filename), err)
		}
		return nil
	}

	p, err := h.loadImage(filename)
	if err != nil {
		h.fail(c, err)
		h.errorf("Failed to load '%s': %v\n", filepath.Base(filename), err)
		return nil
	}

	h.setProgram(p)
	h.printf("Loaded '%s' (%d bytes, %s variant).\n", filepath.Base(filename), len(p.ByteList()), p.Variant())
	return nil
}

func (h *Host) loadImage(filename string) (*asm.Program, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return asm.ReadProgram(file)
}

// Return the address of the first byte generated by a source line, or -1
// if the line generated no code.
func lineAddress(p *asm.Program, n int) int {
	for _, l := range p.Lines() {
		if l.Line == n && l.Length > 0 {
			return l.Address
		}
	}
	return -1
}

func (h *Host) cmdList(c cmd.Selection) error {
	p := h.requireProgram()
	if p == nil {
		return nil
	}
	if p.NumSourceLines() == 0 {
		h.errorf("The loaded script has no source.\n")
		return nil
	}

	first, count := h.nextLine, h.settings.ListLines
	if len(c.Args) > 0 {
		n, err := parseNumber(c.Args[0])
		if err != nil {
			h.errorf("%v\n", err)
			return nil
		}
		first = n
	}
	if len(c.Args) > 1 {
		n, err := parseNumber(c.Args[1])
		if err != nil {
			h.errorf("%v\n", err)
			return nil
		}
		count = n
	}

	if first < 1 || first > p.NumSourceLines() {
		first = 1
	}

	n := first
	for ; n < first+count && n <= p.NumSourceLines(); n++ {
		line, _ := p.SourceLine(n)
		if addr := lineAddress(p, n); addr >= 0 {
			h.printf("%4d  %04X  %s\n", n, addr, line)
		} else {
			h.printf("%4d        %s\n", n, line)
		}
	}

	h.nextLine = n
	if h.lastCmd != nil {
		h.lastCmd.Args = nil
	}
	return nil
}

func (h *Host) cmdDisassemble(c cmd.Selection) error {
	p := h.requireProgram()
	if p == nil {
		return nil
	}

	addr := h.nextAddr
	if len(c.Args) > 0 {
		a, err := parseNumber(c.Args[0])
		if err != nil {
			h.errorf("%v\n", err)
			return nil
		}
		addr = a
	}

	code := p.ByteList()
	if addr >= len(code) {
		addr = 0
	}

	set := vm.GetInstructionSet(p.Variant())
	for i := 0; i < h.settings.ListLines && addr < len(code); i++ {
		l, next, err := disasm.Disassemble(code, addr, set)
		if err != nil {
			h.errorf("%v\n", err)
			break
		}
		if n := p.Search(addr); n > 0 && lineAddress(p, n) == addr {
			src, _ := p.SourceLine(n)
			h.printf("%-40s ; %d: %s\n", l.Format(), n, strings.TrimSpace(src))
		} else {
			h.println(l.Format())
		}
		addr = next
	}

	h.nextAddr = addr
	if h.lastCmd != nil {
		h.lastCmd.Args = nil
	}
	return nil
}

func (h *Host) cmdSubroutines(c cmd.Selection) error {
	p := h.requireProgram()
	if p == nil {
		return nil
	}

	subs := p.Subroutines()
	if len(subs) == 0 {
		h.println("No subroutines.")
		return nil
	}

	h.println("Index Opcode Address Name")
	h.println("----- ------ ------- ----")
	for i, s := range subs {
		op := s.Opcode.String()
		if s.Opcode.IsSlot() {
			op = fmt.Sprintf("$%02X", byte(s.Opcode))
		}
		h.printf("%5d %6s $%04X   %s\n", i, op, s.Address, s.Name)
	}
	return nil
}

func (h *Host) cmdChecksum(c cmd.Selection) error {
	p := h.requireProgram()
	if p == nil {
		return nil
	}
	h.printf("Size: %d bytes, CRC: $%04X\n", len(p.ByteList()), p.CRC())
	return nil
}

func (h *Host) cmdDeviceOpen(c cmd.Selection) error {
	if h.device != nil {
		h.errorf("A device is already open.\n")
		return nil
	}

	serial := h.settings.Serial
	if len(c.Args) > 0 {
		serial = c.Args[0]
	}

	d, err := h.open(serial,
		usc.WithLogger(h.log),
		usc.WithSettleDelay(h.settings.settleDelay()))
	if err != nil {
		h.fail(c, err)
		h.errorf("Failed to open device: %v\n", err)
		return nil
	}

	h.device = d
	if d.Serial() != "" {
		h.printf("Opened %s Maestro %s.\n", d.Variant(), d.Serial())
	} else {
		h.printf("Opened %s Maestro.\n", d.Variant())
	}

	if d.Variant() != h.settings.variant() {
		h.settings.Variant = d.Variant().String()
		h.printf("Variant set to %s.\n", h.settings.Variant)
	}
	return nil
}

func (h *Host) cmdDeviceClose(c cmd.Selection) error {
	if h.requireDevice() == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		h.fail(c, err)
		h.errorf("Failed to close device: %v\n", err)
		return nil
	}
	h.println("Device closed.")
	return nil
}

func (h *Host) cmdDeviceStatus(c cmd.Selection) error {
	d := h.requireDevice()
	if d == nil {
		return nil
	}
	h.printf("Variant:  %s\n", d.Variant())
	h.printf("Product:  $%04X\n", d.Product())
	if d.Serial() != "" {
		h.printf("Serial:   %s\n", d.Serial())
	}
	h.printf("State:    %s\n", d.State())
	return nil
}

// Run a device operation, closing the device if the operation left it
// disconnected.
func (h *Host) deviceOp(c cmd.Selection, fn func(d *usc.Device) error) bool {
	d := h.requireDevice()
	if d == nil {
		return false
	}

	err := fn(d)
	if err == nil {
		return true
	}

	h.fail(c, err)
	h.errorf("%v\n", err)
	if d.State() == usc.Disconnected {
		h.Close()
		h.errorf("Device disconnected.\n")
	}
	return false
}

func (h *Host) cmdUpload(c cmd.Selection) error {
	p := h.requireProgram()
	if p == nil {
		return nil
	}

	ok := h.deviceOp(c, func(d *usc.Device) error {
		return d.LoadProgram(p, usc.LoadOptions{WriteCRC: h.settings.WriteCRC})
	})
	if ok {
		v := h.device.Variant()
		h.printf("Uploaded %d bytes, CRC $%04X.\n", len(p.Image(v)), p.ImageCRC(v))
	}
	return nil
}

func (h *Host) cmdScriptStop(c cmd.Selection) error {
	if h.deviceOp(c, (*usc.Device).StopScript) {
		h.println("Script stopped.")
	}
	return nil
}

func (h *Host) cmdScriptStep(c cmd.Selection) error {
	if h.deviceOp(c, (*usc.Device).StepScript) {
		h.displayProgramCounter(c)
	}
	return nil
}

func (h *Host) cmdScriptRun(c cmd.Selection) error {
	if h.deviceOp(c, (*usc.Device).RunScript) {
		h.println("Script running.")
	}
	return nil
}

func (h *Host) cmdScriptRestart(c cmd.Selection) error {
	if len(c.Args) == 0 {
		if h.deviceOp(c, (*usc.Device).RestartScript) {
			h.println("Script restarted.")
		}
		return nil
	}

	slot, err := h.subroutineSlot(c.Args[0])
	if err != nil {
		h.errorf("%v\n", err)
		return nil
	}

	if len(c.Args) < 2 {
		if h.deviceOp(c, func(d *usc.Device) error { return d.RestartScriptAtSubroutine(slot) }) {
			h.printf("Script restarted at subroutine %d.\n", slot)
		}
		return nil
	}

	v, err := parseNumber(c.Args[1])
	if err != nil || v < 0 || v > 0xffff {
		h.errorf("invalid parameter '%s'\n", c.Args[1])
		return nil
	}
	param := uint16(v)
	if h.deviceOp(c, func(d *usc.Device) error { return d.RestartScriptAtSubroutineWithParameter(slot, param) }) {
		h.printf("Script restarted at subroutine %d with parameter %d.\n", slot, param)
	}
	return nil
}

// Resolve a subroutine name or slot number into a slot number.
func (h *Host) subroutineSlot(s string) (uint8, error) {
	if n, err := parseNumber(s); err == nil {
		if n < 0 || n >= vm.NumSlots {
			return 0, fmt.Errorf("subroutine number %d is out of range", n)
		}
		return uint8(n), nil
	}

	if h.program == nil {
		return 0, errors.New("no script is loaded")
	}
	sub, ok := h.program.SubroutineByName(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("subroutine '%s' not found", s)
	}
	if !sub.Opcode.IsSlot() {
		return 0, fmt.Errorf("subroutine '%s' has no slot and cannot be restarted", s)
	}
	return uint8(sub.Opcode - vm.FirstSlot), nil
}

func (h *Host) readVariables(c cmd.Selection) (usc.Variables, bool) {
	var v usc.Variables
	ok := h.deviceOp(c, func(d *usc.Device) error {
		var err error
		v, err = d.Variables()
		return err
	})
	return v, ok
}

func (h *Host) displayProgramCounter(c cmd.Selection) {
	v, ok := h.readVariables(c)
	if !ok {
		return
	}
	h.printf("PC=$%04X%s\n", v.ProgramCounter, h.sourceAt(int(v.ProgramCounter)))
}

// Return a description of the source line that generated the code at
// the address.
func (h *Host) sourceAt(addr int) string {
	if h.program == nil {
		return ""
	}
	n := h.program.Search(addr)
	if n < 0 {
		return ""
	}
	src, _ := h.program.SourceLine(n)
	return fmt.Sprintf(" (line %d: %s)", n, strings.TrimSpace(src))
}

func (h *Host) cmdVariables(c cmd.Selection) error {
	v, ok := h.readVariables(c)
	if !ok {
		return nil
	}

	h.printf("Stack pointer:       %d\n", v.StackPointer)
	h.printf("Call stack pointer:  %d\n", v.CallStackPointer)
	h.printf("Program counter:     $%04X%s\n", v.ProgramCounter, h.sourceAt(int(v.ProgramCounter)))
	h.printf("Errors:              %s\n", v.Errors)
	h.printf("Script done:         %v\n", v.ScriptDone)
	if len(v.Stack) > 0 {
		var b strings.Builder
		for i, s := range v.Stack {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.Itoa(int(s)))
		}
		h.printf("Stack:               %s\n", b.String())
	}
	return nil
}

func (h *Host) cmdErrorsShow(c cmd.Selection) error {
	if v, ok := h.readVariables(c); ok {
		h.printf("Errors: %s\n", v.Errors)
	}
	return nil
}

func (h *Host) cmdErrorsClear(c cmd.Selection) error {
	if h.deviceOp(c, (*usc.Device).ClearErrors) {
		h.println("Errors cleared.")
	}
	return nil
}

func (h *Host) cmdQuit(c cmd.Selection) error {
	return errors.New("Exiting program")
}

func (h *Host) cmdSet(c cmd.Selection) error {
	switch len(c.Args) {
	case 0:
		h.println("Variables:")
		h.settings.Display(h.output)
		h.flush()

	case 1:
		h.displayUsage(c)

	default:
		key, value := strings.ToLower(c.Args[0]), strings.Join(c.Args[1:], " ")
		old := *h.settings

		var err error
		switch h.settings.Kind(key) {
		case reflect.Invalid:
			err = fmt.Errorf("Setting '%s' not found", key)
		case reflect.String:
			err = h.settings.Set(key, value)
		case reflect.Bool:
			var v bool
			v, err = stringToBool(value)
			if err == nil {
				err = h.settings.Set(key, v)
			}
		default:
			var v int
			v, err = parseNumber(value)
			if err == nil {
				err = h.settings.Set(key, v)
			}
		}

		if err == nil {
			err = h.settings.config().Validate()
		}

		if err == nil {
			h.println("Setting updated.")
		} else {
			*h.settings = old
			h.errorf("%v\n", err)
		}
	}

	return nil
}
