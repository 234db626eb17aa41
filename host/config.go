// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/beevik/maestro/vm"
	"github.com/hashicorp/go-multierror"
)

// DefaultConfigFile is the configuration file read from the working
// directory when no other file is requested.
const DefaultConfigFile = "maestro.toml"

// Config holds the initial host settings.
type Config struct {
	Variant       string `toml:"variant"`
	Verbose       bool   `toml:"verbose"`
	WriteCRC      bool   `toml:"write_crc"`
	SettleDelayMs int    `toml:"settle_delay_ms"`
	Serial        string `toml:"serial"`
	ListLines     int    `toml:"list_lines"`
}

// DefaultConfig returns the settings used when no configuration file
// exists.
func DefaultConfig() *Config {
	return &Config{
		Variant:       vm.Micro.String(),
		WriteCRC:      true,
		SettleDelayMs: 50,
		ListLines:     10,
	}
}

// LoadConfig reads a TOML configuration file. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := DefaultConfig()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return c, nil
}

// LoadDefaultConfig reads DefaultConfigFile if it exists and returns the
// default configuration otherwise.
func LoadDefaultConfig() (*Config, error) {
	c, err := LoadConfig(DefaultConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return c, err
}

// Validate reports every invalid value in the configuration.
func (c *Config) Validate() error {
	var result *multierror.Error
	if _, err := vm.ParseVariant(c.Variant); err != nil {
		result = multierror.Append(result, fmt.Errorf("variant: %w", err))
	}
	if c.SettleDelayMs < 0 || c.SettleDelayMs > 10000 {
		result = multierror.Append(result, fmt.Errorf("settle_delay_ms: %d is outside 0..10000", c.SettleDelayMs))
	}
	if c.ListLines < 1 || c.ListLines > 1000 {
		result = multierror.Append(result, fmt.Errorf("list_lines: %d is outside 1..1000", c.ListLines))
	}
	return result.ErrorOrNil()
}
