// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(src), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
variant = "mini"
write_crc = false
settle_delay_ms = 20
serial = "00123456"
`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, &Config{
		Variant:       "mini",
		WriteCRC:      false,
		SettleDelayMs: 20,
		Serial:        "00123456",
		ListLines:     10,
	}, c)

	s := newSettings(c)
	require.Equal(t, "mini", s.variant().String())
	require.Equal(t, c, s.config())
}

func TestConfigValidation(t *testing.T) {
	path := writeConfig(t, `
variant = "nano"
list_lines = 0
`)

	_, err := LoadConfig(path)
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)
	require.Contains(t, err.Error(), "variant: unknown variant 'nano'")
	require.Contains(t, err.Error(), "list_lines: 0 is outside 1..1000")
}

func TestConfigParseError(t *testing.T) {
	path := writeConfig(t, "variant = \n")
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "parse error")
}

func TestLoadDefaultConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := LoadDefaultConfig()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), c)

	require.NoError(t, os.WriteFile(DefaultConfigFile, []byte("list_lines = 25\n"), 0600))
	c, err = LoadDefaultConfig()
	require.NoError(t, err)
	require.Equal(t, 25, c.ListLines)
}
