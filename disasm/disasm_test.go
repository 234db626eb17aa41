// Copyright 2014 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package disasm

import (
	"io"
	"strings"
	"testing"

	"github.com/beevik/maestro/asm"
	"github.com/beevik/maestro/vm"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	src := "1 2 servo 300 speed 4 5 600 acceleration\n" +
		"get_ms drop 7 get_position dup plus 0x1234 swap"

	p, err := asm.Compile(strings.NewReader(src), "test", vm.Micro, io.Discard, 0)
	require.NoError(t, err)

	lines, err := DisassembleAll(p.Code(), vm.GetInstructionSet(vm.Micro))
	require.NoError(t, err)

	type op struct {
		name     string
		operands []uint16
	}
	var got []op
	for _, l := range lines {
		got = append(got, op{l.Name, l.Operands})
	}

	require.Equal(t, []op{
		{"literal8_n", []uint16{1, 2}},
		{"servo", nil},
		{"literal", []uint16{300}},
		{"speed", nil},
		{"literal_n", []uint16{4, 5, 600}},
		{"acceleration", nil},
		{"get_ms", nil},
		{"drop", nil},
		{"literal8", []uint16{7}},
		{"get_position", nil},
		{"dup", nil},
		{"plus", nil},
		{"literal", []uint16{0x1234}},
		{"swap", nil},
	}, got)
}

func TestControlFlow(t *testing.T) {
	src := "sub wait 100 delay return\nbegin wait 1 while repeat"
	p, err := asm.Compile(strings.NewReader(src), "test", vm.Mini, io.Discard, 0)
	require.NoError(t, err)

	lines, err := DisassembleAll(p.ByteList(), vm.GetInstructionSet(vm.Mini))
	require.NoError(t, err)

	var text []string
	for _, l := range lines {
		text = append(text, l.String())
	}
	require.Equal(t, []string{
		"literal8 100",
		"delay",
		"return",
		"call_slot 0",
		"literal8 1",
		"jump_z $000D",
		"jump $0004",
		"quit",
	}, text)

	require.Equal(t, "0004- 80                   call_slot 0", lines[3].Format())
}

func TestTruncated(t *testing.T) {
	set := vm.GetInstructionSet(vm.Micro)
	for _, code := range [][]byte{
		{byte(vm.LITERAL8)},
		{byte(vm.LITERAL), 0x01},
		{byte(vm.LITERAL_N), 2, 0x01, 0x00, 0x02},
		{byte(vm.LITERAL8_N)},
		{byte(vm.JUMP_Z), 0x00},
	} {
		_, err := DisassembleAll(code, set)
		require.ErrorIs(t, err, ErrTruncated)
	}
}
