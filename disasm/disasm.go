// Copyright 2014 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disasm implements a disassembler for Maestro script
// bytecode.
package disasm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/maestro/vm"
)

// ErrTruncated is returned when an instruction's operand runs past the
// end of the code.
var ErrTruncated = errors.New("instruction truncated")

// A Line is a single disassembled instruction.
type Line struct {
	Address  int       // address of the opcode byte
	Opcode   vm.Opcode // opcode value
	Name     string    // mnemonic of the opcode
	Operands []uint16  // literal values or target address
	Bytes    []byte    // raw bytes of the instruction
}

func (l Line) String() string {
	var b strings.Builder
	b.WriteString(l.Name)
	switch {
	case l.Opcode.IsSlot():
		fmt.Fprintf(&b, " %d", int(l.Opcode-vm.FirstSlot))
	case l.Opcode == vm.JUMP || l.Opcode == vm.JUMP_Z || l.Opcode == vm.CALL:
		fmt.Fprintf(&b, " $%04X", l.Operands[0])
	default:
		for _, v := range l.Operands {
			fmt.Fprintf(&b, " %d", v)
		}
	}
	return b.String()
}

// Return a hexadecimal string representation of the byte slice.
func hexString(b []byte) string {
	var s strings.Builder
	for i, v := range b {
		if i > 0 {
			s.WriteByte(' ')
		}
		fmt.Fprintf(&s, "%02X", v)
	}
	return s.String()
}

// Format returns the line as it would appear in a listing: address,
// raw bytes and the disassembled instruction.
func (l Line) Format() string {
	return fmt.Sprintf("%04X- %-20s %s", l.Address, hexString(l.Bytes), l.String())
}

// Disassemble the instruction at address 'addr' of the code. Return a
// 'line' describing the disassembled instruction and a 'next' address
// that starts the following instruction.
func Disassemble(code []byte, addr int, set *vm.InstructionSet) (line Line, next int, err error) {
	if addr < 0 || addr >= len(code) {
		return Line{}, addr, ErrTruncated
	}

	inst := set.Lookup(code[addr])
	line = Line{Address: addr, Opcode: inst.Opcode, Name: inst.Name}
	pos := addr + 1

	take := func(n int) ([]byte, bool) {
		if pos+n > len(code) {
			return nil, false
		}
		b := code[pos : pos+n]
		pos += n
		return b, true
	}

	var ok bool
	switch inst.Operand {
	case vm.None:
		ok = true
	case vm.Byte:
		var b []byte
		if b, ok = take(1); ok {
			line.Operands = []uint16{uint16(b[0])}
		}
	case vm.Word:
		var b []byte
		if b, ok = take(2); ok {
			line.Operands = []uint16{uint16(b[0]) | uint16(b[1])<<8}
		}
	case vm.ByteArray, vm.WordArray:
		var n []byte
		if n, ok = take(1); !ok {
			break
		}
		width := 1
		if inst.Operand == vm.WordArray {
			width = 2
		}
		var b []byte
		if b, ok = take(int(n[0]) * width); ok {
			for i := 0; i < len(b); i += width {
				v := uint16(b[i])
				if width == 2 {
					v |= uint16(b[i+1]) << 8
				}
				line.Operands = append(line.Operands, v)
			}
		}
	}

	if !ok {
		return Line{}, addr, fmt.Errorf("%w at $%04X", ErrTruncated, addr)
	}

	line.Bytes = code[addr:pos]
	return line, pos, nil
}

// DisassembleAll disassembles every instruction in the code.
func DisassembleAll(code []byte, set *vm.InstructionSet) ([]Line, error) {
	var lines []Line
	for addr := 0; addr < len(code); {
		l, next, err := Disassemble(code, addr, set)
		if err != nil {
			return lines, err
		}
		lines = append(lines, l)
		addr = next
	}
	return lines, nil
}
