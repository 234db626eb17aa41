// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"fmt"

	"github.com/beevik/maestro/vm"
)

// A role identifies what an instruction contributes to the program.
type role byte

const (
	roleOpcode  role = iota // plain opcode with no operand
	roleLiteral             // push of one or more literal values
	roleLabel               // zero-length label definition
	roleGoto                // JUMP or JUMP_Z to a named label
	roleSub                 // zero-length subroutine definition
	roleCall                // call of a subroutine by name
)

var roleName = []string{
	"OPC",
	"LIT",
	"LBL",
	"JMP",
	"SUB",
	"CAL",
}

// An instruction is a single assembled unit of a script. Literal
// instructions have their opcode chosen only once all literal values are
// known, and goto and call instructions have their target address
// filled in only once addresses are assigned.
type instruction struct {
	role     role      // what the instruction contributes
	opcode   vm.Opcode // opcode, once selected
	literals []uint16  // literal values, or the jump/call target address
	name     string    // label, subroutine or call target name
	pos      fstring   // source token that produced the instruction
	addr     int       // address assigned to the instruction
}

// Return the number of bytes the instruction contributes to the
// program image.
func (i *instruction) length() int {
	switch i.role {
	case roleLabel, roleSub:
		return 0
	case roleGoto:
		return 3
	case roleCall:
		if i.opcode == vm.CALL {
			return 3
		}
		return 1
	case roleLiteral:
		switch i.opcode {
		case vm.LITERAL8:
			return 2
		case vm.LITERAL:
			return 3
		case vm.LITERAL8_N:
			return 2 + len(i.literals)
		case vm.LITERAL_N:
			return 2 + 2*len(i.literals)
		default:
			panic("literal encoding not selected")
		}
	default:
		return 1
	}
}

// Return true if every literal value fits in a single byte.
func (i *instruction) literalsFitByte() bool {
	for _, v := range i.literals {
		if v > 0xff {
			return false
		}
	}
	return true
}

// Select the most compact opcode able to encode the instruction's
// literal values.
func (i *instruction) selectLiteralEncoding() {
	small := i.literalsFitByte()
	switch {
	case len(i.literals) == 1 && small:
		i.opcode = vm.LITERAL8
	case len(i.literals) == 1:
		i.opcode = vm.LITERAL
	case small:
		i.opcode = vm.LITERAL8_N
	default:
		i.opcode = vm.LITERAL_N
	}
}

// Append the encoded instruction to the byte slice b.
func (i *instruction) encode(b []byte) []byte {
	switch i.role {
	case roleLabel, roleSub:
		return b
	case roleOpcode:
		return append(b, byte(i.opcode))
	}

	b = append(b, byte(i.opcode))
	switch i.opcode {
	case vm.LITERAL8:
		b = append(b, byte(i.literals[0]))
	case vm.LITERAL, vm.JUMP, vm.JUMP_Z, vm.CALL:
		b = append(b, toBytes(2, int(i.literals[0]))...)
	case vm.LITERAL8_N:
		b = append(b, byte(len(i.literals)))
		for _, v := range i.literals {
			b = append(b, byte(v))
		}
	case vm.LITERAL_N:
		b = append(b, byte(len(i.literals)))
		for _, v := range i.literals {
			b = append(b, toBytes(2, int(v))...)
		}
	}
	return b
}

// Return a short description of the instruction for verbose output.
func (i *instruction) String() string {
	switch i.role {
	case roleLabel, roleSub:
		return fmt.Sprintf("%s %s", roleName[i.role], i.name)
	case roleGoto, roleCall:
		return fmt.Sprintf("%s %s %s", roleName[i.role], i.opcode, i.name)
	case roleLiteral:
		return fmt.Sprintf("%s %s %v", roleName[i.role], i.opcode, i.literals)
	default:
		return fmt.Sprintf("%s %s", roleName[i.role], i.opcode)
	}
}
