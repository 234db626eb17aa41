// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vm describes the virtual machine that runs scripts on Pololu
// Maestro servo controllers: its opcode numbering, the instruction set
// available on each controller variant, and the capacity limits of each
// variant.
package vm

import (
	"fmt"
	"strings"
)

// A Variant identifies a family of Maestro controllers sharing the same
// script capabilities.
type Variant byte

// Supported controller variants.
const (
	Micro Variant = iota // Micro Maestro 6
	Mini                 // Mini Maestro 12, 18 and 24
)

type variantData struct {
	name           string
	maxScript      int
	maxSubroutines int
	tableBlock     int
	stackDepth     int
}

var variants = [2]variantData{
	{name: "micro", maxScript: 1024, maxSubroutines: 128, tableBlock: 64, stackDepth: 32},
	{name: "mini", maxScript: 8192, maxSubroutines: 255, tableBlock: 512, stackDepth: 126},
}

// ParseVariant converts a variant name ("micro" or "mini") into a Variant.
func ParseVariant(s string) (Variant, error) {
	for i, v := range variants {
		if strings.EqualFold(s, v.name) {
			return Variant(i), nil
		}
	}
	return Micro, fmt.Errorf("unknown variant '%s'", s)
}

func (v Variant) String() string {
	if int(v) < len(variants) {
		return variants[v].name
	}
	return fmt.Sprintf("variant(%d)", byte(v))
}

// Extended returns true if the variant supports the extended opcodes
// (PWM, PEEK, POKE, SERIAL_SEND_BYTE) and the generic CALL opcode.
func (v Variant) Extended() bool {
	return v == Mini
}

// MaxScriptBytes returns the size of the variant's script memory.
func (v Variant) MaxScriptBytes() int {
	return variants[v].maxScript
}

// MaxSubroutines returns the maximum number of subroutines a script may
// declare on the variant.
func (v Variant) MaxSubroutines() int {
	return variants[v].maxSubroutines
}

// SubroutineTableBlock returns the index of the 16-byte script memory
// block at which the subroutine jump table is stored.
func (v Variant) SubroutineTableBlock() int {
	return variants[v].tableBlock
}

// StackDepth returns the maximum number of values a single run of
// literal pushes may place on the script stack.
func (v Variant) StackDepth() int {
	return variants[v].stackDepth
}
