// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import "strings"

// An Opcode is the first byte of every instruction executed by the
// script virtual machine.
type Opcode byte

// All opcodes understood by the script virtual machine. Opcode values
// from FirstSlot through 255 call one of the subroutines stored in the
// subroutine jump table.
const (
	QUIT Opcode = iota
	LITERAL
	LITERAL8
	LITERAL_N
	LITERAL8_N
	RETURN
	JUMP
	JUMP_Z
	DELAY
	GET_MS
	DEPTH
	DROP
	DUP
	OVER
	PICK
	SWAP
	ROT
	ROLL
	BITWISE_NOT
	BITWISE_AND
	BITWISE_OR
	BITWISE_XOR
	SHIFT_RIGHT
	SHIFT_LEFT
	LOGICAL_NOT
	LOGICAL_AND
	LOGICAL_OR
	NEGATE
	PLUS
	MINUS
	TIMES
	DIVIDE
	MOD
	POSITIVE
	NEGATIVE
	NONZERO
	EQUALS
	NOT_EQUALS
	MIN
	MAX
	LESS_THAN
	GREATER_THAN
	SERVO
	SERVO_8BIT
	SPEED
	ACCELERATION
	GET_POSITION
	GET_MOVING_STATE
	LED_ON
	LED_OFF
	PWM
	PEEK
	POKE
	SERIAL_SEND_BYTE
	CALL

	numOpcodes = int(CALL) + 1
)

// FirstSlot is the opcode of the first subroutine slot. Each of the
// first NumSlots declared subroutines is called through its own
// single-byte opcode.
const (
	FirstSlot Opcode = 128
	NumSlots         = 256 - int(FirstSlot)
)

// IsSlot returns true if the opcode calls a subroutine through the
// subroutine jump table.
func (o Opcode) IsSlot() bool {
	return o >= FirstSlot
}

// Operand describes the operand bytes that follow an opcode.
type Operand byte

// All operand encodings.
const (
	None      Operand = iota // no operand
	Byte                     // one 8-bit value
	Word                     // one little-endian 16-bit value
	ByteArray                // count byte followed by count 8-bit values
	WordArray                // count byte followed by count 16-bit values
)

type opcodeData struct {
	op       Opcode
	name     string
	operand  Operand
	hidden   bool // reachable only through literals, blocks, GOTO or calls
	extended bool // requires the extended (Mini) instruction set
}

var data = []opcodeData{
	{QUIT, "quit", None, false, false},
	{LITERAL, "literal", Word, true, false},
	{LITERAL8, "literal8", Byte, true, false},
	{LITERAL_N, "literal_n", WordArray, true, false},
	{LITERAL8_N, "literal8_n", ByteArray, true, false},
	{RETURN, "return", None, false, false},
	{JUMP, "jump", Word, true, false},
	{JUMP_Z, "jump_z", Word, true, false},
	{DELAY, "delay", None, false, false},
	{GET_MS, "get_ms", None, false, false},
	{DEPTH, "depth", None, false, false},
	{DROP, "drop", None, false, false},
	{DUP, "dup", None, false, false},
	{OVER, "over", None, false, false},
	{PICK, "pick", None, false, false},
	{SWAP, "swap", None, false, false},
	{ROT, "rot", None, false, false},
	{ROLL, "roll", None, false, false},
	{BITWISE_NOT, "bitwise_not", None, false, false},
	{BITWISE_AND, "bitwise_and", None, false, false},
	{BITWISE_OR, "bitwise_or", None, false, false},
	{BITWISE_XOR, "bitwise_xor", None, false, false},
	{SHIFT_RIGHT, "shift_right", None, false, false},
	{SHIFT_LEFT, "shift_left", None, false, false},
	{LOGICAL_NOT, "logical_not", None, false, false},
	{LOGICAL_AND, "logical_and", None, false, false},
	{LOGICAL_OR, "logical_or", None, false, false},
	{NEGATE, "negate", None, false, false},
	{PLUS, "plus", None, false, false},
	{MINUS, "minus", None, false, false},
	{TIMES, "times", None, false, false},
	{DIVIDE, "divide", None, false, false},
	{MOD, "mod", None, false, false},
	{POSITIVE, "positive", None, false, false},
	{NEGATIVE, "negative", None, false, false},
	{NONZERO, "nonzero", None, false, false},
	{EQUALS, "equals", None, false, false},
	{NOT_EQUALS, "not_equals", None, false, false},
	{MIN, "min", None, false, false},
	{MAX, "max", None, false, false},
	{LESS_THAN, "less_than", None, false, false},
	{GREATER_THAN, "greater_than", None, false, false},
	{SERVO, "servo", None, false, false},
	{SERVO_8BIT, "servo_8bit", None, false, false},
	{SPEED, "speed", None, false, false},
	{ACCELERATION, "acceleration", None, false, false},
	{GET_POSITION, "get_position", None, false, false},
	{GET_MOVING_STATE, "get_moving_state", None, false, false},
	{LED_ON, "led_on", None, false, false},
	{LED_OFF, "led_off", None, false, false},
	{PWM, "pwm", None, false, true},
	{PEEK, "peek", None, false, true},
	{POKE, "poke", None, false, true},
	{SERIAL_SEND_BYTE, "serial_send_byte", None, false, true},
	{CALL, "call", Word, true, true},
}

func (o Opcode) String() string {
	switch {
	case o.IsSlot():
		return "call_slot"
	case int(o) < numOpcodes:
		return data[o].name
	default:
		return "???"
	}
}

// An Instruction describes one opcode of the script virtual machine.
type Instruction struct {
	Name     string  // lower-case mnemonic of the opcode
	Opcode   Opcode  // opcode value
	Operand  Operand // encoding of the bytes following the opcode
	Hidden   bool    // not writable directly in script source
	Extended bool    // available only on extended variants
	Valid    bool    // opcode is implemented on the instruction set's variant
}

// An InstructionSet defines the set of all instructions that can run on
// one controller variant.
type InstructionSet struct {
	Variant      Variant
	instructions [256]Instruction        // all instructions by opcode
	names        map[string]*Instruction // instructions by upper-case name
}

// Lookup retrieves the instruction corresponding to the requested opcode.
// Subroutine slot opcodes return an instruction named "call_slot".
func (s *InstructionSet) Lookup(opcode byte) *Instruction {
	return &s.instructions[opcode]
}

// Find returns the instruction whose mnemonic matches the provided
// string, ignoring case. It returns nil if no such instruction exists.
// Instructions not implemented on the variant are still returned, with
// Valid set to false.
func (s *InstructionSet) Find(name string) *Instruction {
	return s.names[strings.ToUpper(name)]
}

// Create an instruction set for a controller variant.
func newInstructionSet(v Variant) *InstructionSet {
	set := &InstructionSet{
		Variant: v,
		names:   make(map[string]*Instruction, len(data)),
	}

	for i := range set.instructions {
		set.instructions[i] = Instruction{Name: "???", Opcode: Opcode(i)}
	}

	for _, d := range data {
		inst := &set.instructions[d.op]
		inst.Name = d.name
		inst.Operand = d.operand
		inst.Hidden = d.hidden
		inst.Extended = d.extended
		inst.Valid = !d.extended || v.Extended()
		set.names[strings.ToUpper(d.name)] = inst
	}

	for i := int(FirstSlot); i < 256; i++ {
		inst := &set.instructions[i]
		inst.Name = "call_slot"
		inst.Hidden = true
		inst.Valid = true
	}

	return set
}

var instructionSets [2]*InstructionSet

func init() {
	for i := range instructionSets {
		instructionSets[i] = newInstructionSet(Variant(i))
	}
}

// GetInstructionSet returns the instruction set for the requested
// controller variant.
func GetInstructionSet(v Variant) *InstructionSet {
	return instructionSets[v]
}
