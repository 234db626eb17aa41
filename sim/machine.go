// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim implements a simulator for the Maestro script virtual
// machine. It runs compiled programs without a controller attached and
// records the servo, LED and serial effects the script would produce.
package sim

import (
	"errors"
	"fmt"

	"github.com/beevik/maestro/asm"
	"github.com/beevik/maestro/disasm"
	"github.com/beevik/maestro/vm"
)

// CallStackDepth is the number of nested subroutine calls the script
// virtual machine supports.
const CallStackDepth = 10

// Errors
var (
	ErrVariantMismatch = errors.New("program requires the extended instruction set")
	ErrScriptTooLong   = errors.New("program does not fit in script memory")
)

// Servo holds the simulated state of a single servo channel. Positions
// are in quarter-microseconds. Movement is instantaneous, so Position
// always equals Target once a target has been set.
type Servo struct {
	Target       uint16
	Position     uint16
	Speed        uint16
	Acceleration uint16
}

// PWM holds the most recent pulse width modulation request.
type PWM struct {
	OnTime uint16
	Period uint16
}

// A Machine is a simulated script virtual machine for one controller
// variant.
type Machine struct {
	Variant   vm.Variant    // controller variant being simulated
	PC        uint16        // program counter
	LastPC    uint16        // address of the most recently executed instruction
	Stack     []int16       // data stack, bottom first
	CallStack []uint16      // return addresses, innermost last
	Millis    uint32        // simulated milliseconds since reset
	Steps     uint64        // total executed instructions
	Servos    []Servo       // one entry per servo channel
	LED       bool          // state of the red user LED
	PWM       PWM           // last PWM request (Mini only)
	Serial    []byte        // bytes sent with SERIAL_SEND_BYTE
	Errors    vm.ErrorFlags // script errors that halted the machine
	Done      bool          // the script executed QUIT

	set      *vm.InstructionSet
	mem      []byte
	table    []byte
	debugger *Debugger
}

// New creates a simulated machine for the variant. Its script memory is
// erased, so the machine faults immediately unless a program is loaded.
func New(v vm.Variant) *Machine {
	m := &Machine{
		Variant: v,
		set:     vm.GetInstructionSet(v),
		mem:     make([]byte, v.MaxScriptBytes()),
		table:   make([]byte, 2*vm.NumSlots),
		Servos:  make([]Servo, numChannels(v)),
	}
	fill(m.mem, 0xff)
	fill(m.table, 0xff)
	m.Reset()
	return m
}

func numChannels(v vm.Variant) int {
	if v.Extended() {
		return 24
	}
	return 6
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Load copies a compiled program into the machine's script memory and
// resets the machine.
func (m *Machine) Load(p *asm.Program) error {
	if p.Variant().Extended() && !m.Variant.Extended() {
		return ErrVariantMismatch
	}
	code := p.Code()
	if len(code) >= len(m.mem) {
		return fmt.Errorf("%w (%d bytes, limit %d)", ErrScriptTooLong, len(code), len(m.mem)-1)
	}

	fill(m.mem, 0xff)
	copy(m.mem, p.Image(m.Variant))
	copy(m.table, p.SubroutineTable())
	m.Reset()
	return nil
}

// Reset returns the machine to its power-up state without erasing the
// loaded program.
func (m *Machine) Reset() {
	m.PC, m.LastPC = 0, 0
	m.Stack = m.Stack[:0]
	m.CallStack = m.CallStack[:0]
	m.Millis = 0
	m.Steps = 0
	for i := range m.Servos {
		m.Servos[i] = Servo{}
	}
	m.LED = false
	m.PWM = PWM{}
	m.Serial = nil
	m.Errors = 0
	m.Done = false
}

// Halted returns true if the machine has stopped, either because the
// script executed QUIT or because an error occurred.
func (m *Machine) Halted() bool {
	return m.Done || m.Errors != 0
}

// Disassemble returns the instruction stored at the address.
func (m *Machine) Disassemble(addr uint16) (disasm.Line, error) {
	l, _, err := disasm.Disassemble(m.mem, int(addr), m.set)
	return l, err
}

// AttachDebugger attaches a debugger to the machine. The debugger is
// notified whenever the program counter changes.
func (m *Machine) AttachDebugger(d *Debugger) {
	m.debugger = d
}

// DetachDebugger detaches the currently attached debugger.
func (m *Machine) DetachDebugger() {
	m.debugger = nil
}

// Run steps the machine until it halts, a breakpoint is hit or 'limit'
// instructions have executed. It returns the number of instructions
// executed.
func (m *Machine) Run(limit int) int {
	n := 0
	for n < limit && !m.Halted() {
		m.Step()
		n++
		if m.debugger != nil && m.debugger.onUpdatePC(m, m.PC) {
			break
		}
	}
	return n
}

// Step the machine by one instruction. A halted machine does not step.
func (m *Machine) Step() {
	if m.Halted() {
		return
	}

	line, next, err := disasm.Disassemble(m.mem, int(m.PC), m.set)
	if err != nil || !m.set.Lookup(byte(line.Opcode)).Valid {
		m.fault(vm.FlagScriptProgramCounter)
		return
	}

	m.LastPC = m.PC
	m.PC = uint16(next)
	m.Steps++
	m.execute(line)
	if m.Errors != 0 {
		m.PC = m.LastPC
	}
}

func (m *Machine) fault(f vm.ErrorFlags) {
	m.Errors |= f
}

func (m *Machine) push(v int16) {
	if m.Errors != 0 {
		return
	}
	if len(m.Stack) >= m.Variant.StackDepth() {
		m.fault(vm.FlagScriptStack)
		return
	}
	m.Stack = append(m.Stack, v)
}

func (m *Machine) pushBool(b bool) {
	if b {
		m.push(1)
	} else {
		m.push(0)
	}
}

func (m *Machine) pop() int16 {
	n := len(m.Stack)
	if n == 0 {
		m.fault(vm.FlagScriptStack)
		return 0
	}
	v := m.Stack[n-1]
	m.Stack = m.Stack[:n-1]
	return v
}

// Pop two values, returning them in the order they were pushed.
func (m *Machine) pop2() (a, b int16) {
	b = m.pop()
	a = m.pop()
	return a, b
}

func (m *Machine) call(addr uint16) {
	if len(m.CallStack) >= CallStackDepth {
		m.fault(vm.FlagScriptCallStack)
		return
	}
	m.CallStack = append(m.CallStack, m.PC)
	m.PC = addr
}

func (m *Machine) servo(ch int16) *Servo {
	if ch < 0 || int(ch) >= len(m.Servos) {
		return nil
	}
	return &m.Servos[ch]
}

func shiftCount(n int16) uint {
	switch {
	case n < 0:
		return 0
	case n > 16:
		return 16
	default:
		return uint(n)
	}
}

func (m *Machine) execute(l disasm.Line) {
	if l.Opcode.IsSlot() {
		slot := int(l.Opcode - vm.FirstSlot)
		addr := uint16(m.table[2*slot]) | uint16(m.table[2*slot+1])<<8
		if addr == 0xffff {
			m.fault(vm.FlagScriptProgramCounter)
			return
		}
		m.call(addr)
		return
	}

	switch l.Opcode {
	case vm.QUIT:
		m.Done = true
		m.PC = m.LastPC

	case vm.LITERAL, vm.LITERAL8, vm.LITERAL_N, vm.LITERAL8_N:
		for _, v := range l.Operands {
			m.push(int16(v))
		}

	case vm.RETURN:
		n := len(m.CallStack)
		if n == 0 {
			m.fault(vm.FlagScriptCallStack)
			return
		}
		m.PC = m.CallStack[n-1]
		m.CallStack = m.CallStack[:n-1]

	case vm.JUMP:
		m.PC = l.Operands[0]

	case vm.JUMP_Z:
		if m.pop() == 0 {
			m.PC = l.Operands[0]
		}

	case vm.CALL:
		m.call(l.Operands[0])

	case vm.DELAY:
		m.Millis += uint32(uint16(m.pop()))

	case vm.GET_MS:
		m.push(int16(uint16(m.Millis)))

	case vm.DEPTH:
		m.push(int16(len(m.Stack)))

	case vm.DROP:
		m.pop()

	case vm.DUP:
		v := m.pop()
		m.push(v)
		m.push(v)

	case vm.OVER:
		a, b := m.pop2()
		m.push(a)
		m.push(b)
		m.push(a)

	case vm.PICK:
		n := int(m.pop())
		i := len(m.Stack) - 1 - n
		if n < 0 || i < 0 {
			m.fault(vm.FlagScriptStack)
			return
		}
		m.push(m.Stack[i])

	case vm.SWAP:
		a, b := m.pop2()
		m.push(b)
		m.push(a)

	case vm.ROT:
		c := m.pop()
		a, b := m.pop2()
		m.push(b)
		m.push(c)
		m.push(a)

	case vm.ROLL:
		n := int(m.pop())
		i := len(m.Stack) - 1 - n
		if n < 0 || i < 0 {
			m.fault(vm.FlagScriptStack)
			return
		}
		v := m.Stack[i]
		copy(m.Stack[i:], m.Stack[i+1:])
		m.Stack[len(m.Stack)-1] = v

	case vm.BITWISE_NOT:
		m.push(^m.pop())
	case vm.BITWISE_AND:
		a, b := m.pop2()
		m.push(a & b)
	case vm.BITWISE_OR:
		a, b := m.pop2()
		m.push(a | b)
	case vm.BITWISE_XOR:
		a, b := m.pop2()
		m.push(a ^ b)
	case vm.SHIFT_RIGHT:
		a, b := m.pop2()
		m.push(a >> shiftCount(b))
	case vm.SHIFT_LEFT:
		a, b := m.pop2()
		m.push(a << shiftCount(b))

	case vm.LOGICAL_NOT:
		m.pushBool(m.pop() == 0)
	case vm.LOGICAL_AND:
		a, b := m.pop2()
		m.pushBool(a != 0 && b != 0)
	case vm.LOGICAL_OR:
		a, b := m.pop2()
		m.pushBool(a != 0 || b != 0)

	case vm.NEGATE:
		m.push(-m.pop())
	case vm.PLUS:
		a, b := m.pop2()
		m.push(a + b)
	case vm.MINUS:
		a, b := m.pop2()
		m.push(a - b)
	case vm.TIMES:
		a, b := m.pop2()
		m.push(a * b)
	case vm.DIVIDE:
		a, b := m.pop2()
		if b == 0 {
			m.push(0)
		} else {
			m.push(a / b)
		}
	case vm.MOD:
		a, b := m.pop2()
		if b == 0 {
			m.push(0)
		} else {
			m.push(a % b)
		}

	case vm.POSITIVE:
		m.pushBool(m.pop() > 0)
	case vm.NEGATIVE:
		m.pushBool(m.pop() < 0)
	case vm.NONZERO:
		m.pushBool(m.pop() != 0)
	case vm.EQUALS:
		a, b := m.pop2()
		m.pushBool(a == b)
	case vm.NOT_EQUALS:
		a, b := m.pop2()
		m.pushBool(a != b)
	case vm.MIN:
		a, b := m.pop2()
		m.push(min(a, b))
	case vm.MAX:
		a, b := m.pop2()
		m.push(max(a, b))
	case vm.LESS_THAN:
		a, b := m.pop2()
		m.pushBool(a < b)
	case vm.GREATER_THAN:
		a, b := m.pop2()
		m.pushBool(a > b)

	case vm.SERVO, vm.SERVO_8BIT:
		v, ch := m.pop2()
		target := uint16(v)
		if l.Opcode == vm.SERVO_8BIT {
			target = uint16(4000 + int(uint8(v))*4000/254)
		}
		if s := m.servo(ch); s != nil {
			s.Target, s.Position = target, target
		}
	case vm.SPEED:
		v, ch := m.pop2()
		if s := m.servo(ch); s != nil {
			s.Speed = uint16(v)
		}
	case vm.ACCELERATION:
		v, ch := m.pop2()
		if s := m.servo(ch); s != nil {
			s.Acceleration = uint16(v)
		}
	case vm.GET_POSITION:
		var pos uint16
		if s := m.servo(m.pop()); s != nil {
			pos = s.Position
		}
		m.push(int16(pos))
	case vm.GET_MOVING_STATE:
		m.push(0)

	case vm.LED_ON:
		m.LED = true
	case vm.LED_OFF:
		m.LED = false

	case vm.PWM:
		on, period := m.pop2()
		m.PWM = PWM{OnTime: uint16(on), Period: uint16(period)}

	case vm.PEEK:
		i := int(m.pop())
		if i < 0 || i >= len(m.Stack) {
			m.fault(vm.FlagScriptStack)
			return
		}
		m.push(m.Stack[i])
	case vm.POKE:
		v, i := m.pop2()
		if i < 0 || int(i) >= len(m.Stack) {
			m.fault(vm.FlagScriptStack)
			return
		}
		m.Stack[i] = v

	case vm.SERIAL_SEND_BYTE:
		m.Serial = append(m.Serial, byte(m.pop()))
	}
}
