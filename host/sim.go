// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/cmd"
	"github.com/beevik/maestro/sim"
)

// Maximum number of instructions a single "sim run" executes.
const runLimit = 1000000

// OnBreakpoint is called when the simulator stops at a breakpoint.
func (h *Host) OnBreakpoint(m *sim.Machine, b *sim.Breakpoint) {
	h.printf("Breakpoint hit at $%04X%s.\n", b.Address, h.sourceAt(int(b.Address)))
}

func (h *Host) resetMachine() *sim.Machine {
	p := h.requireProgram()
	if p == nil {
		return nil
	}

	m := sim.New(p.Variant())
	if err := m.Load(p); err != nil {
		h.errorf("%v\n", err)
		return nil
	}
	m.AttachDebugger(h.debugger)
	h.machine = m
	return m
}

func (h *Host) requireMachine() *sim.Machine {
	if h.machine != nil {
		return h.machine
	}
	return h.resetMachine()
}

func (h *Host) cmdSimReset(c cmd.Selection) error {
	if h.resetMachine() != nil {
		h.println("Simulator reset.")
	}
	return nil
}

func (h *Host) cmdSimStep(c cmd.Selection) error {
	m := h.requireMachine()
	if m == nil {
		return nil
	}

	count := 1
	if len(c.Args) > 0 {
		n, err := parseNumber(c.Args[0])
		if err != nil || n < 1 {
			h.displayUsage(c)
			return nil
		}
		count = n
	}

	for i := 0; i < count && !m.Halted(); i++ {
		m.Step()
	}
	h.displayHalt(m, 0)
	h.displayNext(m)
	return nil
}

func (h *Host) cmdSimRun(c cmd.Selection) error {
	m := h.requireMachine()
	if m == nil {
		return nil
	}

	limit := runLimit
	if len(c.Args) > 0 {
		n, err := parseNumber(c.Args[0])
		if err != nil || n < 1 {
			h.displayUsage(c)
			return nil
		}
		limit = n
	}

	n := m.Run(limit)
	if !h.displayHalt(m, n) && n == limit {
		h.printf("Stopped after %d instructions.\n", n)
	}
	return nil
}

// Display the reason the machine halted. Return false if it is still
// runnable.
func (h *Host) displayHalt(m *sim.Machine, n int) bool {
	switch {
	case m.Errors != 0:
		h.errorf("Script halted at $%04X%s: %s.\n", m.PC, h.sourceAt(int(m.PC)), m.Errors)
	case m.Done && n > 0:
		h.printf("Script done after %d instructions.\n", n)
	case m.Done:
		h.println("Script done.")
	default:
		return false
	}
	return true
}

func (h *Host) displayNext(m *sim.Machine) {
	if m.Errors != 0 {
		return
	}
	l, err := m.Disassemble(m.PC)
	if err != nil {
		h.errorf("%v\n", err)
		return
	}
	h.printf("%-40s stack: %s\n", l.Format(), stackString(m.Stack))
}

func stackString(stack []int16) string {
	if len(stack) == 0 {
		return "-"
	}
	var b strings.Builder
	for i, v := range stack {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
	return b.String()
}

func (h *Host) cmdSimState(c cmd.Selection) error {
	m := h.requireMachine()
	if m == nil {
		return nil
	}

	calls := make([]string, len(m.CallStack))
	for i, a := range m.CallStack {
		calls[i] = fmt.Sprintf("$%04X", a)
	}
	if len(calls) == 0 {
		calls = []string{"-"}
	}

	led := "off"
	if m.LED {
		led = "on"
	}

	h.printf("PC:          $%04X%s\n", m.PC, h.sourceAt(int(m.PC)))
	h.printf("Stack:       %s\n", stackString(m.Stack))
	h.printf("Call stack:  %s\n", strings.Join(calls, " "))
	h.printf("Millis:      %d\n", m.Millis)
	h.printf("Steps:       %d\n", m.Steps)
	h.printf("Errors:      %s\n", m.Errors)
	h.printf("Done:        %v\n", m.Done)
	h.printf("LED:         %s\n", led)
	for i, s := range m.Servos {
		if s != (sim.Servo{}) {
			h.printf("Servo %-2d     target=%d speed=%d accel=%d\n", i, s.Target, s.Speed, s.Acceleration)
		}
	}
	if len(m.Serial) > 0 {
		h.printf("Serial:      % X\n", m.Serial)
	}
	return nil
}

func (h *Host) cmdBreakpointAdd(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	addr, err := parseNumber(c.Args[0])
	if err != nil || addr < 0 || addr > 0xffff {
		h.errorf("Invalid address '%s'.\n", c.Args[0])
		return nil
	}

	h.debugger.AddBreakpoint(uint16(addr))
	h.printf("Breakpoint added at $%04X%s.\n", addr, h.sourceAt(addr))
	return nil
}

func (h *Host) cmdBreakpointRemove(c cmd.Selection) error {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return nil
	}

	addr, err := parseNumber(c.Args[0])
	if err != nil || h.debugger.GetBreakpoint(uint16(addr)) == nil {
		h.errorf("No breakpoint at '%s'.\n", c.Args[0])
		return nil
	}

	h.debugger.RemoveBreakpoint(uint16(addr))
	h.printf("Breakpoint at $%04X removed.\n", addr)
	return nil
}

func (h *Host) cmdBreakpointToggle(c cmd.Selection, disabled bool) {
	if len(c.Args) < 1 {
		h.displayUsage(c)
		return
	}

	addr, err := parseNumber(c.Args[0])
	if err != nil {
		h.errorf("No breakpoint at '%s'.\n", c.Args[0])
		return
	}
	b := h.debugger.GetBreakpoint(uint16(addr))
	if b == nil {
		h.errorf("No breakpoint at '%s'.\n", c.Args[0])
		return
	}

	b.Disabled = disabled
	state := "enabled"
	if disabled {
		state = "disabled"
	}
	h.printf("Breakpoint at $%04X %s.\n", addr, state)
}

func (h *Host) cmdBreakpointEnable(c cmd.Selection) error {
	h.cmdBreakpointToggle(c, false)
	return nil
}

func (h *Host) cmdBreakpointDisable(c cmd.Selection) error {
	h.cmdBreakpointToggle(c, true)
	return nil
}

func (h *Host) cmdBreakpointList(c cmd.Selection) error {
	bps := h.debugger.GetBreakpoints()
	if len(bps) == 0 {
		h.println("No breakpoints set.")
		return nil
	}

	h.println("Breakpoints:")
	for _, b := range bps {
		var disabled string
		if b.Disabled {
			disabled = " (disabled)"
		}
		h.printf("   $%04X%s%s\n", b.Address, h.sourceAt(int(b.Address)), disabled)
	}
	return nil
}
