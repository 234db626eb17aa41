// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import "sort"

// A Debugger intercepts program counter updates on a simulated machine
// and stops execution when a breakpoint is reached.
type Debugger struct {
	handler     BreakpointHandler
	breakpoints map[uint16]*Breakpoint
}

// The BreakpointHandler interface should be implemented by any object that
// wishes to receive debugger breakpoint notifications.
type BreakpointHandler interface {
	OnBreakpoint(m *Machine, b *Breakpoint)
}

// A Breakpoint represents a script address that will cause the debugger
// to stop execution when the program counter reaches it.
type Breakpoint struct {
	Address  uint16 // address of execution breakpoint
	Disabled bool   // this breakpoint is currently disabled
}

// NewDebugger creates a new machine debugger. The handler may be nil.
func NewDebugger(handler BreakpointHandler) *Debugger {
	return &Debugger{
		handler:     handler,
		breakpoints: make(map[uint16]*Breakpoint),
	}
}

// GetBreakpoint looks up a breakpoint by address and returns it if found.
// Otherwise it returns nil.
func (d *Debugger) GetBreakpoint(addr uint16) *Breakpoint {
	return d.breakpoints[addr]
}

// GetBreakpoints returns all breakpoints sorted by address.
func (d *Debugger) GetBreakpoints() []*Breakpoint {
	var breakpoints []*Breakpoint
	for _, b := range d.breakpoints {
		breakpoints = append(breakpoints, b)
	}
	sort.Slice(breakpoints, func(i, j int) bool {
		return breakpoints[i].Address < breakpoints[j].Address
	})
	return breakpoints
}

// AddBreakpoint adds a breakpoint at the address, replacing any
// breakpoint already set there.
func (d *Debugger) AddBreakpoint(addr uint16) *Breakpoint {
	b := &Breakpoint{Address: addr}
	d.breakpoints[addr] = b
	return b
}

// RemoveBreakpoint removes a breakpoint from the debugger.
func (d *Debugger) RemoveBreakpoint(addr uint16) {
	delete(d.breakpoints, addr)
}

// Report whether execution should stop at the new program counter.
func (d *Debugger) onUpdatePC(m *Machine, addr uint16) bool {
	b, ok := d.breakpoints[addr]
	if !ok || b.Disabled {
		return false
	}
	if d.handler != nil {
		d.handler.OnBreakpoint(m, b)
	}
	return true
}
