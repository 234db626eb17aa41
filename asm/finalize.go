// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import "github.com/beevik/maestro/vm"

// Choose the encoding of every literal instruction. Encodings change
// instruction lengths, so this must run before addresses are assigned.
func (u *Unresolved) selectLiteralEncodings() error {
	u.logSection("Selecting literal encodings")
	for _, inst := range u.insts {
		if inst.role == roleLiteral {
			inst.selectLiteralEncoding()
			u.logLine(inst.pos, "%s Len:%d", inst.opcode, inst.length())
		}
	}
	return nil
}

// Assign a call opcode to every subroutine in declaration order. The
// first subroutines receive dedicated slot opcodes; the rest share the
// generic CALL opcode.
func (u *Unresolved) allocateSubroutines() error {
	u.logSection("Allocating subroutines")

	limit := u.variant.MaxSubroutines()
	if len(u.subs) > limit {
		return u.newError(u.subs[limit].pos, "too many subroutines; the %s Maestro supports at most %d", u.variant, limit)
	}

	u.subOps = make(map[string]vm.Opcode, len(u.subs))
	for i, sub := range u.subs {
		if _, found := u.subOps[sub.name]; found {
			return u.newError(sub.pos, "subroutine '%s' defined more than once", sub.name)
		}

		op := vm.CALL
		if i < vm.NumSlots {
			op = vm.FirstSlot + vm.Opcode(i)
		}
		sub.opcode = op
		u.subOps[sub.name] = op
		u.log("%-20s Op:%d", sub.name, op)
	}
	return nil
}

// Resolve every call-by-name to the opcode of its subroutine. Calls may
// appear before the subroutine they name.
func (u *Unresolved) resolveCalls() error {
	u.logSection("Resolving calls")
	for _, inst := range u.insts {
		if inst.role != roleCall {
			continue
		}
		op, ok := u.subOps[inst.name]
		if !ok {
			return u.newError(inst.pos, "undefined name '%s'", inst.name)
		}
		inst.opcode = op
		u.logLine(inst.pos, "call=%s Op:%d", inst.name, op)
	}
	return nil
}

// Determine addresses of all instructions.
func (u *Unresolved) assignAddresses() error {
	u.logSection("Assigning addresses")
	addr := 0
	for _, inst := range u.insts {
		inst.addr = addr
		u.log("%04X  %-30s Len:%d", inst.addr, inst.String(), inst.length())
		addr += inst.length()
	}
	return nil
}

// Record the address of every label, including the labels generated
// for structural blocks.
func (u *Unresolved) resolveLabels() error {
	u.logSection("Resolving labels")
	u.labels = make(map[string]int)
	for _, inst := range u.insts {
		if inst.role != roleLabel {
			continue
		}
		if _, found := u.labels[inst.name]; found {
			return u.newError(inst.pos, "label '%s' used more than once", inst.name)
		}
		u.labels[inst.name] = inst.addr
		u.log("%-20s Addr:$%04X", inst.name, inst.addr)
	}
	return nil
}

// Fill in the target address of every jump and generic call. Their
// lengths are fixed, so only their operand values change here.
func (u *Unresolved) resolveJumps() error {
	u.logSection("Resolving jumps")
	for _, inst := range u.insts {
		switch {
		case inst.role == roleGoto:
			addr, ok := u.labels[inst.name]
			if !ok {
				return u.newError(inst.pos, "undefined label '%s'", inst.name)
			}
			inst.literals = []uint16{uint16(addr)}

		case inst.role == roleCall && inst.opcode == vm.CALL:
			inst.literals = []uint16{uint16(u.subroutineAddress(inst.name))}

		default:
			continue
		}
		u.log("%04X  %-8s %s=$%04X", inst.addr, inst.opcode, inst.name, inst.literals[0])
	}
	return nil
}

func (u *Unresolved) subroutineAddress(name string) int {
	for _, sub := range u.subs {
		if sub.name == name {
			return sub.addr
		}
	}
	return -1
}

// Generate the machine code and build the immutable program.
func (u *Unresolved) generateProgram() *Program {
	u.logSection("Generating code")

	p := &Program{
		variant:  u.variant,
		filename: u.filename,
		source:   u.source,
		code:     make([]byte, 0, 256),
	}

	for _, inst := range u.insts {
		start := len(p.code)
		p.code = inst.encode(p.code)
		if len(p.code) > start {
			p.lines = append(p.lines, SourceLine{
				Address: inst.addr,
				Length:  len(p.code) - start,
				Line:    inst.pos.row,
			})
			u.log("%04X-   %-14s %s", inst.addr, byteString(p.code[start:]), inst.String())
		}
	}

	for _, sub := range u.subs {
		p.subs = append(p.subs, Subroutine{
			Name:    sub.name,
			Opcode:  sub.opcode,
			Address: uint16(sub.addr),
		})
	}

	return p
}
