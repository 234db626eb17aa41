// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/beevik/maestro/vm"
)

// A Subroutine describes a subroutine declared by a script.
type Subroutine struct {
	Name    string    `cbor:"name"`
	Opcode  vm.Opcode `cbor:"opcode"`  // slot opcode, or vm.CALL
	Address uint16    `cbor:"address"` // entry address in script memory
}

// A SourceLine represents a mapping between a range of script memory
// and the source code line used to generate it.
type SourceLine struct {
	Address int `cbor:"address"` // script memory address
	Length  int `cbor:"length"`  // number of bytes generated
	Line    int `cbor:"line"`    // 1-based source code line number
}

// A Program is a fully compiled script. It is immutable.
type Program struct {
	variant  vm.Variant
	filename string
	source   []string
	code     []byte
	subs     []Subroutine
	lines    []SourceLine
}

// Variant returns the controller variant the program was compiled for.
func (p *Program) Variant() vm.Variant {
	return p.variant
}

// Filename returns the name of the file the program was compiled from.
func (p *Program) Filename() string {
	return p.filename
}

// Code returns a copy of the bytes generated by the program's
// instructions.
func (p *Program) Code() []byte {
	return append([]byte(nil), p.code...)
}

// ByteList returns the script memory image of the program for the
// variant it was compiled for.
func (p *Program) ByteList() []byte {
	return p.Image(p.variant)
}

// Image returns the script memory image of the program as stored on a
// controller of variant v. When the code is shorter than v's script
// memory, a QUIT opcode is appended so that execution cannot run past
// the end of the code.
func (p *Program) Image(v vm.Variant) []byte {
	b := p.Code()
	if len(b) < v.MaxScriptBytes() {
		b = append(b, byte(vm.QUIT))
	}
	return b
}

// Subroutines returns the program's subroutines in declaration order.
func (p *Program) Subroutines() []Subroutine {
	return append([]Subroutine(nil), p.subs...)
}

// SubroutineByName returns the subroutine with the requested name.
func (p *Program) SubroutineByName(name string) (Subroutine, bool) {
	for _, s := range p.subs {
		if s.Name == name {
			return s, true
		}
	}
	return Subroutine{}, false
}

// SubroutineTable returns the 256-byte subroutine jump table stored in
// script memory. Each slot holds the little-endian entry address of the
// subroutine called by opcode FirstSlot+slot; unused slots hold 0xFF.
func (p *Program) SubroutineTable() []byte {
	t := make([]byte, 2*vm.NumSlots)
	for i := range t {
		t[i] = 0xff
	}
	for _, s := range p.subs {
		if !s.Opcode.IsSlot() {
			continue
		}
		slot := int(s.Opcode - vm.FirstSlot)
		t[2*slot+0] = byte(s.Address)
		t[2*slot+1] = byte(s.Address >> 8)
	}
	return t
}

// SubroutineBytes returns the entry addresses of all slot subroutines in
// declaration order, two little-endian bytes each. These bytes form the
// first part of the checksummed data.
func (p *Program) SubroutineBytes() []byte {
	var b []byte
	for _, s := range p.subs {
		if s.Opcode.IsSlot() {
			b = append(b, toBytes(2, int(s.Address))...)
		}
	}
	return b
}

// CRC returns the checksum the controller computes over the subroutine
// addresses and the script image.
func (p *Program) CRC() uint16 {
	return p.ImageCRC(p.variant)
}

// ImageCRC returns the checksum of the program as stored on a
// controller of variant v.
func (p *Program) ImageCRC(v vm.Variant) uint16 {
	crc := CRC16(0, p.SubroutineBytes())
	return CRC16(crc, p.Image(v))
}

// Lines returns the mapping between script memory and source lines,
// sorted by address.
func (p *Program) Lines() []SourceLine {
	return append([]SourceLine(nil), p.lines...)
}

// Search searches the source map for the source line that generated the
// byte at the requested address. It returns -1 if there is none.
func (p *Program) Search(addr int) int {
	i := sort.Search(len(p.lines), func(i int) bool {
		return p.lines[i].Address+p.lines[i].Length > addr
	})
	if i < len(p.lines) && p.lines[i].Address <= addr {
		return p.lines[i].Line
	}
	return -1
}

// SourceLine returns the text of the 1-based source line n.
func (p *Program) SourceLine(n int) (string, bool) {
	if n < 1 || n > len(p.source) {
		return "", false
	}
	return p.source[n-1], true
}

// NumSourceLines returns the number of source lines the program was
// compiled from. Programs loaded from an image without source have none.
func (p *Program) NumSourceLines() int {
	return len(p.source)
}

// Listing writes the source code annotated with the address and bytes
// generated by each line.
func (p *Program) Listing(w io.Writer) error {
	bw := bufio.NewWriter(w)

	i := 0
	for n := 1; n <= len(p.source); n++ {
		first := true
		for ; i < len(p.lines) && p.lines[i].Line <= n; i++ {
			l := p.lines[i]
			text := ""
			if first {
				text = p.source[n-1]
			}
			fmt.Fprintf(bw, "%04X: %-20s | %s\n", l.Address, byteString(p.code[l.Address:l.Address+l.Length]), text)
			first = false
		}
		if first {
			fmt.Fprintf(bw, "%26s | %s\n", "", p.source[n-1])
		}
	}

	fmt.Fprintf(bw, "\nSubroutines:\n")
	fmt.Fprintf(bw, "Index Opcode Address Name\n")
	for i, s := range p.subs {
		fmt.Fprintf(bw, "%5d %6s $%04X   %s\n", i, opcodeString(s.Opcode), s.Address, s.Name)
	}
	fmt.Fprintf(bw, "\nSize: %d bytes, CRC: $%04X\n", len(p.ByteList()), p.CRC())

	return bw.Flush()
}

func opcodeString(op vm.Opcode) string {
	if op.IsSlot() {
		return fmt.Sprintf("$%02X", byte(op))
	}
	return op.String()
}
