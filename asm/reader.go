// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/maestro/vm"
)

type keywordFunc func(u *Unresolved, tok fstring) error

var keywords map[string]keywordFunc

func init() {
	// The keyword table must be initialized here to bypass go's overly
	// aggressive initialization loop detection.
	keywords = map[string]keywordFunc{
		"GOTO":   (*Unresolved).parseGoto,
		"SUB":    (*Unresolved).parseSub,
		"BEGIN":  (*Unresolved).parseBegin,
		"WHILE":  (*Unresolved).parseWhile,
		"REPEAT": (*Unresolved).parseRepeat,
		"IF":     (*Unresolved).parseIf,
		"ELSE":   (*Unresolved).parseElse,
		"ENDIF":  (*Unresolved).parseEndif,
	}
}

// Read the script source and build up the instruction list, the
// subroutine list and the block stack.
func (u *Unresolved) parse(scanner *bufio.Scanner) error {
	row := 1
	for scanner.Scan() {
		text := scanner.Text()
		u.source = append(u.source, text)
		line := newFstring(row, text)
		if err := u.parseLine(line.stripComment()); err != nil {
			return err
		}
		row++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	switch u.mode {
	case modeGotoLabel:
		return u.newError(u.modeToken, "GOTO must be followed by a label name")
	case modeSubroutineName:
		return u.newError(u.modeToken, "SUB must be followed by a subroutine name")
	}

	// Blocks still open at the end of the file are reported at the
	// outermost unterminated block.
	if len(u.blocks) > 0 {
		b := u.blocks[0]
		return u.newError(b.pos, "%s block is never closed", blockKeyword[b.kind])
	}
	return nil
}

// Parse a single line of script code.
func (u *Unresolved) parseLine(line fstring) error {
	for {
		var word fstring
		word, line = line.nextWord()
		if word.isEmpty() {
			return nil
		}
		if err := u.parseToken(word); err != nil {
			return err
		}
	}
}

// Parse a single whitespace-delimited token.
func (u *Unresolved) parseToken(tok fstring) error {
	tok.str = strings.ToUpper(tok.str)

	switch u.mode {
	case modeGotoLabel:
		u.mode = modeNormal
		return u.addGoto(tok, vm.JUMP, tok.str)
	case modeSubroutineName:
		u.mode = modeNormal
		return u.addSubroutine(tok)
	}

	if isNumeric(tok.str) {
		return u.parseLiteral(tok)
	}

	if fn, ok := keywords[tok.str]; ok {
		return fn(u, tok)
	}

	if tok.endsWithChar(':') && len(tok.str) > 1 {
		return u.addLabel(tok.trunc(len(tok.str)-1), tok)
	}

	if inst := u.instSet.Find(tok.str); inst != nil {
		return u.parseOpcode(tok, inst)
	}

	// Anything else is a call to a subroutine that may be defined later
	// in the file.
	u.logLine(tok, "call=%s", tok.str)
	u.push(&instruction{role: roleCall, name: tok.str, pos: tok})
	return nil
}

// Return true if the token looks like a decimal or hexadecimal number.
func isNumeric(s string) bool {
	l := fstring{str: s}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		l = l.consume(2)
		return l.scanWhile(hexadecimalOrDot) == len(l.str)
	}
	if len(s) > 0 && s[0] == '-' {
		l = l.consume(1)
	}
	return !l.isEmpty() && l.scanWhile(decimalOrDot) == len(l.str)
}

// Parse a numeric literal and append it to the current literal run.
func (u *Unresolved) parseLiteral(tok fstring) error {
	var v int64
	var err error
	if len(tok.str) > 2 && tok.str[1] == 'X' {
		v, err = strconv.ParseInt(tok.str[2:], 16, 32)
	} else {
		v, err = strconv.ParseInt(tok.str, 10, 32)
	}
	if err != nil {
		return u.newError(tok, "invalid number '%s'", tok.str)
	}
	if v < 0 || v > 0xffff {
		return u.newError(tok, "value %d is out of range; literals must be between 0 and 65535", v)
	}

	value := uint16(v % 0x10000)
	u.logLine(tok, "literal=%d", value)

	// Consecutive literals are merged into a single instruction.
	var lit *instruction
	if n := len(u.insts); n > 0 && u.insts[n-1].role == roleLiteral {
		lit = u.insts[n-1]
	} else {
		lit = &instruction{role: roleLiteral, pos: tok}
		u.push(lit)
	}
	lit.literals = append(lit.literals, value)

	if len(lit.literals) > u.variant.StackDepth() {
		return u.newError(tok, "too many literals in a row; the stack can hold only %d values", u.variant.StackDepth())
	}
	return nil
}

// Parse an opcode mnemonic.
func (u *Unresolved) parseOpcode(tok fstring, inst *vm.Instruction) error {
	if inst.Hidden {
		return u.newError(tok, "'%s' cannot be used directly in a script", tok.str)
	}
	if !inst.Valid {
		return u.newError(tok, "'%s' is not supported on the %s Maestro", tok.str, u.variant)
	}
	u.logLine(tok, "op=%s", inst.Name)
	u.push(&instruction{role: roleOpcode, opcode: inst.Opcode, pos: tok})
	return nil
}

// Validate a user-supplied label or subroutine name.
func (u *Unresolved) checkName(tok fstring, kind string) error {
	switch {
	case isNumeric(tok.str):
		return u.newError(tok, "%s name '%s' cannot be a number", kind, tok.str)
	case keywords[tok.str] != nil:
		return u.newError(tok, "%s name '%s' is a reserved keyword", kind, tok.str)
	case u.instSet.Find(tok.str) != nil:
		return u.newError(tok, "%s name '%s' is the name of a command", kind, tok.str)
	}
	return nil
}

func (u *Unresolved) parseGoto(tok fstring) error {
	u.mode, u.modeToken = modeGotoLabel, tok
	return nil
}

func (u *Unresolved) parseSub(tok fstring) error {
	u.mode, u.modeToken = modeSubroutineName, tok
	return nil
}

func (u *Unresolved) parseBegin(tok fstring) error {
	b := u.openBlock(tok, blockLoop)
	return u.addLabel(generatedLabel("begin", b.id), tok)
}

func (u *Unresolved) parseWhile(tok fstring) error {
	b, ok := u.topBlock()
	if !ok || b.kind != blockLoop {
		return u.newError(tok, "WHILE must be inside a BEGIN...REPEAT block")
	}
	return u.addGoto(tok, vm.JUMP_Z, blockName("end", b.id))
}

func (u *Unresolved) parseRepeat(tok fstring) error {
	b, ok := u.topBlock()
	if !ok || b.kind != blockLoop {
		return u.newError(tok, "REPEAT must end a BEGIN block")
	}
	if err := u.addGoto(tok, vm.JUMP, blockName("begin", b.id)); err != nil {
		return err
	}
	u.closeBlock()
	return u.addLabel(generatedLabel("end", b.id), tok)
}

func (u *Unresolved) parseIf(tok fstring) error {
	b := u.openBlock(tok, blockIf)
	return u.addGoto(tok, vm.JUMP_Z, blockName("else", b.id))
}

func (u *Unresolved) parseElse(tok fstring) error {
	b, ok := u.topBlock()
	if !ok || b.kind != blockIf {
		return u.newError(tok, "ELSE must be inside an IF block")
	}
	if err := u.addGoto(tok, vm.JUMP, blockName("endif", b.id)); err != nil {
		return err
	}
	u.blocks[len(u.blocks)-1].kind = blockElse
	return u.addLabel(generatedLabel("else", b.id), tok)
}

func (u *Unresolved) parseEndif(tok fstring) error {
	b, ok := u.topBlock()
	if !ok || (b.kind != blockIf && b.kind != blockElse) {
		return u.newError(tok, "ENDIF must end an IF block")
	}
	u.closeBlock()
	if b.kind == blockIf {
		if err := u.addLabel(generatedLabel("else", b.id), tok); err != nil {
			return err
		}
	}
	return u.addLabel(generatedLabel("endif", b.id), tok)
}

func (u *Unresolved) openBlock(tok fstring, kind blockKind) block {
	b := block{id: u.nextBlock, kind: kind, pos: tok}
	u.nextBlock++
	u.blocks = append(u.blocks, b)
	u.logLine(tok, "block=%s%d", blockKeyword[kind], b.id)
	return b
}

func (u *Unresolved) topBlock() (block, bool) {
	if len(u.blocks) == 0 {
		return block{}, false
	}
	return u.blocks[len(u.blocks)-1], true
}

func (u *Unresolved) closeBlock() {
	u.blocks = u.blocks[:len(u.blocks)-1]
}

// Generated label names start with '#', which always begins a comment in
// script source, so they never collide with user labels.
func blockName(prefix string, id int) string {
	return fmt.Sprintf("#%s_%d", prefix, id)
}

func generatedLabel(prefix string, id int) fstring {
	return fstring{str: blockName(prefix, id)}
}

// Add a label definition. The name fstring holds the label name; pos is
// the token the definition is attributed to.
func (u *Unresolved) addLabel(name, pos fstring) error {
	if !strings.HasPrefix(name.str, "#") {
		if err := u.checkName(name, "label"); err != nil {
			return err
		}
	}
	u.logLine(pos, "label=%s", name.str)
	u.push(&instruction{role: roleLabel, name: name.str, pos: pos})
	return nil
}

// Add a jump to a named label.
func (u *Unresolved) addGoto(tok fstring, op vm.Opcode, label string) error {
	if !strings.HasPrefix(label, "#") && isNumeric(label) {
		return u.newError(tok, "label name '%s' cannot be a number", label)
	}
	u.logLine(tok, "%s=%s", op, label)
	u.push(&instruction{role: roleGoto, opcode: op, name: label, pos: tok})
	return nil
}

// Add a subroutine definition.
func (u *Unresolved) addSubroutine(tok fstring) error {
	if err := u.checkName(tok, "subroutine"); err != nil {
		return err
	}
	u.logLine(tok, "sub=%s", tok.str)
	inst := &instruction{role: roleSub, name: tok.str, pos: tok}
	u.subs = append(u.subs, inst)
	u.push(inst)
	return nil
}

func (u *Unresolved) push(inst *instruction) {
	u.insts = append(u.insts, inst)
}
