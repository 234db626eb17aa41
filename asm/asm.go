// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package asm implements a compiler for the stack-based scripting language
// run by Pololu Maestro servo controllers.
//
// Compilation happens in two stages. Parse reads script source and
// produces an Unresolved program containing an ordered list of
// instructions. Finalize then selects literal encodings, allocates
// subroutine slots, assigns addresses, resolves jumps and calls, and
// returns an immutable Program holding the byte image, the subroutine
// tables and the checksum expected by the controller.
package asm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/maestro/vm"
)

var (
	errParse = errors.New("parse error")

	// ErrFinalized is returned when Finalize is called more than once on
	// the same unresolved program.
	ErrFinalized = errors.New("program already finalized")
)

// A SyntaxError describes a problem found while compiling a script. It
// identifies the file, line and column of the offending token.
type SyntaxError struct {
	File   string
	Line   int // 1-based line number
	Column int // 1-based column number
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("Syntax error in '%s' line %d, col %d: %s", e.File, e.Line, e.Column, e.Msg)
}

// Unwrap allows the error to be matched against the generic parse
// error with errors.Is.
func (e *SyntaxError) Unwrap() error {
	return errParse
}

// IsSyntaxError returns true if err was produced by a failure to compile
// script source.
func IsSyntaxError(err error) bool {
	return errors.Is(err, errParse)
}

// Option type used by the Parse and Compile functions.
type Option uint

// Options for the Parse and Compile functions.
const (
	Verbose Option = 1 << iota // verbose output during compilation
)

// The mode determines how the assembler interprets the next token.
type mode byte

const (
	modeNormal         mode = iota // tokens have their usual meaning
	modeGotoLabel                  // next token names a GOTO target
	modeSubroutineName             // next token names a new subroutine
)

// A blockKind identifies the structural keyword that opened a block.
type blockKind byte

const (
	blockLoop blockKind = iota
	blockIf
	blockElse
)

var blockKeyword = []string{"BEGIN", "IF", "ELSE"}

// A block is an open BEGIN...REPEAT or IF...ELSE...ENDIF region.
type block struct {
	id   int
	kind blockKind
	pos  fstring // token that opened the block
}

// Unresolved is a parsed script whose literal encodings, subroutine
// slots, addresses and jump targets have not been determined yet. It is
// consumed by Finalize.
type Unresolved struct {
	variant   vm.Variant           // target controller variant
	instSet   *vm.InstructionSet   // instructions on the variant
	filename  string               // name of the source file
	source    []string             // raw source lines, index 0 = line 1
	insts     []*instruction       // instructions in program order
	blocks    []block              // open block stack
	nextBlock int                  // id assigned to the next block
	mode      mode                 // interpretation of the next token
	modeToken fstring              // token that changed the mode
	subs      []*instruction       // subroutine definitions in order
	labels    map[string]int       // label -> address
	subOps    map[string]vm.Opcode // subroutine -> call opcode
	finalized bool                 // Finalize has been called
	out       io.Writer            // output used for verbose output
	verbose   bool                 // verbose output
}

// Parse reads script source from r and returns the unresolved program it
// describes. The first error encountered aborts parsing; in that case no
// program is returned and the error is a *SyntaxError.
func Parse(r io.Reader, filename string, variant vm.Variant, out io.Writer, options Option) (*Unresolved, error) {
	if out == nil {
		out = os.Stdout
	}

	u := &Unresolved{
		variant:  variant,
		instSet:  vm.GetInstructionSet(variant),
		filename: filename,
		insts:    make([]*instruction, 0, 64),
		out:      out,
		verbose:  (options & Verbose) != 0,
	}

	u.logSection("Parsing script")
	if err := u.parse(bufio.NewScanner(r)); err != nil {
		return nil, err
	}
	return u, nil
}

// Compile reads script source from r, parses it and finalizes it into a
// program for the requested controller variant.
func Compile(r io.Reader, filename string, variant vm.Variant, out io.Writer, options Option) (*Program, error) {
	u, err := Parse(r, filename, variant, out, options)
	if err != nil {
		return nil, err
	}
	return u.Finalize()
}

// CompileFile reads and compiles the script stored in the file at path.
func CompileFile(path string, variant vm.Variant, options Option, out io.Writer) (*Program, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Compile(file, path, variant, out, options)
}

// AssembleFile compiles the script stored in the file at path and saves
// a program image (.msc) and a listing (.lst) next to it.
func AssembleFile(path string, variant vm.Variant, options Option, out io.Writer) (*Program, error) {
	if out == nil {
		out = os.Stdout
	}

	p, err := CompileFile(path, variant, options, out)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(path)
	prefix := path[:len(path)-len(ext)]
	imgPath := prefix + ".msc"
	if err := writeFile(imgPath, p.WriteTo); err != nil {
		return nil, err
	}

	lstPath := prefix + ".lst"
	err = writeFile(lstPath, func(w io.Writer) (int64, error) {
		return 0, p.Listing(w)
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Compiled '%s' to produce '%s' and '%s'.\n",
		filepath.Base(path),
		filepath.Base(imgPath),
		filepath.Base(lstPath))
	return p, nil
}

func writeFile(path string, fn func(w io.Writer) (int64, error)) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	_, err = fn(file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Finalize resolves the unresolved program into an immutable compiled
// program. It may be called only once.
func (u *Unresolved) Finalize() (*Program, error) {
	if u.finalized {
		return nil, ErrFinalized
	}
	u.finalized = true

	// Finalization consists of the following steps. Literal encodings
	// must be selected first, because they determine instruction lengths
	// and therefore every address that follows.
	steps := []func(u *Unresolved) error{
		(*Unresolved).selectLiteralEncodings, // Choose compact or wide literal opcodes
		(*Unresolved).allocateSubroutines,    // Assign subroutine call opcodes
		(*Unresolved).resolveCalls,           // Match calls to subroutines
		(*Unresolved).assignAddresses,        // Assign addresses to instructions
		(*Unresolved).resolveLabels,          // Build the label table
		(*Unresolved).resolveJumps,           // Fill in jump and call targets
	}

	for _, step := range steps {
		if err := step(u); err != nil {
			return nil, err
		}
	}

	return u.generateProgram(), nil
}

// Return a syntax error located at the token l.
func (u *Unresolved) newError(l fstring, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if u.verbose {
		fmt.Fprintf(u.out, "Syntax error in '%s' line %d, col %d: %s\n", u.filename, l.row, l.column+1, msg)
		fmt.Fprintln(u.out, l.full)
		for i := 0; i < l.column; i++ {
			fmt.Fprintf(u.out, "-")
		}
		fmt.Fprintln(u.out, "^")
	}
	return &SyntaxError{
		File:   u.filename,
		Line:   l.row,
		Column: l.column + 1,
		Msg:    msg,
	}
}

// In verbose mode, log a string to the output.
func (u *Unresolved) log(format string, args ...any) {
	if u.verbose {
		fmt.Fprintf(u.out, format, args...)
		fmt.Fprintf(u.out, "\n")
	}
}

// In verbose mode, log a string and its associated token.
func (u *Unresolved) logLine(line fstring, format string, args ...any) {
	if u.verbose {
		detail := fmt.Sprintf(format, args...)
		fmt.Fprintf(u.out, "%-3d %-3d | %-24s | %s\n", line.row, line.column+1, detail, line.str)
	}
}

// In verbose mode, log a section header to the output.
func (u *Unresolved) logSection(name string) {
	if u.verbose {
		fmt.Fprintln(u.out, strings.Repeat("-", len(name)+6))
		fmt.Fprintf(u.out, "-- %s --\n", name)
		fmt.Fprintln(u.out, strings.Repeat("-", len(name)+6))
	}
}
