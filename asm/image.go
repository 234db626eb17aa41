// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"errors"
	"fmt"
	"io"

	"github.com/beevik/maestro/vm"
	"github.com/fxamacker/cbor/v2"
)

const (
	imageSignature = "msc1"
	maxImageSize   = 1 << 20
)

var (
	errImageSignature = errors.New("not a compiled script image")
	errImageCRC       = errors.New("compiled script image is corrupt")
	errImageSourceMap = errors.New("compiled script image has an invalid source map")
)

// An image is the on-disk form of a compiled program.
type image struct {
	Signature   string       `cbor:"sig"`
	Variant     string       `cbor:"variant"`
	Filename    string       `cbor:"file"`
	Code        []byte       `cbor:"code"`
	Subroutines []Subroutine `cbor:"subs"`
	Lines       []SourceLine `cbor:"lines"`
	Source      []string     `cbor:"source,omitempty"`
	CRC         uint16       `cbor:"crc"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("asm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// WriteTo saves the compiled program, its subroutine table, checksum
// and source map into an output writer.
func (p *Program) WriteTo(w io.Writer) (n int64, err error) {
	img := image{
		Signature:   imageSignature,
		Variant:     p.variant.String(),
		Filename:    p.filename,
		Code:        p.code,
		Subroutines: p.subs,
		Lines:       p.lines,
		Source:      p.source,
		CRC:         p.CRC(),
	}

	b, err := cborEncMode.Marshal(&img)
	if err != nil {
		return 0, err
	}

	nn, err := w.Write(b)
	return int64(nn), err
}

// ReadProgram loads a compiled program previously saved with WriteTo.
func ReadProgram(r io.Reader) (*Program, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxImageSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxImageSize {
		return nil, fmt.Errorf("compiled script image exceeds %d bytes", maxImageSize)
	}

	var img image
	if err := cbor.Unmarshal(b, &img); err != nil {
		return nil, fmt.Errorf("%w: %v", errImageSignature, err)
	}
	if img.Signature != imageSignature {
		return nil, errImageSignature
	}

	variant, err := vm.ParseVariant(img.Variant)
	if err != nil {
		return nil, err
	}

	p := &Program{
		variant:  variant,
		filename: img.Filename,
		source:   img.Source,
		code:     img.Code,
		subs:     img.Subroutines,
		lines:    img.Lines,
	}
	if p.CRC() != img.CRC {
		return nil, errImageCRC
	}
	if err := p.checkSourceMap(); err != nil {
		return nil, err
	}
	return p, nil
}

// The checksum does not cover the source map, so every entry is checked
// against the code and source it refers to.
func (p *Program) checkSourceMap() error {
	for _, l := range p.lines {
		switch {
		case l.Address < 0 || l.Length < 0 || l.Address+l.Length > len(p.code):
			return fmt.Errorf("%w: line %d maps to $%04X+%d outside the code", errImageSourceMap, l.Line, l.Address, l.Length)
		case l.Line < 1 || (len(p.source) > 0 && l.Line > len(p.source)):
			return fmt.Errorf("%w: line %d does not exist", errImageSourceMap, l.Line)
		}
	}
	return nil
}
