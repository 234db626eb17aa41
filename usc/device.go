// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usc implements a session with a Maestro servo controller
// attached over USB. It uploads compiled scripts, controls their
// execution and reads back the script state.
//
// A Device is not safe for concurrent use. Callers uploading from
// several goroutines must serialize access to it.
package usc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/beevik/maestro/asm"
	"github.com/beevik/maestro/vm"
	"github.com/rs/zerolog"
)

// Errors
var (
	ErrScriptTooLong    = errors.New("script is too long for the controller")
	ErrChecksumMismatch = errors.New("script checksum mismatch")
	ErrDisconnected     = errors.New("device is disconnected")
	ErrUnknownProduct   = errors.New("unknown Maestro product")
	ErrVariantMismatch  = errors.New("script was compiled for a different controller")
)

// A TransferError is returned when a USB control transfer fails. The
// device is disconnected after any transfer error.
type TransferError struct {
	Request Request
	Value   uint16
	Index   uint16
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("usb request %s (value=%d, index=%d) failed: %v", e.Request, e.Value, e.Index, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// State is the state of a device session.
type State byte

// Session states.
const (
	Disconnected State = iota
	Connected
	Erasing
	Writing
	Verifying
	Idle
)

var stateNames = []string{"disconnected", "connected", "erasing", "writing", "verifying", "idle"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// DefaultSettleDelay is the time given the controller to restart after
// it is reinitialized.
const DefaultSettleDelay = 50 * time.Millisecond

// An Option configures a Device.
type Option func(d *Device)

// WithLogger sets the logger used to trace control transfers and state
// changes.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Device) {
		d.log = l
	}
}

// WithSettleDelay sets how long to wait after reinitializing the
// controller.
func WithSettleDelay(delay time.Duration) Option {
	return func(d *Device) {
		d.settle = delay
	}
}

// A Device is a session with one Maestro controller.
type Device struct {
	t       Transport
	product uint16
	variant vm.Variant
	serial  string
	state   State
	log     zerolog.Logger
	settle  time.Duration
	sleep   func(time.Duration)
}

// New creates a session over an open transport. The product ID
// determines the controller variant.
func New(t Transport, product uint16, opts ...Option) (*Device, error) {
	variant, ok := VariantForProduct(product)
	if !ok {
		return nil, fmt.Errorf("%w: product id $%04X", ErrUnknownProduct, product)
	}

	d := &Device{
		t:       t,
		product: product,
		variant: variant,
		state:   Connected,
		log:     zerolog.Nop(),
		settle:  DefaultSettleDelay,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.log.Info().Str("variant", variant.String()).Msgf("connected to product $%04X", product)
	return d, nil
}

// Variant returns the variant of the connected controller.
func (d *Device) Variant() vm.Variant {
	return d.variant
}

// Product returns the USB product ID of the controller.
func (d *Device) Product() uint16 {
	return d.product
}

// Serial returns the serial number of the controller, if known.
func (d *Device) Serial() string {
	return d.serial
}

// State returns the current session state.
func (d *Device) State() State {
	return d.state
}

// Close releases the transport. The session is disconnected afterward.
func (d *Device) Close() error {
	if d.t == nil {
		return nil
	}
	err := d.t.Close()
	d.t = nil
	d.setState(Disconnected)
	return err
}

func (d *Device) setState(s State) {
	if d.state != s {
		d.log.Info().Str("from", d.state.String()).Str("to", s.String()).Msg("device state")
		d.state = s
	}
}

func (d *Device) ready() error {
	if d.state == Disconnected || d.t == nil {
		return ErrDisconnected
	}
	return nil
}

func (d *Device) control(requestType uint8, r Request, value, index uint16, data []byte) error {
	d.log.Debug().
		Str("request", r.String()).
		Uint16("value", value).
		Uint16("index", index).
		Int("length", len(data)).
		Msg("control transfer")

	n, err := d.t.Control(requestType, uint8(r), value, index, data)
	if err == nil && n != len(data) {
		if requestType == requestTypeIn {
			err = io.ErrUnexpectedEOF
		} else {
			err = io.ErrShortWrite
		}
	}
	if err != nil {
		d.log.Error().Err(err).Str("request", r.String()).Msg("control transfer failed")
		d.setState(Disconnected)
		return &TransferError{Request: r, Value: value, Index: index, Err: err}
	}
	return nil
}

func (d *Device) out(r Request, value, index uint16, data []byte) error {
	return d.control(requestTypeOut, r, value, index, data)
}

func (d *Device) in(r Request, value, index uint16, data []byte) error {
	return d.control(requestTypeIn, r, value, index, data)
}

// LoadOptions control how a program is uploaded.
type LoadOptions struct {
	WriteCRC bool // store the checksum in the controller and verify it
}

// LoadProgram uploads a compiled program into the controller's script
// memory and restarts the controller. Any running script is stopped
// first. The session returns to the Idle state when the upload
// completes.
func (d *Device) LoadProgram(p *asm.Program, opt LoadOptions) error {
	if err := d.ready(); err != nil {
		return err
	}

	if p.Variant().Extended() && !d.variant.Extended() {
		d.setState(Connected)
		return fmt.Errorf("%w: compiled for the %s Maestro, connected to the %s Maestro",
			ErrVariantMismatch, p.Variant(), d.variant)
	}

	code := p.Code()
	if limit := d.variant.MaxScriptBytes(); len(code) >= limit {
		d.setState(Connected)
		return fmt.Errorf("%w: script is %d bytes, the %s Maestro holds at most %d",
			ErrScriptTooLong, len(code), d.variant, limit-1)
	}

	d.setState(Erasing)
	if err := d.setScriptDone(scriptStop); err != nil {
		return err
	}
	if err := d.out(RequestEraseScript, 0, 0, nil); err != nil {
		return err
	}

	d.setState(Writing)
	table := p.SubroutineTable()
	first := d.variant.SubroutineTableBlock()
	for i := 0; i < tableBlocks; i++ {
		block := table[i*numBlockBytes : (i+1)*numBlockBytes]
		if err := d.out(RequestWriteScript, 0, uint16(first+i), block); err != nil {
			return err
		}
	}

	image := p.Image(d.variant)
	crc := p.ImageCRC(d.variant)
	for i := 0; i*numBlockBytes < len(image); i++ {
		block := make([]byte, numBlockBytes)
		for j := range block {
			block[j] = 0xff
		}
		copy(block, image[i*numBlockBytes:])
		if err := d.out(RequestWriteScript, 0, uint16(i), block); err != nil {
			return err
		}
	}

	if opt.WriteCRC {
		d.setState(Verifying)
		if err := d.SetParameter(ParamScriptCRC, crc); err != nil {
			return err
		}
		got, err := d.GetParameter(ParamScriptCRC)
		if err != nil {
			return err
		}
		if got != crc {
			d.setState(Connected)
			return fmt.Errorf("%w: wrote $%04X, read back $%04X", ErrChecksumMismatch, crc, got)
		}
	}

	if err := d.Reinitialize(); err != nil {
		return err
	}

	d.log.Info().Int("bytes", len(image)).Uint16("crc", crc).Msg("script uploaded")
	d.setState(Idle)
	return nil
}

// SetParameter stores a value in one of the controller's parameters.
func (d *Device) SetParameter(param Parameter, value uint16) error {
	if err := d.ready(); err != nil {
		return err
	}
	index := uint16(param.Size())<<12 | uint16(param)
	return d.out(RequestSetParameter, value, index, nil)
}

// GetParameter reads one of the controller's parameters.
func (d *Device) GetParameter(param Parameter) (uint16, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}
	buf := make([]byte, param.Size())
	if err := d.in(RequestGetParameter, 0, uint16(param), buf); err != nil {
		return 0, err
	}
	if len(buf) == 1 {
		return uint16(buf[0]), nil
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (d *Device) setScriptDone(v uint16) error {
	return d.out(RequestSetScriptDone, v, 0, nil)
}

// StopScript stops the running script.
func (d *Device) StopScript() error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.setScriptDone(scriptStop)
}

// StepScript executes a single instruction of a stopped script.
func (d *Device) StepScript() error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.setScriptDone(scriptStep)
}

// RunScript resumes a stopped script.
func (d *Device) RunScript() error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.setScriptDone(scriptRun)
}

// RestartScript restarts the script from its first instruction.
func (d *Device) RestartScript() error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.out(RequestRestartScript, 0, 0, nil)
}

// RestartScriptAtSubroutine restarts the script at the subroutine
// stored in the requested slot.
func (d *Device) RestartScriptAtSubroutine(slot uint8) error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.out(RequestRestartScriptAtSub, 0, uint16(slot), nil)
}

// RestartScriptAtSubroutineWithParameter restarts the script at the
// subroutine stored in the requested slot, with a value pushed onto the
// stack.
func (d *Device) RestartScriptAtSubroutineWithParameter(slot uint8, param uint16) error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.out(RequestRestartScriptAtSubWithParam, param, uint16(slot), nil)
}

// ClearErrors clears the controller's latched error flags.
func (d *Device) ClearErrors() error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.out(RequestClearErrors, 0, 0, nil)
}

// Reinitialize restarts the controller firmware and waits for it to
// settle.
func (d *Device) Reinitialize() error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.out(RequestReinitialize, 0, 0, nil); err != nil {
		return err
	}
	d.sleep(d.settle)
	return nil
}

// Variables describe the execution state of the controller's script.
type Variables struct {
	StackPointer     uint8
	CallStackPointer uint8
	Errors           vm.ErrorFlags
	ProgramCounter   uint16
	ScriptDone       bool
	Stack            []int16 // stack contents, reported by the Micro only
}

// Variables reads the script state from the controller.
func (d *Device) Variables() (Variables, error) {
	if err := d.ready(); err != nil {
		return Variables{}, err
	}

	size, done := miniVariablesSize, miniScriptDone
	if d.variant == vm.Micro {
		size, done = microVariablesSize, microScriptDone
	}

	buf := make([]byte, size)
	if err := d.in(RequestGetVariables, 0, 0, buf); err != nil {
		return Variables{}, err
	}

	v := Variables{
		StackPointer:     buf[0],
		CallStackPointer: buf[1],
		Errors:           vm.ErrorFlags(binary.LittleEndian.Uint16(buf[2:4])),
		ProgramCounter:   binary.LittleEndian.Uint16(buf[4:6]),
		ScriptDone:       buf[done] != 0,
	}

	if d.variant == vm.Micro {
		n := int(v.StackPointer)
		if n > d.variant.StackDepth() {
			n = d.variant.StackDepth()
		}
		for i := 0; i < n; i++ {
			off := microStackOffset + 2*i
			v.Stack = append(v.Stack, int16(binary.LittleEndian.Uint16(buf[off:off+2])))
		}
	}
	return v, nil
}
