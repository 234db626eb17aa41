// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usc

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/beevik/maestro/asm"
	"github.com/beevik/maestro/vm"
	"github.com/stretchr/testify/require"
)

type transfer struct {
	requestType uint8
	request     Request
	value       uint16
	index       uint16
	data        []byte
}

type fakeTransport struct {
	transfers  []transfer
	params     map[uint16]uint16
	variables  []byte
	fail       Request
	corruptCRC bool
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{params: make(map[uint16]uint16)}
}

func (f *fakeTransport) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	r := Request(request)
	f.transfers = append(f.transfers, transfer{requestType, r, value, index, append([]byte(nil), data...)})
	if f.fail != 0 && r == f.fail {
		return 0, errors.New("pipe error")
	}

	switch r {
	case RequestSetParameter:
		if f.corruptCRC {
			value ^= 1
		}
		f.params[index&0xfff] = value
	case RequestGetParameter:
		v := f.params[index]
		for i := range data {
			data[i] = byte(v >> (8 * i))
		}
	case RequestGetVariables:
		copy(data, f.variables)
	}
	return len(data), nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newDevice(t *testing.T, product uint16) (*Device, *fakeTransport) {
	t.Helper()
	f := newFakeTransport()
	d, err := New(f, product, WithSettleDelay(0))
	require.NoError(t, err)
	d.sleep = func(time.Duration) {}
	return d, f
}

func compile(t *testing.T, src string, variant vm.Variant) *asm.Program {
	t.Helper()
	p, err := asm.Compile(strings.NewReader(src), "test", variant, io.Discard, 0)
	require.NoError(t, err)
	return p
}

func TestNewVariant(t *testing.T) {
	d, _ := newDevice(t, ProductMicro)
	require.Equal(t, vm.Micro, d.Variant())
	require.Equal(t, Connected, d.State())

	for _, product := range []uint16{ProductMini12, ProductMini18, ProductMini24} {
		d, _ := newDevice(t, product)
		require.Equal(t, vm.Mini, d.Variant())
	}

	_, err := New(newFakeTransport(), 0x1234)
	require.ErrorIs(t, err, ErrUnknownProduct)
}

func TestLoadProgram(t *testing.T) {
	d, f := newDevice(t, ProductMicro)

	var slept []time.Duration
	d.settle = 7 * time.Millisecond
	d.sleep = func(delay time.Duration) { slept = append(slept, delay) }

	p := compile(t, "sub go 1 delay return\ngo", vm.Micro)
	require.NoError(t, d.LoadProgram(p, LoadOptions{WriteCRC: true}))
	require.Equal(t, Idle, d.State())
	require.Equal(t, []time.Duration{7 * time.Millisecond}, slept)

	tr := f.transfers
	require.Len(t, tr, 22)

	require.Equal(t, RequestSetScriptDone, tr[0].request)
	require.Equal(t, uint16(scriptStop), tr[0].value)
	require.Equal(t, RequestEraseScript, tr[1].request)

	for i := 0; i < tableBlocks; i++ {
		w := tr[2+i]
		require.Equal(t, RequestWriteScript, w.request)
		require.Equal(t, uint8(requestTypeOut), w.requestType)
		require.Equal(t, uint16(vm.Micro.SubroutineTableBlock()+i), w.index)
		require.Len(t, w.data, numBlockBytes)
	}
	require.Equal(t, []byte{0x00, 0x00, 0xff, 0xff}, tr[2].data[:4])

	code := tr[18]
	require.Equal(t, RequestWriteScript, code.request)
	require.Equal(t, uint16(0), code.index)
	want := append(p.ByteList(), make([]byte, numBlockBytes-len(p.ByteList()))...)
	for i := len(p.ByteList()); i < numBlockBytes; i++ {
		want[i] = 0xff
	}
	require.Equal(t, want, code.data)

	require.Equal(t, RequestSetParameter, tr[19].request)
	require.Equal(t, p.CRC(), tr[19].value)
	require.Equal(t, uint16(2<<12|22), tr[19].index)
	require.Equal(t, RequestGetParameter, tr[20].request)
	require.Equal(t, uint8(requestTypeIn), tr[20].requestType)
	require.Equal(t, RequestReinitialize, tr[21].request)
}

func TestLoadProgramWithoutCRC(t *testing.T) {
	d, f := newDevice(t, ProductMini24)

	p := compile(t, strings.Repeat("drop ", 40), vm.Mini)
	require.NoError(t, d.LoadProgram(p, LoadOptions{}))

	var blocks []uint16
	for _, tr := range f.transfers {
		require.NotEqual(t, RequestSetParameter, tr.request)
		if tr.request == RequestWriteScript && tr.index < uint16(vm.Mini.SubroutineTableBlock()) {
			blocks = append(blocks, tr.index)
		}
	}
	require.Equal(t, []uint16{0, 1, 2}, blocks)

	last := f.transfers[len(f.transfers)-2].data
	require.Equal(t, byte(vm.QUIT), last[40-32])
	require.Equal(t, byte(0xff), last[numBlockBytes-1])
}

func TestCapacityBoundary(t *testing.T) {
	d, f := newDevice(t, ProductMicro)
	limit := vm.Micro.MaxScriptBytes()

	p := compile(t, strings.Repeat("drop ", limit-1), vm.Micro)
	require.NoError(t, d.LoadProgram(p, LoadOptions{}))
	require.Len(t, p.ByteList(), limit)

	f.transfers = nil
	p = compile(t, strings.Repeat("drop ", limit), vm.Micro)
	err := d.LoadProgram(p, LoadOptions{})
	require.ErrorIs(t, err, ErrScriptTooLong)
	require.Empty(t, f.transfers)
	require.Equal(t, Connected, d.State())
}

func TestCrossVariantImage(t *testing.T) {
	d, f := newDevice(t, ProductMini12)

	// Too long for a Micro, so the Micro image carries no QUIT.
	n := 1100
	p := compile(t, strings.Repeat("drop ", n), vm.Micro)
	require.Len(t, p.ByteList(), n)
	require.NoError(t, d.LoadProgram(p, LoadOptions{WriteCRC: true}))

	var last, crc *transfer
	for i := range f.transfers {
		tr := &f.transfers[i]
		switch {
		case tr.request == RequestWriteScript && tr.index == uint16(n/numBlockBytes):
			last = tr
		case tr.request == RequestSetParameter:
			crc = tr
		}
	}
	require.NotNil(t, last)
	require.Equal(t, byte(vm.QUIT), last.data[n%numBlockBytes])
	require.NotNil(t, crc)
	require.Equal(t, p.ImageCRC(vm.Mini), crc.value)
}

func TestChecksumMismatch(t *testing.T) {
	d, f := newDevice(t, ProductMicro)
	f.corruptCRC = true

	err := d.LoadProgram(compile(t, "1 2 plus", vm.Micro), LoadOptions{WriteCRC: true})
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.Equal(t, Connected, d.State())
	require.NoError(t, d.StopScript())
}

func TestTransferFailure(t *testing.T) {
	d, f := newDevice(t, ProductMicro)
	f.fail = RequestEraseScript

	p := compile(t, "1 2 plus", vm.Micro)
	err := d.LoadProgram(p, LoadOptions{})

	var te *TransferError
	require.True(t, errors.As(err, &te))
	require.Equal(t, RequestEraseScript, te.Request)
	require.Equal(t, Disconnected, d.State())

	require.ErrorIs(t, d.LoadProgram(p, LoadOptions{}), ErrDisconnected)
	require.ErrorIs(t, d.ClearErrors(), ErrDisconnected)
	_, err = d.Variables()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestVariantMismatch(t *testing.T) {
	d, f := newDevice(t, ProductMicro)
	err := d.LoadProgram(compile(t, "1 2 plus", vm.Mini), LoadOptions{})
	require.ErrorIs(t, err, ErrVariantMismatch)
	require.Empty(t, f.transfers)

	d, _ = newDevice(t, ProductMini12)
	require.NoError(t, d.LoadProgram(compile(t, "1 2 plus", vm.Micro), LoadOptions{}))
}

func TestScriptControl(t *testing.T) {
	d, f := newDevice(t, ProductMini18)

	require.NoError(t, d.StopScript())
	require.NoError(t, d.StepScript())
	require.NoError(t, d.RunScript())
	require.NoError(t, d.RestartScript())
	require.NoError(t, d.RestartScriptAtSubroutine(5))
	require.NoError(t, d.RestartScriptAtSubroutineWithParameter(3, 1000))
	require.NoError(t, d.ClearErrors())

	type req struct {
		r     Request
		value uint16
		index uint16
	}
	var got []req
	for _, tr := range f.transfers {
		got = append(got, req{tr.request, tr.value, tr.index})
	}
	require.Equal(t, []req{
		{RequestSetScriptDone, scriptStop, 0},
		{RequestSetScriptDone, scriptStep, 0},
		{RequestSetScriptDone, scriptRun, 0},
		{RequestRestartScript, 0, 0},
		{RequestRestartScriptAtSub, 0, 5},
		{RequestRestartScriptAtSubWithParam, 1000, 3},
		{RequestClearErrors, 0, 0},
	}, got)
}

func TestParameters(t *testing.T) {
	d, f := newDevice(t, ProductMicro)

	require.NoError(t, d.SetParameter(ParamScriptDone, 1))
	require.Equal(t, uint16(1<<12|24), f.transfers[0].index)

	v, err := d.GetParameter(ParamScriptDone)
	require.NoError(t, err)
	require.Equal(t, uint16(1), v)

	require.NoError(t, d.SetParameter(ParamScriptCRC, 0xbeef))
	v, err = d.GetParameter(ParamScriptCRC)
	require.NoError(t, err)
	require.Equal(t, uint16(0xbeef), v)
}

func TestVariables(t *testing.T) {
	d, f := newDevice(t, ProductMicro)
	f.variables = make([]byte, microVariablesSize)
	copy(f.variables, []byte{2, 1, 0x41, 0x00, 0x34, 0x12})
	copy(f.variables[microStackOffset:], []byte{0x10, 0x00, 0xff, 0xff})
	f.variables[microScriptDone] = 1

	v, err := d.Variables()
	require.NoError(t, err)
	require.Equal(t, Variables{
		StackPointer:     2,
		CallStackPointer: 1,
		Errors:           vm.FlagSerialSignal | vm.FlagScriptStack,
		ProgramCounter:   0x1234,
		ScriptDone:       true,
		Stack:            []int16{16, -1},
	}, v)
	require.Len(t, f.transfers[0].data, microVariablesSize)

	d, f = newDevice(t, ProductMini12)
	f.variables = []byte{0, 0, 0x00, 0x01, 0x07, 0x00, 0x00, 0x00}
	v, err = d.Variables()
	require.NoError(t, err)
	require.Equal(t, vm.FlagScriptProgramCounter, v.Errors)
	require.Equal(t, uint16(7), v.ProgramCounter)
	require.False(t, v.ScriptDone)
	require.Nil(t, v.Stack)
}

func TestClose(t *testing.T) {
	d, f := newDevice(t, ProductMicro)
	require.NoError(t, d.Close())
	require.True(t, f.closed)
	require.Equal(t, Disconnected, d.State())
	require.NoError(t, d.Close())
	require.ErrorIs(t, d.StopScript(), ErrDisconnected)
}
