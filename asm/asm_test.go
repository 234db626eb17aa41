// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/beevik/maestro/vm"
	"github.com/stretchr/testify/require"
)

func compile(code string, v vm.Variant) (*Program, error) {
	return Compile(strings.NewReader(code), "test", v, io.Discard, 0)
}

func hexCode(b []byte) string {
	s := make([]byte, len(b)*2)
	for i, j := 0, 0; i < len(b); i, j = i+1, j+2 {
		s[j+0] = hex[b[i]>>4]
		s[j+1] = hex[b[i]&0x0f]
	}
	return string(s)
}

func checkCode(t *testing.T, code string, expected string) *Program {
	t.Helper()
	p, err := compile(code, vm.Mini)
	require.NoError(t, err)
	require.Equal(t, expected, hexCode(p.Code()))
	return p
}

func checkError(t *testing.T, code string, v vm.Variant, msg string) *SyntaxError {
	t.Helper()
	_, err := compile(code, v)
	require.Error(t, err, "expected error on %q", code)
	require.True(t, IsSyntaxError(err))

	var serr *SyntaxError
	require.True(t, errors.As(err, &serr))
	require.Contains(t, serr.Msg, msg)
	return serr
}

func TestOpcodes(t *testing.T) {
	checkCode(t, "quit return delay get_ms depth drop dup over", "000508090A0B0C0D")
	checkCode(t, "QUIT Servo SPEED acceleration", "002A2C2D")
	checkCode(t, "led_on led_off get_position get_moving_state", "30312E2F")
}

func TestLiteralEncodings(t *testing.T) {
	checkCode(t, "5", "0205")
	checkCode(t, "255", "02FF")
	checkCode(t, "256", "010001")
	checkCode(t, "1 2 servo", "040201022A")
	checkCode(t, "1000 0 servo", "0302E80300002A")
	checkCode(t, "0x10 0xFFFF", "03021000FFFF")
	checkCode(t, "0X0a", "020A")
}

func TestLiteralWidthMinimality(t *testing.T) {
	for v := 0; v <= 255; v++ {
		checkCode(t, fmt.Sprintf("%d", v), fmt.Sprintf("02%02X", v))
	}

	// A single wide value forces the wide encoding for the whole run.
	p := checkCode(t, "1 2 3 256", "03040100020003000001")
	require.Equal(t, byte(vm.LITERAL_N), p.Code()[0])
}

func TestLiteralRuns(t *testing.T) {
	// Literals on consecutive lines are merged into a single push.
	checkCode(t, "1\n2\n3", "0403010203")

	// Anything between two literals ends the run.
	checkCode(t, "1 x: 2", "02010202")
	checkCode(t, "1 drop 2", "02010B0202")
}

func TestComments(t *testing.T) {
	checkCode(t, "1 # 2 3\n# servo\n\t4#5", "04020104")
}

func TestStackDepth(t *testing.T) {
	run := func(n int) string {
		return strings.TrimSpace(strings.Repeat("1 ", n))
	}

	_, err := compile(run(vm.Micro.StackDepth()), vm.Micro)
	require.NoError(t, err)
	checkError(t, run(vm.Micro.StackDepth()+1), vm.Micro, "too many literals")

	_, err = compile(run(vm.Mini.StackDepth()), vm.Mini)
	require.NoError(t, err)
	checkError(t, run(vm.Mini.StackDepth()+1), vm.Mini, "too many literals")

	// Separate runs do not accumulate.
	_, err = compile(run(32)+" drop "+run(32), vm.Micro)
	require.NoError(t, err)
}

func TestLoop(t *testing.T) {
	checkCode(t, "begin 1 while repeat", "0201070800060000")
}

func TestIfElse(t *testing.T) {
	checkCode(t, "1 if 2 else 3 endif", "0201070A000202060C000203")
	checkCode(t, "1 if 2 endif", "02010707000202")
}

func TestNestedBlocks(t *testing.T) {
	_, err := compile("1 if begin 1 while repeat else 2 endif", vm.Micro)
	require.NoError(t, err)

	_, err = compile("begin 1 if 2 else 3 endif repeat", vm.Micro)
	require.NoError(t, err)

	checkError(t, "1 if begin 1 while endif repeat", vm.Micro, "ENDIF must end an IF block")
	checkError(t, "begin 1 if 2 repeat endif", vm.Micro, "REPEAT must end a BEGIN block")
}

func TestStructuralErrors(t *testing.T) {
	checkError(t, "repeat", vm.Micro, "REPEAT must end a BEGIN block")
	checkError(t, "1 while", vm.Micro, "WHILE must be inside")
	checkError(t, "1 if while endif", vm.Micro, "WHILE must be inside")
	checkError(t, "else", vm.Micro, "ELSE must be inside an IF block")
	checkError(t, "1 if else else endif", vm.Micro, "ELSE must be inside an IF block")
	checkError(t, "endif", vm.Micro, "ENDIF must end an IF block")
}

func TestUnterminatedBlock(t *testing.T) {
	serr := checkError(t, "\n  begin\n  1 if\n", vm.Micro, "BEGIN block is never closed")
	require.Equal(t, 2, serr.Line)
	require.Equal(t, 3, serr.Column)

	serr = checkError(t, "begin repeat 1 if", vm.Micro, "IF block is never closed")
	require.Equal(t, 1, serr.Line)
	require.Equal(t, 16, serr.Column)
}

func TestGoto(t *testing.T) {
	checkCode(t, "goto end 1 end:", "0605000201")
	checkCode(t, "top: 1 goto top", "0201060000")
	checkError(t, "goto nowhere 1", vm.Micro, "undefined label 'NOWHERE'")
	checkError(t, "goto", vm.Micro, "GOTO must be followed by a label name")
	checkError(t, "goto 5", vm.Micro, "cannot be a number")
}

func TestGotoAcrossLines(t *testing.T) {
	checkCode(t, "goto\nend\nend:", "060300")
}

func TestLabels(t *testing.T) {
	checkError(t, "a: 1 A:", vm.Micro, "label 'A' used more than once")
	checkError(t, "servo:", vm.Micro, "is the name of a command")
	checkError(t, "begin:", vm.Micro, "is a reserved keyword")
}

func TestSubroutines(t *testing.T) {
	p := checkCode(t, "foo quit sub foo 1 return", "8000020105")

	subs := p.Subroutines()
	require.Len(t, subs, 1)
	require.Equal(t, Subroutine{Name: "FOO", Opcode: vm.FirstSlot, Address: 2}, subs[0])

	table := p.SubroutineTable()
	require.Len(t, table, 256)
	require.Equal(t, []byte{0x02, 0x00, 0xff, 0xff}, table[:4])
	require.Equal(t, []byte{0x02, 0x00}, p.SubroutineBytes())

	s, ok := p.SubroutineByName("FOO")
	require.True(t, ok)
	require.Equal(t, uint16(2), s.Address)
}

func TestSubroutineErrors(t *testing.T) {
	checkError(t, "foo", vm.Micro, "undefined name 'FOO'")
	checkError(t, "sub 5", vm.Micro, "cannot be a number")
	checkError(t, "sub 0x10", vm.Micro, "cannot be a number")
	checkError(t, "sub servo", vm.Micro, "is the name of a command")
	checkError(t, "sub literal", vm.Micro, "is the name of a command")
	checkError(t, "sub begin", vm.Micro, "is a reserved keyword")
	checkError(t, "sub goto", vm.Micro, "is a reserved keyword")
	checkError(t, "sub a return sub a return", vm.Micro, "defined more than once")
	checkError(t, "sub", vm.Micro, "SUB must be followed by a subroutine name")
}

func manySubroutines(n int) string {
	var b strings.Builder
	b.WriteString("S0 quit\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "sub s%d return\n", i)
	}
	fmt.Fprintf(&b, "s%d\n", n-1)
	return b.String()
}

func TestSubroutineSlots(t *testing.T) {
	_, err := compile(manySubroutines(vm.Micro.MaxSubroutines()), vm.Micro)
	require.NoError(t, err)
	checkError(t, manySubroutines(vm.Micro.MaxSubroutines()+1), vm.Micro, "too many subroutines")

	// On the Mini, subroutines beyond the slot table use the generic CALL
	// opcode with a 16-bit address.
	p, err := compile(manySubroutines(vm.NumSlots+2), vm.Mini)
	require.NoError(t, err)

	subs := p.Subroutines()
	require.Len(t, subs, vm.NumSlots+2)
	require.Equal(t, vm.FirstSlot, subs[0].Opcode)
	require.Equal(t, vm.Opcode(255), subs[vm.NumSlots-1].Opcode)
	require.Equal(t, vm.CALL, subs[vm.NumSlots].Opcode)
	require.Equal(t, vm.CALL, subs[vm.NumSlots+1].Opcode)

	// Only slot subroutines contribute to the checksummed table bytes.
	require.Len(t, p.SubroutineBytes(), 2*vm.NumSlots)

	code := p.Code()
	last := subs[vm.NumSlots+1]
	require.Equal(t, []byte{byte(vm.CALL), byte(last.Address), byte(last.Address >> 8)}, code[len(code)-3:])
	require.Equal(t, []byte{byte(vm.FirstSlot), byte(vm.QUIT)}, code[:2])
}

func TestHiddenOpcodes(t *testing.T) {
	for _, op := range []string{"literal", "literal8", "literal_n", "literal8_n", "jump", "jump_z", "call"} {
		checkError(t, op, vm.Mini, "cannot be used directly")
	}
}

func TestExtendedOpcodes(t *testing.T) {
	for _, op := range []string{"pwm", "peek", "poke", "serial_send_byte"} {
		checkError(t, op, vm.Micro, "not supported on the micro Maestro")
		_, err := compile(op, vm.Mini)
		require.NoError(t, err)
	}
}

func TestLiteralErrors(t *testing.T) {
	serr := checkError(t, "\t65536", vm.Micro, "out of range")
	require.Equal(t, 1, serr.Line)
	require.Equal(t, 9, serr.Column)

	checkError(t, "-1", vm.Micro, "out of range")
	checkError(t, "1.5", vm.Micro, "invalid number")
	checkError(t, "0x1.0", vm.Micro, "invalid number")
	checkError(t, "99999999999", vm.Micro, "invalid number")
}

func TestErrorString(t *testing.T) {
	_, err := compile("1\n  bogus", vm.Micro)
	require.EqualError(t, err, "Syntax error in 'test' line 2, col 3: undefined name 'BOGUS'")
}

func TestFinalizeOnce(t *testing.T) {
	u, err := Parse(strings.NewReader("1 2 plus"), "test", vm.Micro, io.Discard, 0)
	require.NoError(t, err)

	_, err = u.Finalize()
	require.NoError(t, err)
	_, err = u.Finalize()
	require.ErrorIs(t, err, ErrFinalized)
}

func TestByteListSentinel(t *testing.T) {
	p, err := compile("1 2 plus", vm.Micro)
	require.NoError(t, err)
	require.Equal(t, append(p.Code(), byte(vm.QUIT)), p.ByteList())

	// A program filling script memory gets no sentinel.
	src := strings.Repeat("dup ", vm.Micro.MaxScriptBytes())
	p, err = compile(src, vm.Micro)
	require.NoError(t, err)
	require.Len(t, p.ByteList(), vm.Micro.MaxScriptBytes())

	// Stored on a Mini, the same program still ends with QUIT.
	image := p.Image(vm.Mini)
	require.Len(t, image, vm.Micro.MaxScriptBytes()+1)
	require.Equal(t, byte(vm.QUIT), image[len(image)-1])
	require.Equal(t, p.CRC(), p.ImageCRC(vm.Micro))
}

func TestChecksumStability(t *testing.T) {
	src := "sub blink 1 led_on 100 delay led_off return\nbegin blink 0 while repeat"
	p1, err := compile(src, vm.Mini)
	require.NoError(t, err)
	p2, err := compile(src, vm.Mini)
	require.NoError(t, err)
	require.Equal(t, p1.ByteList(), p2.ByteList())
	require.Equal(t, p1.CRC(), p2.CRC())

	p3, err := compile(strings.Replace(src, "100", "101", 1), vm.Mini)
	require.NoError(t, err)
	require.NotEqual(t, p1.CRC(), p3.CRC())
}

func TestCRC16(t *testing.T) {
	require.Equal(t, uint16(0xbb3d), CRC16(0, []byte("123456789")))
	require.Equal(t, uint16(0), CRC16(0, nil))

	// Checksums may be computed incrementally.
	crc := CRC16(0, []byte("1234"))
	require.Equal(t, uint16(0xbb3d), CRC16(crc, []byte("56789")))
}

func TestSourceMap(t *testing.T) {
	p, err := compile("1\n\nservo\nbegin\nrepeat", vm.Micro)
	require.NoError(t, err)

	require.Equal(t, []SourceLine{
		{Address: 0, Length: 2, Line: 1},
		{Address: 2, Length: 1, Line: 3},
		{Address: 3, Length: 3, Line: 5},
	}, p.Lines())

	require.Equal(t, 1, p.Search(1))
	require.Equal(t, 3, p.Search(2))
	require.Equal(t, 5, p.Search(5))
	require.Equal(t, -1, p.Search(6))

	line, ok := p.SourceLine(3)
	require.True(t, ok)
	require.Equal(t, "servo", line)
	_, ok = p.SourceLine(6)
	require.False(t, ok)
}

func TestListing(t *testing.T) {
	p, err := compile("sub go\n  1 2 servo\n  return\ngo", vm.Micro)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.Listing(&buf))
	out := buf.String()
	require.Contains(t, out, fmt.Sprintf("%26s | sub go\n", ""))
	require.Contains(t, out, fmt.Sprintf("0000: %-20s |   1 2 servo\n", "04 02 01 02"))
	require.Contains(t, out, fmt.Sprintf("0004: %-20s | \n", "2A"))
	require.Contains(t, out, fmt.Sprintf("0005: %-20s |   return\n", "05"))
	require.Contains(t, out, fmt.Sprintf("0006: %-20s | go\n", "80"))
	require.Contains(t, out, "    0    $80 $0000   GO")
}

func TestImageRoundTrip(t *testing.T) {
	p, err := compile("sub a 1 return\nbegin a 2000 delay repeat", vm.Mini)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = p.WriteTo(&buf)
	require.NoError(t, err)

	q, err := ReadProgram(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, p.Variant(), q.Variant())
	require.Equal(t, p.ByteList(), q.ByteList())
	require.Equal(t, p.Subroutines(), q.Subroutines())
	require.Equal(t, p.Lines(), q.Lines())
	require.Equal(t, p.CRC(), q.CRC())

	_, err = ReadProgram(strings.NewReader("not an image"))
	require.Error(t, err)
}

func TestImageSourceMap(t *testing.T) {
	p, err := compile("1 delay\n2 delay", vm.Micro)
	require.NoError(t, err)

	corrupt := func(lines []SourceLine) error {
		q := *p
		q.lines = lines
		var buf bytes.Buffer
		_, err := q.WriteTo(&buf)
		require.NoError(t, err)
		_, err = ReadProgram(&buf)
		return err
	}

	require.NoError(t, corrupt(p.Lines()))
	require.ErrorIs(t, corrupt([]SourceLine{{Address: 4, Length: 10, Line: 1}}), errImageSourceMap)
	require.ErrorIs(t, corrupt([]SourceLine{{Address: -1, Length: 1, Line: 1}}), errImageSourceMap)
	require.ErrorIs(t, corrupt([]SourceLine{{Address: 0, Length: 2, Line: 3}}), errImageSourceMap)
	require.ErrorIs(t, corrupt([]SourceLine{{Address: 0, Length: 2, Line: 0}}), errImageSourceMap)
}

func TestVerbose(t *testing.T) {
	var buf bytes.Buffer
	_, err := Compile(strings.NewReader("1 servo"), "test", vm.Micro, &buf, Verbose)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "-- Parsing script --")
	require.Contains(t, buf.String(), "-- Generating code --")
}
