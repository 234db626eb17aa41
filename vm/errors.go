// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"fmt"
	"strings"
)

// ErrorFlags hold the error bits latched by a controller. The script
// bits are also raised by the simulator.
type ErrorFlags uint16

// Error bits.
const (
	FlagSerialSignal ErrorFlags = 1 << iota
	FlagSerialOverrun
	FlagSerialBufferFull
	FlagSerialCRC
	FlagSerialProtocol
	FlagSerialTimeout
	FlagScriptStack
	FlagScriptCallStack
	FlagScriptProgramCounter
)

var errorFlagNames = []string{
	"serial signal",
	"serial overrun",
	"serial buffer full",
	"serial crc",
	"serial protocol",
	"serial timeout",
	"script stack",
	"script call stack",
	"script program counter",
}

func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for i, n := range errorFlagNames {
		if f&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	if rest := f &^ (1<<len(errorFlagNames) - 1); rest != 0 {
		names = append(names, fmt.Sprintf("$%04X", uint16(rest)))
	}
	return strings.Join(names, ", ")
}
