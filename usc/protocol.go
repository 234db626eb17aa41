// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usc

import "github.com/beevik/maestro/vm"

// VendorID is the USB vendor ID of every Maestro controller.
const VendorID = 0x1ffb

// USB product IDs.
const (
	ProductMicro  = 0x0089
	ProductMini12 = 0x008a
	ProductMini18 = 0x008b
	ProductMini24 = 0x008c
)

const (
	numBlockBytes  = 16
	tableBlocks    = 2 * vm.NumSlots / numBlockBytes
	requestTypeOut = 0x40
	requestTypeIn  = 0xc0
)

// A Request is a vendor-specific control request understood by the
// controller firmware.
type Request uint8

// Control requests.
const (
	RequestGetParameter                Request = 0x81
	RequestSetParameter                Request = 0x82
	RequestGetVariables                Request = 0x83
	RequestClearErrors                 Request = 0x86
	RequestReinitialize                Request = 0x90
	RequestEraseScript                 Request = 0xa0
	RequestWriteScript                 Request = 0xa1
	RequestSetScriptDone               Request = 0xa2
	RequestRestartScriptAtSub          Request = 0xa3
	RequestRestartScriptAtSubWithParam Request = 0xa4
	RequestRestartScript               Request = 0xa5
)

var requestNames = map[Request]string{
	RequestGetParameter:                "GET_PARAMETER",
	RequestSetParameter:                "SET_PARAMETER",
	RequestGetVariables:                "GET_VARIABLES",
	RequestClearErrors:                 "CLEAR_ERRORS",
	RequestReinitialize:                "REINITIALIZE",
	RequestEraseScript:                 "ERASE_SCRIPT",
	RequestWriteScript:                 "WRITE_SCRIPT",
	RequestSetScriptDone:               "SET_SCRIPT_DONE",
	RequestRestartScriptAtSub:          "RESTART_SCRIPT_AT_SUBROUTINE",
	RequestRestartScriptAtSubWithParam: "RESTART_SCRIPT_AT_SUBROUTINE_WITH_PARAMETER",
	RequestRestartScript:               "RESTART_SCRIPT",
}

func (r Request) String() string {
	if s, ok := requestNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}

// A Parameter identifies a controller setting read or written with the
// GET_PARAMETER and SET_PARAMETER requests.
type Parameter uint8

// Parameters.
const (
	ParamScriptCRC  Parameter = 22
	ParamScriptDone Parameter = 24
)

var paramSizes = map[Parameter]int{
	ParamScriptCRC:  2,
	ParamScriptDone: 1,
}

// Size returns the number of bytes occupied by the parameter's value.
func (p Parameter) Size() int {
	if n, ok := paramSizes[p]; ok {
		return n
	}
	return 1
}

// Values written with SET_SCRIPT_DONE.
const (
	scriptRun  = 0
	scriptStop = 1
	scriptStep = 2
)

// VariantForProduct returns the controller variant for a USB product ID.
func VariantForProduct(product uint16) (vm.Variant, bool) {
	switch product {
	case ProductMicro:
		return vm.Micro, true
	case ProductMini12, ProductMini18, ProductMini24:
		return vm.Mini, true
	default:
		return 0, false
	}
}

// Layout of the GET_VARIABLES response.
const (
	microVariablesSize = 98
	microScriptDone    = 96
	microStackOffset   = 12
	miniVariablesSize  = 8
	miniScriptDone     = 6
)
