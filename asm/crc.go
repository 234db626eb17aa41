// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

// The controller validates scripts with a CRC-16 using the reflected
// polynomial 0xA001 and an initial value of zero.
const crcPolynomial = 0xa001

var crcTable = makeCRCTable(crcPolynomial)

func makeCRCTable(poly uint16) *[256]uint16 {
	t := new([256]uint16)
	for i := range t {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}

// CRC16 updates a CRC-16 checksum with the bytes in b.
func CRC16(crc uint16, b []byte) uint16 {
	for _, v := range b {
		crc = (crc >> 8) ^ crcTable[byte(crc)^v]
	}
	return crc
}
