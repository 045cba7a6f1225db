// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

// CRC-16/CCITT-FALSE parameters: poly 0x1021, init 0xFFFF, no reflection,
// no final xor. Check value for "123456789" is 0x29B1.
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

var crcTable = makeCRCTable()

func makeCRCTable() (table [256]uint16) {
	for i := range table {
		crc := uint16(i) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CalculateCRC returns the CRC-16/CCITT-FALSE of data. A v2 record stores it
// at offset 10 over the CBOR body, so a torn or bit-flipped body never decodes
// as a valid configuration.
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
