package modbus

import (
	"encoding/binary"
)

func uint16ToBytes(bo binary.ByteOrder, in uint16) (out []byte) {
	out = make([]byte, 2)
	bo.PutUint16(out, in)

	return
}

func bytesToUint16(bo binary.ByteOrder, in []byte) (out uint16) {
	out = bo.Uint16(in)

	return
}

func uint16sToBytes(bo binary.ByteOrder, in []uint16) (out []byte) {
	for i := range in {
		out = append(out, uint16ToBytes(bo, in[i])...)
	}

	return
}

func bytesToUint16s(bo binary.ByteOrder, in []byte) (out []uint16) {
	for i := 0; i+1 < len(in); i += 2 {
		out = append(out, bo.Uint16(in[i:i+2]))
	}

	return
}

// Packs booleans LSB-first the way modbus transmits coil values.
func coilsToBytes(in []bool) (out []byte) {
	out = make([]byte, (len(in)+7)/8)
	for i := range in {
		if in[i] {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}

	return
}

func bytesToCoils(in []byte, quantity uint16) (out []bool) {
	out = make([]bool, quantity)
	for i := range out {
		out[i] = in[i/8]&(1<<(uint(i)%8)) != 0
	}

	return
}
