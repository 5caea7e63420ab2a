package modbus

import (
	"encoding/binary"
)

const (
	// RTU frame: unit id + function code + payload + 2 bytes of CRC
	maxRTUFrameLength int = 256
	minRTUFrameLength int = 4

	// TCP frame: 7 bytes of MBAP header + PDU
	maxTCPFrameLength int = 260
	mbapHeaderLength  int = 7
)

// Turns a PDU object into an RTU frame (ADU + trailing CRC).
func assembleRTUFrame(p *pdu) (adu []byte) {
	var crc crc

	adu = append(adu, p.unitId)
	adu = append(adu, p.functionCode)
	adu = append(adu, p.payload...)

	// run the ADU through the CRC generator and append the result
	crc.init()
	crc.add(adu)
	adu = append(adu, crc.value()...)

	return
}

// Validates and decodes an RTU frame into a PDU object.
// The returned payload aliases the input slice.
func decodeRTUFrame(frame []byte) (p *pdu, err error) {
	var crc crc

	if len(frame) < minRTUFrameLength {
		err = ErrShortFrame
		return
	}
	if len(frame) > maxRTUFrameLength {
		err = ErrProtocolError
		return
	}

	// compute the CRC over the entire frame bar its last 2 bytes and
	// compare against the received value before trusting any field
	crc.init()
	crc.add(frame[:len(frame)-2])
	if !crc.isEqual(frame[len(frame)-2], frame[len(frame)-1]) {
		err = ErrBadCRC
		return
	}

	p = &pdu{
		unitId:       frame[0],
		functionCode: frame[1],
		payload:      frame[2 : len(frame)-2],
	}

	return
}

// Returns the expected total length of an inbound RTU response frame, CRC
// included, once at least 3 bytes (unit id, function code and byte
// count/exception code) have been accumulated.
// ok is false when the length cannot be inferred from the function code, in
// which case the framer has to fall back to the t3.5 silence boundary.
func expectedRTUFrameLength(partial []byte) (length int, ok bool) {
	var functionCode uint8

	if len(partial) < 3 {
		return
	}

	functionCode = partial[1]

	if functionCode&fcExceptionBit != 0 {
		// exception responses carry a single exception code byte
		length, ok = 5, true
		return
	}

	switch functionCode {
	case fcReadCoils,
		fcReadDiscreteInputs,
		fcReadHoldingRegisters,
		fcReadInputRegisters,
		fcReadWriteMultipleRegisters:
		// unit id + fc + byte count + data + crc
		length, ok = 3+int(partial[2])+2, true
	case fcWriteSingleCoil,
		fcWriteSingleRegister,
		fcWriteMultipleCoils,
		fcWriteMultipleRegisters:
		// unit id + fc + address + value/quantity + crc
		length, ok = 8, true
	case fcMaskWriteRegister:
		length, ok = 10, true
	default:
		// fifo reads and vendor function codes: undetermined
	}

	return
}

// Turns a PDU into an MBAP frame (MBAP header + PDU) and returns it as bytes.
func assembleMBAPFrame(txnId uint16, p *pdu) (frame []byte) {
	// transaction identifier
	frame = uint16ToBytes(binary.BigEndian, txnId)
	// protocol identifier (always 0x0000)
	frame = append(frame, 0x00, 0x00)
	// length (covers unit identifier + function code + payload fields)
	frame = append(frame, uint16ToBytes(binary.BigEndian, uint16(2+len(p.payload)))...)
	// unit identifier
	frame = append(frame, p.unitId)
	// function code
	frame = append(frame, p.functionCode)
	// payload
	frame = append(frame, p.payload...)

	return
}
