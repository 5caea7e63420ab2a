package modbus

import (
	"encoding/binary"
)

type RegType uint

const (
	HOLDING_REGISTER RegType = 0
	INPUT_REGISTER   RegType = 1
)

// NewReadCoilsRequest builds a read coils (0x01) request for quantity
// coils starting at addr.
func NewReadCoilsRequest(unitId uint8, addr uint16, quantity uint16) (req *Request, err error) {
	req, err = newReadBitsRequest(unitId, fcReadCoils, addr, quantity)

	return
}

// NewReadDiscreteInputsRequest builds a read discrete inputs (0x02)
// request for quantity inputs starting at addr.
func NewReadDiscreteInputsRequest(unitId uint8, addr uint16, quantity uint16) (req *Request, err error) {
	req, err = newReadBitsRequest(unitId, fcReadDiscreteInputs, addr, quantity)

	return
}

// NewReadRegistersRequest builds a read holding registers (0x03) or read
// input registers (0x04) request, depending on regType, for quantity
// registers starting at addr.
func NewReadRegistersRequest(unitId uint8, regType RegType, addr uint16, quantity uint16) (req *Request, err error) {
	var functionCode uint8

	switch regType {
	case HOLDING_REGISTER:
		functionCode = fcReadHoldingRegisters
	case INPUT_REGISTER:
		functionCode = fcReadInputRegisters
	default:
		err = ErrInvalidRequest
		return
	}

	if quantity == 0 || quantity > 125 {
		err = ErrInvalidRequest
		return
	}
	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		err = ErrInvalidRequest
		return
	}

	req = &Request{
		UnitId:       unitId,
		FunctionCode: functionCode,
		Payload:      readRequestPayload(addr, quantity),
	}

	return
}

// NewWriteCoilRequest builds a write single coil (0x05) request.
func NewWriteCoilRequest(unitId uint8, addr uint16, value bool) (req *Request, err error) {
	var encoded uint16

	if value {
		encoded = 0xff00
	}

	req = &Request{
		UnitId:       unitId,
		FunctionCode: fcWriteSingleCoil,
		Payload: append(
			uint16ToBytes(binary.BigEndian, addr),
			uint16ToBytes(binary.BigEndian, encoded)...),
	}

	return
}

// NewWriteRegisterRequest builds a write single register (0x06) request.
func NewWriteRegisterRequest(unitId uint8, addr uint16, value uint16) (req *Request, err error) {
	req = &Request{
		UnitId:       unitId,
		FunctionCode: fcWriteSingleRegister,
		Payload: append(
			uint16ToBytes(binary.BigEndian, addr),
			uint16ToBytes(binary.BigEndian, value)...),
	}

	return
}

// NewWriteCoilsRequest builds a write multiple coils (0x0f) request
// writing values starting at addr.
func NewWriteCoilsRequest(unitId uint8, addr uint16, values []bool) (req *Request, err error) {
	var quantity uint16
	var payload []byte

	if len(values) == 0 || len(values) > 0x7b0 {
		err = ErrInvalidRequest
		return
	}
	quantity = uint16(len(values))
	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		err = ErrInvalidRequest
		return
	}

	payload = append(payload, uint16ToBytes(binary.BigEndian, addr)...)
	payload = append(payload, uint16ToBytes(binary.BigEndian, quantity)...)
	payload = append(payload, byte((quantity+7)/8))
	payload = append(payload, coilsToBytes(values)...)

	req = &Request{
		UnitId:       unitId,
		FunctionCode: fcWriteMultipleCoils,
		Payload:      payload,
	}

	return
}

// NewWriteRegistersRequest builds a write multiple registers (0x10)
// request writing values starting at addr.
func NewWriteRegistersRequest(unitId uint8, addr uint16, values []uint16) (req *Request, err error) {
	var quantity uint16
	var payload []byte

	if len(values) == 0 || len(values) > 123 {
		err = ErrInvalidRequest
		return
	}
	quantity = uint16(len(values))
	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		err = ErrInvalidRequest
		return
	}

	payload = append(payload, uint16ToBytes(binary.BigEndian, addr)...)
	payload = append(payload, uint16ToBytes(binary.BigEndian, quantity)...)
	payload = append(payload, byte(quantity*2))
	payload = append(payload, uint16sToBytes(binary.BigEndian, values)...)

	req = &Request{
		UnitId:       unitId,
		FunctionCode: fcWriteMultipleRegisters,
		Payload:      payload,
	}

	return
}

// NewMaskWriteRegisterRequest builds a mask write register (0x16) request.
// The target register is updated to (current AND andMask) OR
// (orMask AND NOT andMask).
func NewMaskWriteRegisterRequest(unitId uint8, addr uint16, andMask uint16, orMask uint16) (req *Request, err error) {
	var payload []byte

	payload = append(payload, uint16ToBytes(binary.BigEndian, addr)...)
	payload = append(payload, uint16ToBytes(binary.BigEndian, andMask)...)
	payload = append(payload, uint16ToBytes(binary.BigEndian, orMask)...)

	req = &Request{
		UnitId:       unitId,
		FunctionCode: fcMaskWriteRegister,
		Payload:      payload,
	}

	return
}

// NewReadFifoQueueRequest builds a read FIFO queue (0x18) request.
func NewReadFifoQueueRequest(unitId uint8, addr uint16) (req *Request, err error) {
	req = &Request{
		UnitId:       unitId,
		FunctionCode: fcReadFifoQueue,
		Payload:      uint16ToBytes(binary.BigEndian, addr),
	}

	return
}

// DecodeRegisters decodes a read registers response expected to carry
// quantity 16-bit values.
func DecodeRegisters(res *Response, quantity uint16) (values []uint16, err error) {
	if res == nil || quantity == 0 || quantity > 125 {
		err = ErrInvalidRequest
		return
	}
	if res.FunctionCode&fcExceptionBit != 0 {
		err = decodeExceptionPayload(res)
		return
	}
	if len(res.Payload) != 1+int(quantity)*2 ||
		res.Payload[0] != byte(quantity*2) {
		err = ErrProtocolError
		return
	}

	values = bytesToUint16s(binary.BigEndian, res.Payload[1:])

	return
}

// DecodeCoils decodes a read coils or read discrete inputs response
// expected to carry quantity bit values.
func DecodeCoils(res *Response, quantity uint16) (values []bool, err error) {
	var expected int

	if res == nil || quantity == 0 || quantity > 2000 {
		err = ErrInvalidRequest
		return
	}
	if res.FunctionCode&fcExceptionBit != 0 {
		err = decodeExceptionPayload(res)
		return
	}

	expected = (int(quantity) + 7) / 8
	if len(res.Payload) != 1+expected || res.Payload[0] != byte(expected) {
		err = ErrProtocolError
		return
	}

	values = bytesToCoils(res.Payload[1:], quantity)

	return
}

// DecodeWriteEcho checks a single/multiple write response against the
// address it should echo and returns the echoed value field (the written
// value for single writes, the quantity for multiple writes).
func DecodeWriteEcho(res *Response, addr uint16) (value uint16, err error) {
	if res == nil {
		err = ErrInvalidRequest
		return
	}
	if res.FunctionCode&fcExceptionBit != 0 {
		err = decodeExceptionPayload(res)
		return
	}
	if len(res.Payload) != 4 ||
		bytesToUint16(binary.BigEndian, res.Payload[0:2]) != addr {
		err = ErrProtocolError
		return
	}

	value = bytesToUint16(binary.BigEndian, res.Payload[2:4])

	return
}

func newReadBitsRequest(unitId uint8, functionCode uint8, addr uint16, quantity uint16) (req *Request, err error) {
	if quantity == 0 || quantity > 2000 {
		err = ErrInvalidRequest
		return
	}
	if uint32(addr)+uint32(quantity)-1 > 0xffff {
		err = ErrInvalidRequest
		return
	}

	req = &Request{
		UnitId:       unitId,
		FunctionCode: functionCode,
		Payload:      readRequestPayload(addr, quantity),
	}

	return
}

func readRequestPayload(addr uint16, quantity uint16) (payload []byte) {
	payload = append(payload,
		uint16ToBytes(binary.BigEndian, addr)...)
	payload = append(payload,
		uint16ToBytes(binary.BigEndian, quantity)...)

	return
}

func decodeExceptionPayload(res *Response) (err error) {
	if len(res.Payload) == 1 {
		err = mapExceptionCodeToError(res.Payload[0])
	} else {
		err = ErrProtocolError
	}

	return
}
