package modbus

import (
	"fmt"
)

// pdu holds a decoded Application Data Unit, independent of transport
// framing (no CRC, no MBAP header).
type pdu struct {
	unitId       uint8
	functionCode uint8
	payload      []byte
}

type Error string

// Error implements the error interface.
func (me Error) Error() (s string) {
	s = string(me)
	return
}

const (
	// coils
	fcReadCoils          uint8 = 0x01
	fcWriteSingleCoil    uint8 = 0x05
	fcWriteMultipleCoils uint8 = 0x0f

	// discrete inputs
	fcReadDiscreteInputs uint8 = 0x02

	// 16-bit input/holding registers
	fcReadHoldingRegisters       uint8 = 0x03
	fcReadInputRegisters         uint8 = 0x04
	fcWriteSingleRegister        uint8 = 0x06
	fcWriteMultipleRegisters     uint8 = 0x10
	fcMaskWriteRegister          uint8 = 0x16
	fcReadWriteMultipleRegisters uint8 = 0x17
	fcReadFifoQueue              uint8 = 0x18

	// exception bit: set on the function code of an exception response
	fcExceptionBit uint8 = 0x80

	// exception codes
	exIllegalFunction         uint8 = 0x01
	exIllegalDataAddress      uint8 = 0x02
	exIllegalDataValue        uint8 = 0x03
	exServerDeviceFailure     uint8 = 0x04
	exAcknowledge             uint8 = 0x05
	exServerDeviceBusy        uint8 = 0x06
	exMemoryParityError       uint8 = 0x08
	exGWPathUnavailable       uint8 = 0x0a
	exGWTargetFailedToRespond uint8 = 0x0b

	// errors
	ErrConfigurationError      Error = "configuration error"
	ErrInvalidRequest          Error = "invalid request"
	ErrNoResources             Error = "no free transaction slot or queue full"
	ErrRequestTimedOut         Error = "request timed out"
	ErrTransport               Error = "transport failure"
	ErrCancelled               Error = "transaction cancelled"
	ErrIllegalFunction         Error = "illegal function"
	ErrIllegalDataAddress      Error = "illegal data address"
	ErrIllegalDataValue        Error = "illegal data value"
	ErrServerDeviceFailure     Error = "server device failure"
	ErrAcknowledge             Error = "request acknowledged"
	ErrServerDeviceBusy        Error = "server device busy"
	ErrMemoryParityError       Error = "memory parity error"
	ErrGWPathUnavailable       Error = "gateway path unavailable"
	ErrGWTargetFailedToRespond Error = "gateway target device failed to respond"
	ErrBadCRC                  Error = "bad crc"
	ErrShortFrame              Error = "short frame"
	ErrProtocolError           Error = "protocol error"
	ErrBadUnitId               Error = "bad unit id"
	ErrBadTransactionId        Error = "bad transaction id"
	ErrUnknownProtocolId       Error = "unknown protocol identifier"
)

const (
	// maxPDULength is the maximum length of a protocol data unit
	// (function code + payload), as per the modbus spec.
	maxPDULength int = 253

	// maxPayloadLength is the maximum length of a PDU payload.
	maxPayloadLength int = maxPDULength - 1

	// unit identifier 0 is the broadcast address and 248-255 are reserved:
	// only 1-247 identify an addressable device.
	minSlaveAddress uint8 = 1
	maxSlaveAddress uint8 = 247
)

// Returns true if addr falls within the addressable (non-broadcast,
// non-reserved) unit identifier range.
func isValidSlaveAddress(addr uint8) (valid bool) {
	valid = addr >= minSlaveAddress && addr <= maxSlaveAddress

	return
}

// Returns true if p carries a modbus exception response.
func isExceptionResponse(p *pdu) (is bool) {
	is = p != nil && (p.functionCode&fcExceptionBit) != 0

	return
}

// mapExceptionCodeToError turns a modbus exception code into a higher level Error object.
func mapExceptionCodeToError(exceptionCode uint8) (err error) {
	switch exceptionCode {
	case exIllegalFunction:
		err = ErrIllegalFunction
	case exIllegalDataAddress:
		err = ErrIllegalDataAddress
	case exIllegalDataValue:
		err = ErrIllegalDataValue
	case exServerDeviceFailure:
		err = ErrServerDeviceFailure
	case exAcknowledge:
		err = ErrAcknowledge
	case exMemoryParityError:
		err = ErrMemoryParityError
	case exServerDeviceBusy:
		err = ErrServerDeviceBusy
	case exGWPathUnavailable:
		err = ErrGWPathUnavailable
	case exGWTargetFailedToRespond:
		err = ErrGWTargetFailedToRespond
	default:
		err = fmt.Errorf("unknown exception code (%v)", exceptionCode)
	}

	return
}
