package modbus

import (
	"time"

	"go.bug.st/serial"
)

const (
	PARITY_NONE uint = 0
	PARITY_EVEN uint = 1
	PARITY_ODD  uint = 2
)

type SerialConfiguration struct {
	// Device is the serial device path (e.g. /dev/ttyUSB0).
	Device string
	// Speed is the line rate in bauds (defaults to 9600).
	Speed uint
	// DataBits is the number of bits per character (defaults to 8).
	DataBits uint
	// Parity selects PARITY_NONE, PARITY_EVEN or PARITY_ODD
	// (defaults to PARITY_NONE).
	Parity uint
	// StopBits is either 1 or 2 (defaults to 2, per the modbus spec for
	// parity-less links).
	StopBits uint
}

// serialPort adapts a physical serial port to the engine's
// non-blocking Transport contract: reads use a short hardware timeout
// which is masked into a (0, nil) would-block result.
type serialPort struct {
	port serial.Port
}

// NewSerialTransport opens the serial device described by conf and
// returns it wrapped as a Transport. The returned transport also
// implements io.Closer.
func NewSerialTransport(conf *SerialConfiguration) (st Transport, err error) {
	var parity serial.Parity
	var stopBits serial.StopBits
	var port serial.Port

	if conf == nil || conf.Device == "" {
		err = ErrConfigurationError
		return
	}

	if conf.Speed == 0 {
		conf.Speed = 9600
	}
	if conf.DataBits == 0 {
		conf.DataBits = 8
	}
	if conf.StopBits == 0 {
		conf.StopBits = 2
	}

	switch conf.Parity {
	case PARITY_NONE:
		parity = serial.NoParity
	case PARITY_EVEN:
		parity = serial.EvenParity
	case PARITY_ODD:
		parity = serial.OddParity
	default:
		err = ErrConfigurationError
		return
	}

	switch conf.StopBits {
	case 1:
		stopBits = serial.OneStopBit
	case 2:
		stopBits = serial.TwoStopBits
	default:
		err = ErrConfigurationError
		return
	}

	port, err = serial.Open(conf.Device, &serial.Mode{
		BaudRate: int(conf.Speed),
		DataBits: int(conf.DataBits),
		Parity:   parity,
		StopBits: stopBits,
	})
	if err != nil {
		return
	}

	// a very short read timeout turns port.Read() into an effectively
	// non-blocking call
	err = port.SetReadTimeout(1 * time.Millisecond)
	if err != nil {
		port.Close()
		return
	}

	st = &serialPort{
		port: port,
	}

	return
}

func (sp *serialPort) Send(txbuf []byte) (sent int, err error) {
	sent, err = sp.port.Write(txbuf)

	return
}

// Receive performs one bounded read attempt. An expired read timeout
// surfaces as (0, nil), which the engine treats as "no bytes yet".
func (sp *serialPort) Receive(rxbuf []byte) (received int, err error) {
	received, err = sp.port.Read(rxbuf)
	if err == nil && received == 0 {
		// read timeout with no data
		return
	}

	return
}

func (sp *serialPort) Now() (now time.Time) {
	now = time.Now()

	return
}

// Close closes the underlying serial port.
func (sp *serialPort) Close() (err error) {
	err = sp.port.Close()

	return
}
