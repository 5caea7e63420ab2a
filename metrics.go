package modbus

import (
	"time"
)

// ClientMetrics is a point-in-time snapshot of the engine's accumulated
// counters. All values are diagnostic taps, not control-flow inputs.
type ClientMetrics struct {
	Submitted      uint64
	Completed      uint64
	Responses      uint64
	Retried        uint64
	TimedOut       uint64
	Errored        uint64
	Cancelled      uint64
	PoisonTriggers uint64
	BytesSent      uint64
	BytesReceived  uint64

	// ResponseLatencyTotal accumulates send-to-response latency over all
	// answered transactions; divide by Responses for the mean.
	ResponseLatencyTotal time.Duration
}

// Diagnostics breaks failures down by class and traffic down by function
// code.
type Diagnostics struct {
	Timeouts         uint64
	CRCErrors        uint64
	TransportErrors  uint64
	Cancellations    uint64
	InvalidRequests  uint64
	NoResources      uint64
	Exceptions       uint64
	UnexpectedFrames uint64

	// ByFunctionCode counts submitted requests per function code.
	ByFunctionCode [256]uint64
}

func (d *Diagnostics) recordStatus(status error) {
	switch status {
	case nil:
	case ErrRequestTimedOut:
		d.Timeouts++
	case ErrBadCRC, ErrShortFrame:
		d.CRCErrors++
	case ErrTransport:
		d.TransportErrors++
	case ErrCancelled:
		d.Cancellations++
	case ErrInvalidRequest, ErrConfigurationError:
		d.InvalidRequests++
	case ErrNoResources:
		d.NoResources++
	case ErrIllegalFunction, ErrIllegalDataAddress, ErrIllegalDataValue,
		ErrServerDeviceFailure, ErrAcknowledge, ErrServerDeviceBusy,
		ErrMemoryParityError, ErrGWPathUnavailable,
		ErrGWTargetFailedToRespond:
		d.Exceptions++
	default:
		d.TransportErrors++
	}

	return
}
