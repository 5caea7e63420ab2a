package modbus

import (
	"time"
)

// Transport is the non-blocking byte transport contract consumed by the
// framers and the client engine.
//
// Both Send() and Receive() must return immediately with the number of
// bytes actually moved rather than block: a Receive() returning (0, nil)
// means "nothing available right now" and is not an error.
// Now() must be a monotonic clock; the engine never calls time.Now()
// itself, which keeps all timeout, backoff and watchdog decisions
// deterministic under test.
type Transport interface {
	Send(txbuf []byte) (int, error)
	Receive(rxbuf []byte) (int, error)
	Now() time.Time
}

// Yielder is an optional interface a Transport may implement to
// cooperatively cede the CPU between engine micro-transitions, e.g. on a
// desktop OS. It is never required for correctness.
type Yielder interface {
	Yield()
}

// framer turns the raw byte stream of a Transport into decoded ADUs and
// back. Implementations deliver inbound frames through a callback wired at
// construction time and never block: poll() consumes at most the bytes
// currently available and returns the count.
type framer interface {
	submit(p *pdu, txnId uint16) error
	poll(now time.Time) (received int, err error)
	reset()
}
