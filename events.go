package modbus

import (
	"time"
)

type EventType uint

const (
	EVENT_STATE_ENTER EventType = iota
	EVENT_STATE_EXIT
	EVENT_TX_SUBMIT
	EVENT_TX_COMPLETE
)

// Event is a diagnostic tap emitted by the client engine on state entry
// and exit and on transaction submission and completion. Events are
// observability only: the engine never reads them back.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// State is set on EVENT_STATE_ENTER/EVENT_STATE_EXIT.
	State ClientState

	// FunctionCode and Status are set on EVENT_TX_SUBMIT/EVENT_TX_COMPLETE.
	FunctionCode uint8
	Status       error
}

// EventCallback is invoked synchronously from within the engine: it must
// not call back into the client.
type EventCallback func(ev Event)

func (et EventType) String() (s string) {
	switch et {
	case EVENT_STATE_ENTER:
		s = "state-enter"
	case EVENT_STATE_EXIT:
		s = "state-exit"
	case EVENT_TX_SUBMIT:
		s = "tx-submit"
	case EVENT_TX_COMPLETE:
		s = "tx-complete"
	default:
		s = "unknown"
	}

	return
}
