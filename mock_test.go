package modbus

import (
	"time"
)

// mockTransport implements Transport (and Yielder) over in-memory
// buffers, with a manually advanced clock so that tests control time.
type mockTransport struct {
	now       time.Time
	rxData    []byte
	txFrames  [][]byte
	sendCount int
	chunkSize int
	sendErr   error
	recvErr   error
	yields    int

	// onSend, when set, is invoked with a copy of each transmitted
	// frame. Used to build auto-responders.
	onSend func(mt *mockTransport, frame []byte)
}

func newMockTransport() (mt *mockTransport) {
	mt = &mockTransport{
		now: time.Unix(1000, 0),
	}

	return
}

func (mt *mockTransport) Send(txbuf []byte) (sent int, err error) {
	var frame []byte

	if mt.sendErr != nil {
		err = mt.sendErr
		return
	}

	frame = append(frame, txbuf...)
	mt.txFrames = append(mt.txFrames, frame)
	mt.sendCount++
	sent = len(txbuf)

	if mt.onSend != nil {
		mt.onSend(mt, frame)
	}

	return
}

func (mt *mockTransport) Receive(rxbuf []byte) (received int, err error) {
	if mt.recvErr != nil {
		err = mt.recvErr
		mt.recvErr = nil
		return
	}

	received = len(mt.rxData)
	if received > len(rxbuf) {
		received = len(rxbuf)
	}
	if mt.chunkSize > 0 && received > mt.chunkSize {
		received = mt.chunkSize
	}

	copy(rxbuf, mt.rxData[:received])
	mt.rxData = mt.rxData[received:]

	return
}

func (mt *mockTransport) Now() (now time.Time) {
	now = mt.now

	return
}

func (mt *mockTransport) Yield() {
	mt.yields++

	return
}

func (mt *mockTransport) feed(data []byte) {
	mt.rxData = append(mt.rxData, data...)

	return
}

func (mt *mockTransport) advance(d time.Duration) {
	mt.now = mt.now.Add(d)

	return
}

func (mt *mockTransport) lastFrame() (frame []byte) {
	if len(mt.txFrames) > 0 {
		frame = mt.txFrames[len(mt.txFrames)-1]
	}

	return
}
