package modbus

import (
	"log"
	"time"
)

type tcpFramerStats struct {
	protocolErrors uint32
	overflows      uint32
}

// tcpFramer accumulates bytes from a non-blocking transport into
// length-prefixed MBAP frames. TCP is assumed reliable at the byte level,
// so there is no CRC and no resynchronization: correlation with an
// outstanding request happens solely through the transaction id carried by
// the header.
type tcpFramer struct {
	logger    *logger
	transport Transport
	handler   frameHandler

	rxbuf []byte

	stats tcpFramerStats
}

// Returns a new MBAP framer bound to the given transport.
func newTCPFramer(transport Transport, handler frameHandler,
	customLogger *log.Logger) (tf *tcpFramer) {

	tf = &tcpFramer{
		logger:    newLogger("tcp-framer", customLogger),
		transport: transport,
		handler:   handler,
		rxbuf:     make([]byte, 0, 2*maxTCPFrameLength),
	}

	return
}

// Builds an MBAP frame out of the PDU object and sends it on the wire.
func (tf *tcpFramer) submit(p *pdu, txnId uint16) (err error) {
	var frame []byte
	var n int

	frame = assembleMBAPFrame(txnId, p)

	n, err = tf.transport.Send(frame)
	if err != nil {
		return
	}
	if n != len(frame) {
		err = ErrTransport
	}

	return
}

// Processes the bytes currently available from the transport and returns
// how many were consumed.
func (tf *tcpFramer) poll(now time.Time) (received int, err error) {
	var chunk [256]byte

	received, err = tf.transport.Receive(chunk[:])
	if err != nil {
		return
	}

	if received > 0 {
		if len(tf.rxbuf)+received > cap(tf.rxbuf) {
			// a peer speaking this protocol can never get this far
			// ahead of us: drop the buffer and report
			tf.stats.overflows++
			tf.rxbuf = tf.rxbuf[:0]
			tf.handler(nil, 0, ErrProtocolError)
			return
		}
		tf.rxbuf = append(tf.rxbuf, chunk[:received]...)
	}

	tf.processFrames()

	return
}

// Drops any partially received frame.
func (tf *tcpFramer) reset() {
	tf.rxbuf = tf.rxbuf[:0]

	return
}

// Decodes as many complete MBAP frames as the receive buffer holds.
// Malformed headers consume only the header bytes, so a single bad frame
// does not take the connection down.
func (tf *tcpFramer) processFrames() {
	var txnId, protocolId, lengthField uint16
	var totalLength int
	var p *pdu

	for len(tf.rxbuf) >= mbapHeaderLength {
		txnId = uint16(tf.rxbuf[0])<<8 | uint16(tf.rxbuf[1])
		protocolId = uint16(tf.rxbuf[2])<<8 | uint16(tf.rxbuf[3])
		lengthField = uint16(tf.rxbuf[4])<<8 | uint16(tf.rxbuf[5])

		if protocolId != 0x0000 {
			tf.stats.protocolErrors++
			tf.logger.Warningf("received unexpected protocol id 0x%04x", protocolId)
			tf.handler(nil, txnId, ErrUnknownProtocolId)
			tf.consume(mbapHeaderLength)
			continue
		}

		// the length field covers the unit id, function code and payload
		if lengthField < 2 || int(lengthField) > maxPDULength+1 {
			tf.stats.protocolErrors++
			tf.handler(nil, txnId, ErrProtocolError)
			tf.consume(mbapHeaderLength)
			continue
		}

		totalLength = 6 + int(lengthField)
		if len(tf.rxbuf) < totalLength {
			// incomplete frame, wait for more bytes
			return
		}

		p = &pdu{
			unitId:       tf.rxbuf[6],
			functionCode: tf.rxbuf[7],
			payload:      tf.rxbuf[8:totalLength],
		}

		tf.handler(p, txnId, nil)
		tf.consume(totalLength)
	}

	return
}

func (tf *tcpFramer) consume(count int) {
	tf.rxbuf = tf.rxbuf[:copy(tf.rxbuf, tf.rxbuf[count:])]

	return
}

// TCPSlotHandler receives frames decoded by a TCPSlotGroup, along with the
// index of the slot they arrived on.
type TCPSlotHandler func(slot int, res *Response, txnId uint16, err error)

// TCPSlotGroup tracks several independent MBAP connections, each with its
// own framing cursors, for hosts supervising more than one device at once.
// Each slot remains single-outstanding-request: the group multiplexes
// connections, not transactions.
//
// Like the client engine, a group instance is single-threaded cooperative:
// all I/O happens inside Poll().
type TCPSlotGroup struct {
	logger  *logger
	handler TCPSlotHandler
	slots   []*tcpFramer
}

// Returns a TCP slot group with the given fixed number of slots.
func NewTCPSlotGroup(capacity int, handler TCPSlotHandler,
	customLogger *log.Logger) (sg *TCPSlotGroup, err error) {

	if capacity <= 0 || handler == nil {
		err = ErrConfigurationError
		return
	}

	sg = &TCPSlotGroup{
		logger:  newLogger("tcp-slot-group", customLogger),
		handler: handler,
		slots:   make([]*tcpFramer, capacity),
	}

	return
}

// AddSlot binds a transport to a free slot and returns its index.
func (sg *TCPSlotGroup) AddSlot(transport Transport) (slot int, err error) {
	if transport == nil {
		err = ErrConfigurationError
		return
	}

	for slot = 0; slot < len(sg.slots); slot++ {
		if sg.slots[slot] != nil {
			continue
		}

		idx := slot
		sg.slots[slot] = newTCPFramer(transport, func(p *pdu, txnId uint16, err error) {
			sg.dispatch(idx, p, txnId, err)
		}, nil)

		sg.logger.Infof("slot %v bound", slot)
		return
	}

	err = ErrNoResources

	return
}

// RemoveSlot releases a slot, dropping any partially received frame.
func (sg *TCPSlotGroup) RemoveSlot(slot int) (err error) {
	if slot < 0 || slot >= len(sg.slots) || sg.slots[slot] == nil {
		err = ErrConfigurationError
		return
	}

	sg.slots[slot].reset()
	sg.slots[slot] = nil

	return
}

// Submit sends a request frame on the given slot.
func (sg *TCPSlotGroup) Submit(slot int, txnId uint16, unitId uint8,
	functionCode uint8, payload []byte) (err error) {

	if slot < 0 || slot >= len(sg.slots) || sg.slots[slot] == nil {
		err = ErrConfigurationError
		return
	}
	if len(payload) > maxPayloadLength {
		err = ErrInvalidRequest
		return
	}

	err = sg.slots[slot].submit(&pdu{
		unitId:       unitId,
		functionCode: functionCode,
		payload:      payload,
	}, txnId)

	return
}

// Poll services every bound slot once and returns the total number of
// bytes received across them.
func (sg *TCPSlotGroup) Poll() (received int) {
	var n int
	var err error

	for slot, tf := range sg.slots {
		if tf == nil {
			continue
		}

		n, err = tf.poll(tf.transport.Now())
		received += n
		if err != nil {
			sg.handler(slot, nil, 0, err)
		}
	}

	return
}

func (sg *TCPSlotGroup) dispatch(slot int, p *pdu, txnId uint16, err error) {
	if err != nil || p == nil {
		sg.handler(slot, nil, txnId, err)
		return
	}

	sg.handler(slot, &Response{
		UnitId:       p.unitId,
		FunctionCode: p.functionCode,
		Payload:      append([]byte(nil), p.payload...),
	}, txnId, nil)

	return
}
