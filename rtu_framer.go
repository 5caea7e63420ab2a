package modbus

import (
	"log"
	"time"
)

// frameHandler receives decoded inbound frames (or decode failures, with a
// nil pdu) from a framer. The transaction id is only meaningful for TCP
// framers and is zero for RTU.
// The pdu payload may alias framer-owned storage: handlers must copy
// whatever they keep past the call.
type frameHandler func(p *pdu, txnId uint16, err error)

type rtuFramerStats struct {
	crcErrors         uint32
	shortFrames       uint32
	overflows         uint32
	duplicatesDropped uint32
}

// rtuFramer accumulates bytes from a non-blocking transport, detects frame
// boundaries using the t3.5 inter-byte silence timeout (or the length
// implied by the function code, when it can be inferred earlier), validates
// the CRC and emits decoded ADUs.
//
// On CRC failure the accumulated bytes are not discarded wholesale: they
// are handed to the resynchronizer, which relocates the next plausible
// frame start inside the same bytes.
type rtuFramer struct {
	logger    *logger
	transport Transport
	handler   frameHandler
	filter    *DuplicateFilter

	buf       [maxRTUFrameLength]byte
	index     int
	receiving bool
	lastByte  time.Time
	t35       time.Duration

	resync    rtuResynchronizer
	resyncing bool

	stats rtuFramerStats
}

// Returns a new RTU framer bound to the given transport.
// speed is the serial line rate in bauds, used to derive t3.5; a non-zero
// silence overrides the derived value. filter may be nil to disable
// duplicate suppression.
func newRTUFramer(transport Transport, speed uint, silence time.Duration,
	filter *DuplicateFilter, handler frameHandler,
	customLogger *log.Logger) (rf *rtuFramer) {

	rf = &rtuFramer{
		logger:    newLogger("rtu-framer", customLogger),
		transport: transport,
		handler:   handler,
		filter:    filter,
	}

	if speed == 0 {
		speed = 9600
	}

	switch {
	case silence > 0:
		rf.t35 = silence
	case speed >= 19200:
		// for baud rates equal to or greater than 19200 bauds, a fixed
		// value of 1750 uS is specified for t3.5
		rf.t35 = 1750 * time.Microsecond
	default:
		// for lower baud rates, the inter-frame delay is 3.5 character
		// times
		rf.t35 = (serialCharTime(speed) * 35) / 10
	}

	return
}

// Builds an RTU frame out of the PDU object and sends it on the wire.
// The transaction id is unused on serial links.
func (rf *rtuFramer) submit(p *pdu, _ uint16) (err error) {
	var frame []byte
	var n int

	frame = assembleRTUFrame(p)

	n, err = rf.transport.Send(frame)
	if err != nil {
		return
	}
	if n != len(frame) {
		err = ErrTransport
	}

	return
}

// Processes the bytes currently available from the transport and returns
// how many were consumed. Never blocks: a transport with nothing pending
// costs a single Receive() call.
func (rf *rtuFramer) poll(now time.Time) (received int, err error) {
	var chunk [64]byte
	var i int

	received, err = rf.transport.Receive(chunk[:])
	if err != nil {
		return
	}

	for i = 0; i < received; i++ {
		rf.processByte(chunk[i], now)
	}

	// a silence gap of t3.5 or more marks a frame boundary
	if rf.receiving && !rf.resyncing && now.Sub(rf.lastByte) >= rf.t35 {
		rf.finalizeFrame(now)
	}

	if rf.resyncing {
		rf.drainResync(now)
		if rf.resync.available() == 0 {
			rf.resyncing = false
		} else if now.Sub(rf.lastByte) >= rf.t35 {
			// the line went quiet around bytes that never became a
			// frame: they are stale noise
			rf.resync.discard(rf.resync.available())
			rf.resyncing = false
		}
	}

	return
}

// Drops any partial frame and resynchronization state.
func (rf *rtuFramer) reset() {
	rf.index = 0
	rf.receiving = false
	rf.resync.clear()
	rf.resyncing = false

	return
}

func (rf *rtuFramer) processByte(b byte, now time.Time) {
	var length int
	var ok bool

	rf.lastByte = now

	if rf.resyncing {
		rf.resync.push([]byte{b})
		return
	}

	if rf.index >= maxRTUFrameLength {
		// no boundary found within the maximum frame size: drop the
		// accumulator and start over
		rf.stats.overflows++
		rf.index = 0
		rf.receiving = false
	}

	rf.buf[rf.index] = b
	rf.index++
	rf.receiving = true

	// when the accumulated length matches the length implied by the
	// function code, decode without waiting out the silence timeout
	length, ok = expectedRTUFrameLength(rf.buf[:rf.index])
	if ok && rf.index == length {
		rf.finalizeFrame(now)
	}

	return
}

func (rf *rtuFramer) finalizeFrame(now time.Time) {
	var p *pdu
	var err error

	if rf.index < minRTUFrameLength {
		rf.stats.shortFrames++
		rf.handler(nil, 0, ErrShortFrame)
		rf.index = 0
		rf.receiving = false
		return
	}

	p, err = decodeRTUFrame(rf.buf[:rf.index])

	switch err {
	case nil:
		rf.index = 0
		rf.receiving = false
		rf.deliver(p, now)

	case ErrBadCRC:
		rf.stats.crcErrors++
		// hand the accumulated bytes to the resynchronizer and report
		// the failure for telemetry; parsing resumes from the next
		// plausible frame start inside the same bytes
		rf.resync.push(rf.buf[:rf.index])
		rf.resyncing = true
		rf.index = 0
		rf.receiving = false
		rf.handler(nil, 0, ErrBadCRC)
		rf.drainResync(now)

	default:
		rf.index = 0
		rf.receiving = false
		rf.handler(nil, 0, err)
	}

	return
}

// Runs the duplicate filter, if any, before handing the frame up.
func (rf *rtuFramer) deliver(p *pdu, now time.Time) {
	var hash uint32

	if rf.filter != nil {
		hash = FrameHash(p.unitId, p.functionCode, p.payload)
		if rf.filter.Check(hash, now) {
			rf.stats.duplicatesDropped++
			rf.logger.Warningf("dropped duplicate frame (unit id: %v, function code: 0x%02x)",
				p.unitId, p.functionCode)
			return
		}
		rf.filter.Add(hash, now)
	}

	rf.handler(p, 0, nil)

	return
}

// Attempts to recover whole frames out of the resynchronizer window.
// Returns with bytes left in the window only when they may yet grow into a
// complete frame.
func (rf *rtuFramer) drainResync(now time.Time) {
	var scratch [maxRTUFrameLength]byte
	var offset, avail, length int
	var ok bool
	var p *pdu
	var err error

	for {
		offset = rf.resync.findFrameStart()
		if offset < 0 {
			// no plausible frame start: the whole window is noise
			rf.resync.discard(rf.resync.available())
			return
		}
		if offset > 0 {
			rf.resync.discard(offset)
		}

		avail = rf.resync.copyTo(scratch[:])
		if avail < minRTUFrameLength {
			// a candidate, but not enough bytes yet
			return
		}

		length, ok = expectedRTUFrameLength(scratch[:avail])
		if !ok || length < minRTUFrameLength || length > maxRTUFrameLength {
			// cannot infer a boundary from this candidate: skip it
			rf.resync.discard(1)
			continue
		}
		if avail < length {
			// incomplete frame, wait for more bytes
			return
		}

		if quickCRCCheck(scratch[:length]) {
			p, err = decodeRTUFrame(scratch[:length])
			if err == nil {
				rf.resync.consume(length)
				rf.resync.stats.framesRecovered++
				rf.deliver(p, now)
				continue
			}
		}

		// the candidate failed its CRC: resume the scan one byte in
		rf.resync.discard(1)
	}
}

// Returns how long it takes to send 1 byte on a serial line at the
// specified baud rate.
func serialCharTime(rate_bps uint) (ct time.Duration) {
	// note: an RTU byte on the wire is:
	// - 1 start bit,
	// - 8 data bits,
	// - 1 parity or stop bit
	// - 1 stop bit
	ct = (11) * time.Second / time.Duration(rate_bps)

	return
}
