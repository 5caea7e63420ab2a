package modbus

// resyncBufferLength bounds the lookback window used to relocate a frame
// boundary after corruption. It is a best-effort window, not a
// guaranteed-delivery log: the oldest unread byte is evicted (and counted)
// when the window overflows.
const resyncBufferLength int = 512

type resyncStats struct {
	attempts        uint32
	bytesDiscarded  uint32
	framesRecovered uint32
}

// rtuResynchronizer recovers frame alignment after line noise without
// waiting out a full t3.5 silence per discarded byte. It is a pure
// byte-pattern search over a circular buffer plus statistics: all timing
// remains the framer's responsibility.
type rtuResynchronizer struct {
	buf  [resyncBufferLength]byte
	head int
	tail int
	// candidate is the cached scan position (relative to tail), so that
	// repeated scans over a long noise burst stay O(n) overall.
	candidate int
	stats     resyncStats
}

// Appends raw bytes to the lookback window, evicting the oldest bytes when
// the window is full.
func (rs *rtuResynchronizer) push(data []byte) {
	var nextHead int

	for _, b := range data {
		nextHead = (rs.head + 1) % resyncBufferLength
		if nextHead == rs.tail {
			// full: evict the oldest unread byte
			rs.tail = (rs.tail + 1) % resyncBufferLength
			rs.stats.bytesDiscarded++
			if rs.candidate > 0 {
				rs.candidate--
			}
		}
		rs.buf[rs.head] = b
		rs.head = nextHead
	}

	return
}

// Returns the number of unconsumed bytes in the window.
func (rs *rtuResynchronizer) available() (count int) {
	if rs.head >= rs.tail {
		count = rs.head - rs.tail
	} else {
		count = resyncBufferLength - rs.tail + rs.head
	}

	return
}

// Scans forward from the cached candidate position for the first byte that
// could plausibly start a frame (a valid slave address, 1-247) and returns
// its offset relative to the oldest unconsumed byte, or -1 if the window
// holds no candidate. The position is cached so the next scan resumes where
// this one left off.
func (rs *rtuResynchronizer) findFrameStart() (offset int) {
	var avail, pos int

	offset = -1
	rs.stats.attempts++

	avail = rs.available()
	if avail < minRTUFrameLength {
		return
	}

	for pos = rs.candidate; pos < avail; pos++ {
		if isValidSlaveAddress(rs.buf[(rs.tail+pos)%resyncBufferLength]) {
			rs.candidate = pos
			offset = pos
			return
		}
	}

	rs.candidate = 0

	return
}

// Drops up to count bytes from the front of the window, counting them as
// discarded and rebasing the cached scan position. Discarding more bytes
// than are available is clamped, never an underflow.
func (rs *rtuResynchronizer) discard(count int) {
	var avail int

	avail = rs.available()
	if count > avail {
		count = avail
	}
	if count <= 0 {
		return
	}

	rs.tail = (rs.tail + count) % resyncBufferLength
	rs.stats.bytesDiscarded += uint32(count)

	if rs.candidate >= count {
		rs.candidate -= count
	} else {
		rs.candidate = 0
	}

	return
}

// Consumes count bytes from the front of the window without counting them
// as discarded (used when a recovered frame is handed back to the framer).
func (rs *rtuResynchronizer) consume(count int) {
	var avail int

	avail = rs.available()
	if count > avail {
		count = avail
	}

	rs.tail = (rs.tail + count) % resyncBufferLength
	if rs.candidate >= count {
		rs.candidate -= count
	} else {
		rs.candidate = 0
	}

	return
}

// Copies up to len(dest) unconsumed bytes into dest, oldest first, without
// consuming them. Returns the number of bytes copied.
func (rs *rtuResynchronizer) copyTo(dest []byte) (copied int) {
	var avail, pos int

	avail = rs.available()
	if len(dest) < avail {
		avail = len(dest)
	}

	pos = rs.tail
	for copied = 0; copied < avail; copied++ {
		dest[copied] = rs.buf[pos]
		pos = (pos + 1) % resyncBufferLength
	}

	return
}

// Empties the window and resets the scan position. Statistics survive.
func (rs *rtuResynchronizer) clear() {
	rs.head = 0
	rs.tail = 0
	rs.candidate = 0

	return
}

// Performs a full CRC validation over a candidate frame slice, so that
// obviously-wrong candidates are rejected in O(len) without invoking the
// heavier structural decoder.
func quickCRCCheck(frame []byte) (ok bool) {
	var received uint16

	if len(frame) < minRTUFrameLength {
		return
	}

	received = uint16(frame[len(frame)-1])<<8 | uint16(frame[len(frame)-2])
	ok = crc16(frame[:len(frame)-2]) == received

	return
}
