package modbus

import (
	"bytes"
	"testing"
)

func TestResyncFindFrameStart(t *testing.T) {
	var rs rtuResynchronizer
	var frame []byte
	var scratch [maxRTUFrameLength]byte
	var offset, avail int
	var p *pdu
	var err error

	frame = assembleRTUFrame(&pdu{
		unitId:       0x02,
		functionCode: fcReadHoldingRegisters,
		payload:      []byte{0x00, 0x10, 0x00, 0x04},
	})

	// none of the garbage bytes is a valid slave address
	rs.push([]byte{0xff, 0xff, 0x00, 0xfe})
	rs.push(frame)

	offset = rs.findFrameStart()
	if offset != 4 {
		t.Fatalf("expected the frame start at offset 4, got %v", offset)
	}

	rs.discard(offset)
	if rs.stats.bytesDiscarded != 4 {
		t.Errorf("expected 4 bytes discarded, got %v", rs.stats.bytesDiscarded)
	}

	avail = rs.copyTo(scratch[:])
	if avail != len(frame) {
		t.Fatalf("expected %v bytes available, got %v", len(frame), avail)
	}
	if !quickCRCCheck(scratch[:avail]) {
		t.Fatalf("expected the recovered bytes to pass the CRC check")
	}

	p, err = decodeRTUFrame(scratch[:avail])
	if err != nil {
		t.Fatalf("decodeRTUFrame() failed with %v", err)
	}
	if p.unitId != 0x02 || p.functionCode != fcReadHoldingRegisters {
		t.Errorf("unexpected recovered frame header: unit id 0x%02x, function code 0x%02x",
			p.unitId, p.functionCode)
	}

	return
}

func TestResyncNoCandidate(t *testing.T) {
	var rs rtuResynchronizer

	// too few bytes to hold a frame
	rs.push([]byte{0x01, 0x03})
	if rs.findFrameStart() != -1 {
		t.Errorf("expected no candidate with 2 bytes available")
	}

	// enough bytes, but no plausible slave address anywhere
	rs.clear()
	rs.push([]byte{0xff, 0xfe, 0x00, 0xf8, 0xff, 0xff})
	if rs.findFrameStart() != -1 {
		t.Errorf("expected no candidate in pure noise")
	}

	return
}

func TestResyncDiscardClamped(t *testing.T) {
	var rs rtuResynchronizer

	rs.push([]byte{0x01, 0x02, 0x03})

	// over-discarding clamps to what is available
	rs.discard(100)
	if rs.available() != 0 {
		t.Errorf("expected an empty window, got %v bytes", rs.available())
	}
	if rs.stats.bytesDiscarded != 3 {
		t.Errorf("expected 3 bytes discarded, got %v", rs.stats.bytesDiscarded)
	}

	return
}

func TestResyncOverflowEvictsOldest(t *testing.T) {
	var rs rtuResynchronizer
	var data []byte
	var scratch [resyncBufferLength]byte
	var avail int
	var i int

	// push one byte more than the window retains
	for i = 0; i < resyncBufferLength; i++ {
		data = append(data, byte(i))
	}
	rs.push(data)

	avail = rs.available()
	if avail != resyncBufferLength-1 {
		t.Fatalf("expected %v bytes available, got %v", resyncBufferLength-1, avail)
	}
	if rs.stats.bytesDiscarded != 1 {
		t.Errorf("expected 1 byte evicted, got %v", rs.stats.bytesDiscarded)
	}

	// the oldest byte is the one that was evicted
	rs.copyTo(scratch[:])
	if !bytes.Equal(scratch[:2], []byte{0x01, 0x02}) {
		t.Errorf("expected the window to start at 0x01, got [% 02x]", scratch[:2])
	}

	return
}

func TestQuickCRCCheck(t *testing.T) {
	var frame []byte

	frame = assembleRTUFrame(&pdu{
		unitId:       0x01,
		functionCode: fcReadCoils,
		payload:      []byte{0x00, 0x00, 0x00, 0x08},
	})

	if !quickCRCCheck(frame) {
		t.Errorf("expected a valid frame to pass")
	}

	frame[2] ^= 0x01
	if quickCRCCheck(frame) {
		t.Errorf("expected a corrupted frame to fail")
	}

	if quickCRCCheck([]byte{0x01, 0x03}) {
		t.Errorf("expected a short buffer to fail")
	}

	return
}
