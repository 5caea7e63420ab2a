package modbus

import (
	"testing"
	"time"
)

func TestDuplicateFilterWindow(t *testing.T) {
	var df *DuplicateFilter
	var hash uint32
	var t0 time.Time

	df = NewDuplicateFilter(500 * time.Millisecond)
	t0 = time.Unix(1000, 0)
	hash = FrameHash(0x01, fcReadHoldingRegisters, []byte{0x02, 0x00, 0x2a})

	// never seen before
	if df.Check(hash, t0) {
		t.Errorf("expected a first sighting not to be flagged")
	}
	df.Add(hash, t0)

	// the same fingerprint 5ms later is a duplicate
	if !df.Check(hash, t0.Add(5*time.Millisecond)) {
		t.Errorf("expected a repeat within the window to be flagged")
	}

	// the same fingerprint past the window is not
	if df.Check(hash, t0.Add(600*time.Millisecond)) {
		t.Errorf("expected a repeat past the window not to be flagged")
	}

	checked, duplicates := df.Stats()
	if checked != 3 {
		t.Errorf("expected 3 checks counted, got %v", checked)
	}
	if duplicates != 1 {
		t.Errorf("expected 1 duplicate counted, got %v", duplicates)
	}

	return
}

func TestDuplicateFilterDistinctFrames(t *testing.T) {
	var df *DuplicateFilter
	var t0 time.Time

	df = NewDuplicateFilter(500 * time.Millisecond)
	t0 = time.Unix(1000, 0)

	df.Add(FrameHash(0x01, fcReadCoils, []byte{0x01, 0x00}), t0)

	// different unit id, function code or payload: distinct fingerprints
	if df.Check(FrameHash(0x02, fcReadCoils, []byte{0x01, 0x00}), t0) {
		t.Errorf("expected a different unit id not to collide")
	}
	if df.Check(FrameHash(0x01, fcReadDiscreteInputs, []byte{0x01, 0x00}), t0) {
		t.Errorf("expected a different function code not to collide")
	}
	if df.Check(FrameHash(0x01, fcReadCoils, []byte{0x01, 0x01}), t0) {
		t.Errorf("expected a different payload not to collide")
	}

	return
}

func TestDuplicateFilterSelfMatchSkip(t *testing.T) {
	var df *DuplicateFilter
	var hash uint32
	var t0 time.Time

	df = NewDuplicateFilter(500 * time.Millisecond)
	t0 = time.Unix(1000, 0)
	hash = FrameHash(0x01, fcWriteSingleCoil, []byte{0x00, 0x01, 0xff, 0x00})

	// checking right after the matching Add(), at the same timestamp, must
	// not flag the entry against itself
	df.Add(hash, t0)
	if df.Check(hash, t0) {
		t.Errorf("expected the just-added entry not to match itself")
	}

	// but a second check at the same timestamp is a real duplicate
	if !df.Check(hash, t0) {
		t.Errorf("expected a second sighting to be flagged")
	}

	return
}

func TestDuplicateFilterEviction(t *testing.T) {
	var df *DuplicateFilter
	var t0 time.Time
	var i int

	df = NewDuplicateFilter(10 * time.Second)
	t0 = time.Unix(1000, 0)

	df.Add(FrameHash(0x01, fcReadCoils, []byte{0x00}), t0)

	// fill the ring past capacity: the oldest fingerprint is evicted
	for i = 0; i < dupFilterLength; i++ {
		df.Add(FrameHash(0x02, fcReadCoils, []byte{byte(i)}), t0.Add(time.Duration(i)*time.Millisecond))
	}

	if df.Check(FrameHash(0x01, fcReadCoils, []byte{0x00}), t0.Add(time.Second)) {
		t.Errorf("expected the oldest fingerprint to have been evicted")
	}
	if !df.Check(FrameHash(0x02, fcReadCoils, []byte{0x00}), t0.Add(time.Second)) {
		t.Errorf("expected a retained fingerprint to be flagged")
	}

	return
}

func TestDuplicateFilterClear(t *testing.T) {
	var df *DuplicateFilter
	var hash uint32
	var t0 time.Time

	df = NewDuplicateFilter(500 * time.Millisecond)
	t0 = time.Unix(1000, 0)
	hash = FrameHash(0x03, fcReadInputRegisters, nil)

	df.Add(hash, t0)
	df.Clear()

	if df.Check(hash, t0.Add(time.Millisecond)) {
		t.Errorf("expected no duplicate after Clear()")
	}

	return
}
