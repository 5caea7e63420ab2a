package modbus

import (
	"time"
)

// dupFilterLength bounds the number of fingerprints retained; a small
// constant keeps Check() and Add() O(ring-size), as the filter also runs on
// microcontroller-class budgets on the server side.
const dupFilterLength int = 16

type dupEntry struct {
	hash  uint32
	stamp time.Time
}

// DuplicateFilter is a time-windowed set of frame fingerprints used to flag
// retransmission storms and electrical line reflections: a frame whose
// fingerprint was already seen within the window is reported as a
// duplicate.
//
// The filter is owned by a single-threaded component instance and performs
// no locking of its own.
type DuplicateFilter struct {
	entries [dupFilterLength]dupEntry
	count   int
	window  time.Duration

	// lastAdded guards against an entry matching itself during the same
	// add/check pair at an identical timestamp and hash.
	lastHash     uint32
	lastStamp    time.Time
	hasLastAdded bool

	checked    uint32
	duplicates uint32
}

// Returns a duplicate filter retaining fingerprints for the given window.
func NewDuplicateFilter(window time.Duration) (df *DuplicateFilter) {
	if window <= 0 {
		window = 500 * time.Millisecond
	}

	df = &DuplicateFilter{
		window: window,
	}

	return
}

// FrameHash fingerprints a frame with an FNV-1a mix over the unit id, the
// function code and the first up to 4 payload bytes.
func FrameHash(unitId uint8, functionCode uint8, payload []byte) (hash uint32) {
	const (
		fnvOffsetBasis uint32 = 2166136261
		fnvPrime       uint32 = 16777619
	)

	hash = fnvOffsetBasis
	hash ^= uint32(unitId)
	hash *= fnvPrime
	hash ^= uint32(functionCode)
	hash *= fnvPrime

	if len(payload) > 4 {
		payload = payload[:4]
	}
	for _, b := range payload {
		hash ^= uint32(b)
		hash *= fnvPrime
	}

	return
}

// Check reports whether hash was seen within the window.
// Window-expired entries are evicted before the scan.
func (df *DuplicateFilter) Check(hash uint32, now time.Time) (duplicate bool) {
	var i int

	df.checked++
	df.ageOut(now)

	for i = 0; i < df.count; i++ {
		if df.entries[i].hash != hash {
			continue
		}

		// skip the entry just inserted by the matching Add() call
		if df.hasLastAdded && now.Equal(df.lastStamp) &&
			df.entries[i].stamp.Equal(df.lastStamp) && hash == df.lastHash {
			df.hasLastAdded = false
			continue
		}

		if now.Sub(df.entries[i].stamp) <= df.window {
			df.duplicates++
			duplicate = true
			return
		}
	}

	return
}

// Add records hash at the given time, evicting window-expired entries
// first and the single oldest entry (FIFO) if the ring is full.
func (df *DuplicateFilter) Add(hash uint32, now time.Time) {
	df.ageOut(now)

	if df.count >= dupFilterLength {
		copy(df.entries[:], df.entries[1:df.count])
		df.count--
	}

	df.entries[df.count] = dupEntry{hash: hash, stamp: now}
	df.count++

	df.lastHash = hash
	df.lastStamp = now
	df.hasLastAdded = true

	return
}

// Evicts all entries older than the window. Entries are kept ordered oldest
// first, so eviction is a single scan from the front.
func (df *DuplicateFilter) ageOut(now time.Time) {
	var i int

	for i < df.count && now.Sub(df.entries[i].stamp) > df.window {
		if df.hasLastAdded && df.entries[i].stamp.Equal(df.lastStamp) &&
			df.entries[i].hash == df.lastHash {
			df.hasLastAdded = false
		}
		i++
	}

	if i > 0 {
		copy(df.entries[:], df.entries[i:df.count])
		df.count -= i
	}
	if df.count == 0 {
		df.hasLastAdded = false
	}

	return
}

// Stats returns the number of fingerprints checked and the number of
// duplicates flagged since creation or the last ResetStats().
func (df *DuplicateFilter) Stats() (checked uint32, duplicates uint32) {
	checked = df.checked
	duplicates = df.duplicates

	return
}

// Resets the statistics counters, leaving retained fingerprints untouched.
func (df *DuplicateFilter) ResetStats() {
	df.checked = 0
	df.duplicates = 0

	return
}

// Clear drops all retained fingerprints.
func (df *DuplicateFilter) Clear() {
	df.count = 0
	df.hasLastAdded = false

	return
}
