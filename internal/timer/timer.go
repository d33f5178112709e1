// Package timer models the machine timer: a free-running mtime counter read
// through microsecond and millisecond helpers.
package timer

import (
	"sync/atomic"
	"time"
)

const (
	// ClockFreq is the mtime frequency in Hz.
	ClockFreq = 10_000_000
	// MicroPerSec is the number of microseconds in a second.
	MicroPerSec = 1_000_000
	// MsecPerSec is the number of milliseconds in a second.
	MsecPerSec = 1_000

	nanosPerTick = int64(time.Second) / ClockFreq

	// resetTicks is the mtime value read at boot. It is one microsecond worth
	// of ticks so that a zero timestamp can stand for "never".
	resetTicks = ClockFreq / MicroPerSec
)

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Timer reads mtime relative to its boot instant.
type Timer struct {
	boot time.Time
}

// New starts a timer at the current instant.
func New() *Timer {
	return &Timer{boot: NowFunc()}
}

// Ticks returns the raw mtime counter.
func (t *Timer) Ticks() uint64 {
	d := NowFunc().Sub(t.boot)
	if d < 0 {
		d = 0
	}
	return uint64(int64(d)/nanosPerTick) + resetTicks
}

// NowMicros returns microseconds since boot. Never zero.
func (t *Timer) NowMicros() uint64 {
	return t.Ticks() / (ClockFreq / MicroPerSec)
}

// NowMillis returns milliseconds since boot.
func (t *Timer) NowMillis() uint64 {
	return t.Ticks() / (ClockFreq / MsecPerSec)
}

// Manual is a timer whose counter only moves when told to.
type Manual struct {
	micros atomic.Uint64
}

// NewManual returns a manual timer reading start microseconds.
func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.micros.Store(start)
	return m
}

// NowMicros returns the current reading.
func (m *Manual) NowMicros() uint64 {
	return m.micros.Load()
}

// NowMillis returns the current reading in milliseconds.
func (m *Manual) NowMillis() uint64 {
	return m.micros.Load() / 1000
}

// Advance moves the counter forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.micros.Add(uint64(d.Microseconds()))
}

// Set moves the counter to an absolute reading.
func (m *Manual) Set(micros uint64) {
	m.micros.Store(micros)
}
