package model

import "time"

// TaskInfo is the snapshot returned to a task querying itself.
type TaskInfo struct {
	Status       TaskStatus             `json:"status"`
	SyscallTimes [MaxSyscallNum]uint32 `json:"-"`
	// Time is the wall time in milliseconds since the task was first dispatched.
	Time uint64 `json:"time_ms"`
}

// Counts returns the non-zero syscall counters keyed by id.
func (ti *TaskInfo) Counts() map[SyscallID]uint32 {
	return SyscallCounts(&ti.SyscallTimes)
}

// SyscallCounts extracts the non-zero counters from a counter table.
func SyscallCounts(times *[MaxSyscallNum]uint32) map[SyscallID]uint32 {
	m := make(map[SyscallID]uint32)
	for id, n := range times {
		if n != 0 {
			m[SyscallID(id)] = n
		}
	}
	return m
}

// TimeVal is the layout filled by the get_time syscall.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// Millis returns the value in milliseconds.
func (tv TimeVal) Millis() uint64 {
	return tv.Sec*1000 + tv.Usec/1000
}

// TaskSnapshot is a read-only copy of one populated task slot.
type TaskSnapshot struct {
	ID           int                  `json:"id"`
	Name         string               `json:"name"`
	Status       TaskStatus           `json:"status"`
	StartTimeUS  uint64               `json:"start_time_us"`
	SyscallCount map[SyscallID]uint32 `json:"syscall_counts"`
	ExitCode     *int                 `json:"exit_code,omitempty"`
}

// Started returns true if the slot has been dispatched at least once.
func (s TaskSnapshot) Started() bool {
	return s.StartTimeUS != 0
}

// StartOffset returns the first-dispatch time as a duration since boot.
func (s TaskSnapshot) StartOffset() time.Duration {
	return time.Duration(s.StartTimeUS) * time.Microsecond
}
