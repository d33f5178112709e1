package model

import "time"

// EventKind names a scheduling event recorded during a run.
type EventKind string

const (
	EventDispatch EventKind = "DISPATCH"
	EventSuspend  EventKind = "SUSPEND"
	EventExit     EventKind = "EXIT"
	EventHalt     EventKind = "HALT"
)

// Run is a recorded execution of the kernel over one application set.
type Run struct {
	ID          string         `json:"id"`
	State       RunState       `json:"state"`
	NumApp      int            `json:"num_app"`
	Apps        []string       `json:"apps"`
	Switches    int            `json:"switches"`
	HaltReason  string         `json:"halt_reason,omitempty"`
	Tasks       []TaskSnapshot `json:"tasks,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Event is one scheduling observation: a dispatch from one slot to another,
// a suspension, an exit or the final halt. From/To are -1 when not applicable.
type Event struct {
	RunID  string    `json:"run_id"`
	Seq    int       `json:"seq"`
	Kind   EventKind `json:"kind"`
	From   int       `json:"from"`
	To     int       `json:"to"`
	Code   int       `json:"code,omitempty"`
	TimeUS uint64    `json:"time_us"`
}
