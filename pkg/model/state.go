package model

import "strings"

// TaskStatus represents the lifecycle state of a task slot.
type TaskStatus string

const (
	TaskStatusUnInit  TaskStatus = "UNINIT"
	TaskStatusReady   TaskStatus = "READY"
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusExited  TaskStatus = "EXITED"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the slot will never run again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusExited
}

// IsSchedulable returns true if the slot may be picked by the scheduler.
func (s TaskStatus) IsSchedulable() bool {
	return s == TaskStatusReady
}

// ValidTaskTransitions defines the allowed status transitions for task slots.
// UnInit slots are populated once by the loader; Exited is terminal.
var ValidTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusUnInit:  {TaskStatusReady},
	TaskStatusReady:   {TaskStatusRunning},
	TaskStatusRunning: {TaskStatusReady, TaskStatusExited},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunState represents the lifecycle state of a recorded kernel run.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateAborted   RunState = "ABORTED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run has finished.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateAborted
}

// ParseRunState maps a case-insensitive state name to a RunState.
func ParseRunState(s string) (RunState, bool) {
	switch st := RunState(strings.ToUpper(strings.TrimSpace(s))); st {
	case RunStateRunning, RunStateCompleted, RunStateAborted:
		return st, true
	}
	return "", false
}
