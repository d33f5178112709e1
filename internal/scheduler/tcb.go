package scheduler

import (
	"github.com/me/os3/internal/cpu"
	"github.com/me/os3/pkg/model"
)

// TaskControlBlock is the per-slot record of the task table.
type TaskControlBlock struct {
	Status  model.TaskStatus
	Context cpu.TaskContext
	// StartTime is the first-dispatch time in microseconds since boot; 0 means never dispatched.
	StartTime    uint64
	SyscallTimes [model.MaxSyscallNum]uint32
	Name         string
	ExitCode     int
}

func newUnInitTCB() TaskControlBlock {
	return TaskControlBlock{
		Status:  model.TaskStatusUnInit,
		Context: cpu.ZeroInit(),
	}
}

func (t *TaskControlBlock) snapshot(id int) model.TaskSnapshot {
	s := model.TaskSnapshot{
		ID:           id,
		Name:         t.Name,
		Status:       t.Status,
		StartTimeUS:  t.StartTime,
		SyscallCount: model.SyscallCounts(&t.SyscallTimes),
	}
	if t.Status == model.TaskStatusExited {
		code := t.ExitCode
		s.ExitCode = &code
	}
	return s
}
