package scheduler

import (
	"github.com/me/os3/internal/cpu"
	"github.com/me/os3/pkg/model"
)

// Scheduler is the syscall-facing side of the task manager.
type Scheduler interface {
	// RunFirstTask dispatches slot 0. Called once at boot; never returns.
	RunFirstTask()

	// SuspendCurrentAndRunNext backs the yield syscall. It returns when the
	// calling task is dispatched again.
	SuspendCurrentAndRunNext()

	// ExitCurrentAndRunNext backs the exit syscall. It never returns.
	ExitCurrentAndRunNext()

	// IncreaseSyscallCount bumps the running task's counter for id.
	IncreaseSyscallCount(id model.SyscallID)

	// GetTaskInfo writes the running task's info into out.
	// Returns 0 on success, -1 if out is not a valid target.
	GetTaskInfo(out *model.TaskInfo) int

	// CurrentTask returns the index of the running slot.
	CurrentTask() int

	// RecordExitCode stores the code the running task is about to exit with.
	RecordExitCode(code int)
}

// Loader supplies the statically known application set.
type Loader interface {
	NumApp() int
	AppName(i int) string
	InitAppContext(i int) cpu.TaskContext
}

// Clock reads the machine timer. Readings are monotonic and never zero.
type Clock interface {
	NowMicros() uint64
}

// Machine is the processor the tasks are multiplexed onto.
type Machine interface {
	// Switch saves the running flow into current and resumes next.
	Switch(current, next *cpu.TaskContext)
	// Shutdown stops the machine with a reason. It never returns.
	Shutdown(err error)
}

// Observer receives scheduling events. Callbacks run on the kernel's single
// flow with no borrow of the task table held; they must not block or call
// back into the scheduler.
type Observer interface {
	TaskDispatched(from, to int, timeUS uint64)
	TaskSuspended(id int, timeUS uint64)
	TaskExited(id, code int, timeUS uint64)
	Halted(err error, timeUS uint64)
}
