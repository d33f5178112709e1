package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/me/os3/internal/cpu"
	"github.com/me/os3/internal/upcell"
	"github.com/me/os3/pkg/model"
)

// ErrAllTasksCompleted is the halt reason once no slot is Ready.
var ErrAllTasksCompleted = errors.New("all applications completed")

// errUnreachable is raised if a switch that must not return does.
var errUnreachable = errors.New("scheduler: unreachable code after final switch")

// TaskManager owns the task table and decides which slot runs next.
type TaskManager struct {
	numApp    int
	inner     *upcell.Cell[taskTable]
	clock     Clock
	machine   Machine
	observers []Observer
	logger    *slog.Logger
	started   atomic.Bool
}

type taskTable struct {
	tasks   [model.MaxAppNum]TaskControlBlock
	current int
}

// Option configures optional TaskManager dependencies.
type Option func(*TaskManager)

// WithObserver registers an observer for scheduling events.
func WithObserver(o Observer) Option {
	return func(m *TaskManager) {
		m.observers = append(m.observers, o)
	}
}

// NewTaskManager builds the task table from the loader. Slots below NumApp
// start Ready with the application's initial context; the rest stay UnInit.
func NewTaskManager(ldr Loader, clock Clock, machine Machine, logger *slog.Logger, opts ...Option) (*TaskManager, error) {
	numApp := ldr.NumApp()
	if numApp > model.MaxAppNum {
		return nil, fmt.Errorf("%w: loader reported %d", model.ErrTooManyApps, numApp)
	}

	var table taskTable
	for i := range table.tasks {
		table.tasks[i] = newUnInitTCB()
	}
	for i := 0; i < numApp; i++ {
		table.tasks[i].Context = ldr.InitAppContext(i)
		table.tasks[i].Name = ldr.AppName(i)
		table.tasks[i].Status = model.TaskStatusReady
	}

	m := &TaskManager{
		numApp:  numApp,
		inner:   upcell.New(table),
		clock:   clock,
		machine: machine,
		logger:  logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.Debug("task table ready", "num_app", numApp, "capacity", model.MaxAppNum)
	return m, nil
}

// NumApp returns the number of populated slots.
func (m *TaskManager) NumApp() int {
	return m.numApp
}

// RunFirstTask marks slot 0 Running and switches into it from a throwaway
// context. It never returns.
func (m *TaskManager) RunFirstTask() {
	if m.numApp == 0 {
		panic("scheduler: RunFirstTask with no applications loaded")
	}
	if !m.started.CompareAndSwap(false, true) {
		panic("scheduler: RunFirstTask called twice")
	}

	var (
		next *cpu.TaskContext
		name string
		now  uint64
	)
	m.inner.With(func(t *taskTable) {
		task0 := &t.tasks[0]
		transition(task0, 0, model.TaskStatusRunning)
		now = m.clock.NowMicros()
		task0.StartTime = now
		next = &task0.Context
		name = task0.Name
	})

	m.logger.Debug("dispatch first task", "task", 0, "name", name)
	for _, o := range m.observers {
		o.TaskDispatched(-1, 0, now)
	}

	unused := cpu.ZeroInit()
	m.machine.Switch(&unused, next)
	panic(errUnreachable)
}

// MarkCurrentSuspended moves the running slot back to Ready.
func (m *TaskManager) MarkCurrentSuspended() {
	var current int
	m.inner.With(func(t *taskTable) {
		current = t.current
		transition(&t.tasks[current], current, model.TaskStatusReady)
	})

	now := m.clock.NowMicros()
	for _, o := range m.observers {
		o.TaskSuspended(current, now)
	}
}

// MarkCurrentExited moves the running slot to Exited. The slot never runs again.
func (m *TaskManager) MarkCurrentExited() {
	var current, code int
	m.inner.With(func(t *taskTable) {
		current = t.current
		transition(&t.tasks[current], current, model.TaskStatusExited)
		code = t.tasks[current].ExitCode
	})

	now := m.clock.NowMicros()
	for _, o := range m.observers {
		o.TaskExited(current, code, now)
	}
}

// FindNextTask scans forward from the slot after the current one, wrapping
// around and visiting the current slot last, and returns the first Ready slot.
func (m *TaskManager) FindNextTask() (int, bool) {
	inner := m.inner.ExclusiveAccess()
	defer inner.Release()
	return findReady(inner.Get(), m.numApp)
}

func findReady(t *taskTable, numApp int) (int, bool) {
	for i := t.current + 1; i <= t.current+numApp; i++ {
		id := i % numApp
		if t.tasks[id].Status == model.TaskStatusReady {
			return id, true
		}
	}
	return 0, false
}

// RunNextTask dispatches the next Ready slot. It returns once some later
// switch resumes the slot that was current on entry. With no Ready slot left
// the machine is shut down and RunNextTask does not return.
func (m *TaskManager) RunNextTask() {
	next, ok := m.FindNextTask()
	if !ok {
		now := m.clock.NowMicros()
		m.logger.Info("all applications completed", "num_app", m.numApp)
		for _, o := range m.observers {
			o.Halted(ErrAllTasksCompleted, now)
		}
		m.machine.Shutdown(ErrAllTasksCompleted)
		panic(errUnreachable)
	}

	var (
		current             int
		now                 uint64
		currentCtx, nextCtx *cpu.TaskContext
	)
	m.inner.With(func(t *taskTable) {
		current = t.current
		nextTask := &t.tasks[next]
		transition(nextTask, next, model.TaskStatusRunning)
		now = m.clock.NowMicros()
		if nextTask.StartTime == 0 {
			nextTask.StartTime = now
		}
		t.current = next
		currentCtx = &t.tasks[current].Context
		nextCtx = &nextTask.Context
	})

	m.logger.Debug("dispatch", "from", current, "to", next)
	for _, o := range m.observers {
		o.TaskDispatched(current, next, now)
	}

	m.machine.Switch(currentCtx, nextCtx)
}

// SuspendCurrentAndRunNext yields the processor.
func (m *TaskManager) SuspendCurrentAndRunNext() {
	m.MarkCurrentSuspended()
	m.RunNextTask()
}

// ExitCurrentAndRunNext terminates the running task.
func (m *TaskManager) ExitCurrentAndRunNext() {
	m.MarkCurrentExited()
	m.RunNextTask()
	panic(errUnreachable)
}

// IncreaseSyscallCount bumps the running slot's counter for id.
func (m *TaskManager) IncreaseSyscallCount(id model.SyscallID) {
	if uint64(id) >= model.MaxSyscallNum {
		panic(fmt.Sprintf("scheduler: syscall id %d out of range", uint64(id)))
	}
	m.inner.With(func(t *taskTable) {
		t.tasks[t.current].SyscallTimes[id]++
	})
}

// GetTaskInfo writes the running slot's status, syscall counters and time
// since first dispatch (in milliseconds) into out. The status is always
// Running: only the running task can ask about itself.
func (m *TaskManager) GetTaskInfo(out *model.TaskInfo) int {
	if out == nil {
		return -1
	}

	inner := m.inner.ExclusiveAccess()
	t := inner.Get()
	current := t.current
	startTime := t.tasks[current].StartTime
	syscallTimes := t.tasks[current].SyscallTimes
	inner.Release()

	*out = model.TaskInfo{
		Status:       model.TaskStatusRunning,
		SyscallTimes: syscallTimes,
		Time:         (m.clock.NowMicros() - startTime) / 1000,
	}
	return 0
}

// CurrentTask returns the index of the running slot.
func (m *TaskManager) CurrentTask() int {
	inner := m.inner.ExclusiveAccess()
	defer inner.Release()
	return inner.Get().current
}

// RecordExitCode stores the exit code of the running slot.
func (m *TaskManager) RecordExitCode(code int) {
	m.inner.With(func(t *taskTable) {
		t.tasks[t.current].ExitCode = code
	})
}

// Snapshot copies every populated slot. It borrows the task table, so it
// must not be called from another goroutine while tasks are running.
func (m *TaskManager) Snapshot() []model.TaskSnapshot {
	inner := m.inner.ExclusiveAccess()
	defer inner.Release()
	t := inner.Get()

	out := make([]model.TaskSnapshot, 0, m.numApp)
	for i := 0; i < m.numApp; i++ {
		out = append(out, t.tasks[i].snapshot(i))
	}
	return out
}

// Status returns the status of slot i, including slots beyond NumApp.
func (m *TaskManager) Status(i int) model.TaskStatus {
	inner := m.inner.ExclusiveAccess()
	defer inner.Release()
	return inner.Get().tasks[i].Status
}

// transition moves a slot to next, panicking on a move the lifecycle forbids.
func transition(tcb *TaskControlBlock, id int, next model.TaskStatus) {
	if !tcb.Status.CanTransitionTo(next) {
		panic(&model.InvalidTransitionError{
			Entity: "task",
			ID:     strconv.Itoa(id),
			From:   tcb.Status.String(),
			To:     next.String(),
		})
	}
	tcb.Status = next
}

var _ Scheduler = (*TaskManager)(nil)
