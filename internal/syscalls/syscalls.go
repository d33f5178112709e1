// Package syscalls is the kernel side of the system call interface. Every
// call is counted against the running task before it is handled.
package syscalls

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/me/os3/internal/scheduler"
	"github.com/me/os3/internal/timer"
	"github.com/me/os3/pkg/model"
)

// FdStdout is the only file descriptor sys_write accepts.
const FdStdout = 1

// Args carries the arguments of one system call. Only the fields the call
// reads need to be set.
type Args struct {
	Fd   uint64
	Buf  []byte
	Code int32
	Time *model.TimeVal
	Info *model.TaskInfo
}

// Handler dispatches system calls to the scheduler and devices.
type Handler struct {
	sched   scheduler.Scheduler
	clock   scheduler.Clock
	console io.Writer
	logger  *slog.Logger
}

// NewHandler creates a handler writing console output to console.
func NewHandler(sched scheduler.Scheduler, clock scheduler.Clock, console io.Writer, logger *slog.Logger) *Handler {
	if console == nil {
		console = io.Discard
	}
	return &Handler{
		sched:   sched,
		clock:   clock,
		console: console,
		logger:  logger.With("component", "syscall"),
	}
}

// Dispatch counts and handles one system call. An unsupported id is a
// contract violation and panics.
func (h *Handler) Dispatch(id model.SyscallID, args Args) int64 {
	if !id.Known() {
		panic(fmt.Sprintf("unsupported syscall id: %d", uint64(id)))
	}
	h.sched.IncreaseSyscallCount(id)

	switch id {
	case model.SysWrite:
		return h.write(args.Fd, args.Buf)
	case model.SysExit:
		h.exit(args.Code)
	case model.SysYield:
		return h.yield()
	case model.SysGetTime:
		return h.getTime(args.Time)
	case model.SysGetPid:
		return int64(h.sched.CurrentTask())
	case model.SysTaskInfo:
		return int64(h.sched.GetTaskInfo(args.Info))
	}
	panic("unreachable")
}

// Write is sys_write.
func (h *Handler) Write(fd uint64, buf []byte) int64 {
	return h.Dispatch(model.SysWrite, Args{Fd: fd, Buf: buf})
}

// Exit is sys_exit. It never returns.
func (h *Handler) Exit(code int32) {
	h.Dispatch(model.SysExit, Args{Code: code})
}

// Yield is sys_yield.
func (h *Handler) Yield() int64 {
	return h.Dispatch(model.SysYield, Args{})
}

// GetTime is sys_get_time.
func (h *Handler) GetTime(tv *model.TimeVal) int64 {
	return h.Dispatch(model.SysGetTime, Args{Time: tv})
}

// GetPid is sys_getpid. The pid is the task's slot index.
func (h *Handler) GetPid() int64 {
	return h.Dispatch(model.SysGetPid, Args{})
}

// TaskInfo is sys_task_info.
func (h *Handler) TaskInfo(ti *model.TaskInfo) int64 {
	return h.Dispatch(model.SysTaskInfo, Args{Info: ti})
}

func (h *Handler) write(fd uint64, buf []byte) int64 {
	if fd != FdStdout {
		h.logger.Warn("write to unsupported fd", "fd", fd, "task", h.sched.CurrentTask())
		return -1
	}
	n, err := h.console.Write(buf)
	if err != nil {
		h.logger.Warn("console write failed", "error", err)
		return -1
	}
	return int64(n)
}

func (h *Handler) exit(code int32) {
	h.logger.Info("application exited", "task", h.sched.CurrentTask(), "code", code)
	h.sched.RecordExitCode(int(code))
	h.sched.ExitCurrentAndRunNext()
	panic("unreachable in sys_exit")
}

func (h *Handler) yield() int64 {
	h.sched.SuspendCurrentAndRunNext()
	return 0
}

func (h *Handler) getTime(tv *model.TimeVal) int64 {
	if tv == nil {
		return -1
	}
	us := h.clock.NowMicros()
	*tv = model.TimeVal{
		Sec:  us / timer.MicroPerSec,
		Usec: us % timer.MicroPerSec,
	}
	return 0
}
