// Package user is the library applications are written against. It wraps the
// raw system calls in the helpers an application expects.
package user

import (
	"fmt"

	"github.com/me/os3/internal/syscalls"
	"github.com/me/os3/pkg/model"
)

// Syscalls is the trap interface into the kernel.
type Syscalls interface {
	Write(fd uint64, buf []byte) int64
	Exit(code int32)
	Yield() int64
	GetTime(tv *model.TimeVal) int64
	GetPid() int64
	TaskInfo(ti *model.TaskInfo) int64
}

var _ Syscalls = (*syscalls.Handler)(nil)

// Main is an application's entry point. Its return value is the exit code.
type Main func(*Lib) int32

// Lib is the per-application view of the kernel.
type Lib struct {
	sys Syscalls
}

// New binds a library instance to a syscall interface.
func New(sys Syscalls) *Lib {
	return &Lib{sys: sys}
}

// Entry returns the function the kernel starts for an application. Returning
// from main exits with main's result.
func Entry(lib *Lib, main Main) func() {
	return func() {
		lib.Exit(main(lib))
	}
}

// Write writes buf to fd and returns the number of bytes written or -1.
func (l *Lib) Write(fd uint64, buf []byte) int64 {
	return l.sys.Write(fd, buf)
}

// Print writes s to the console.
func (l *Lib) Print(s string) {
	l.sys.Write(syscalls.FdStdout, []byte(s))
}

// Printf formats to the console.
func (l *Lib) Printf(format string, args ...any) {
	l.Print(fmt.Sprintf(format, args...))
}

// Println writes its operands and a newline to the console.
func (l *Lib) Println(args ...any) {
	l.Print(fmt.Sprintln(args...))
}

// Exit terminates the application. It never returns.
func (l *Lib) Exit(code int32) {
	l.sys.Exit(code)
	panic("unreachable after exit")
}

// Yield gives up the processor.
func (l *Lib) Yield() int64 {
	return l.sys.Yield()
}

// GetTime returns milliseconds since boot, or -1.
func (l *Lib) GetTime() int64 {
	var tv model.TimeVal
	if l.sys.GetTime(&tv) != 0 {
		return -1
	}
	return int64(tv.Millis())
}

// GetPid returns the caller's task id.
func (l *Lib) GetPid() int64 {
	return l.sys.GetPid()
}

// TaskInfo fills ti with the caller's status, syscall counts and run time.
func (l *Lib) TaskInfo(ti *model.TaskInfo) int64 {
	return l.sys.TaskInfo(ti)
}

// Sleep yields until at least ms milliseconds have passed.
func (l *Lib) Sleep(ms int64) {
	deadline := l.GetTime() + ms
	for l.GetTime() < deadline {
		l.Yield()
	}
}
