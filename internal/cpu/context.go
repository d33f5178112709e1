// Package cpu models the single processor the kernel multiplexes: the saved
// task context record and the context-switch primitive.
//
// On the host every control flow is a goroutine. A switch hands the processor
// to the target flow and parks the caller until some later switch names it as
// the target again, so at most one flow makes progress at any instant.
package cpu

import "sync/atomic"

// RestoreAddr is the address of the trap-return trampoline that a freshly
// loaded task resumes into on its first dispatch.
const RestoreAddr uintptr = 0x8020_1000

// NumSavedRegs is the number of callee-saved registers (s0-s11).
const NumSavedRegs = 12

// TaskContext is the minimal saved processor state of a suspended flow.
// Only the switch primitive interprets it.
type TaskContext struct {
	RA uintptr
	SP uintptr
	S  [NumSavedRegs]uintptr

	flow *flow
}

// ZeroInit returns a placeholder context. It can be used as the save target
// of a switch but never resumed into until something has been saved in it.
func ZeroInit() TaskContext {
	return TaskContext{}
}

// GotoRestore returns the initial context of a loaded task: resuming it runs
// entry on the given kernel stack.
func GotoRestore(kstackPtr uintptr, entry func()) TaskContext {
	return TaskContext{
		RA:   RestoreAddr,
		SP:   kstackPtr,
		flow: &flow{entry: entry, wake: make(chan struct{}, 1)},
	}
}

// Resumable returns true if a switch may load this context.
func (c *TaskContext) Resumable() bool {
	return c.flow != nil
}

// flow is the host control flow bound to a context.
type flow struct {
	entry   func()
	wake    chan struct{}
	started atomic.Bool
}

// bind attaches a flow for the calling goroutine if the context has none.
func (c *TaskContext) bind() *flow {
	if c.flow == nil {
		f := &flow{wake: make(chan struct{}, 1)}
		f.started.Store(true)
		c.flow = f
	}
	return c.flow
}
