package cpu

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	// ErrHalted is returned by Err when the core was halted without a reason.
	ErrHalted = errors.New("cpu: halted")
	// ErrEntryReturned reports a task entry function that returned instead of exiting.
	ErrEntryReturned = errors.New("cpu: task entry returned")
	// ErrNoFlow is the panic value raised when switching into an empty context.
	ErrNoFlow = errors.New("cpu: switch into a context with no saved flow")
	// ErrDoubleResume is the panic value raised when a flow is resumed while
	// a previous resume is still pending.
	ErrDoubleResume = errors.New("cpu: flow resumed twice")
)

// PanicError carries a panic raised on a task flow.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("kernel panic: %v", e.Value)
}

// Unwrap exposes an error panic value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Core is the single processor.
type Core struct {
	logger   *slog.Logger
	halted   chan struct{}
	haltOnce sync.Once
	err      error
	switches atomic.Uint64
	live     sync.WaitGroup
}

// NewCore creates a running processor.
func NewCore(logger *slog.Logger) *Core {
	return &Core{
		logger: logger.With("component", "cpu"),
		halted: make(chan struct{}),
	}
}

// Switch saves the calling flow into current and transfers the processor to
// next. It returns only when a later Switch loads current again. Both
// contexts may name the same slot; the caller must not hold any exclusive
// borrow of the memory they live in.
func (c *Core) Switch(current, next *TaskContext) {
	if c.isHalted() {
		runtime.Goexit()
	}
	if !next.Resumable() {
		panic(ErrNoFlow)
	}
	self := current.bind()
	n := c.switches.Add(1)
	c.logger.Debug("switch", "n", n,
		"from_sp", fmt.Sprintf("%#x", current.SP),
		"to_ra", fmt.Sprintf("%#x", next.RA),
		"to_sp", fmt.Sprintf("%#x", next.SP))

	c.resume(next.flow)
	c.park(self)
}

// Boot runs fn on a new flow, normally the one that dispatches the first
// task. A panic on that flow halts the processor.
func (c *Core) Boot(fn func()) {
	c.live.Add(1)
	go func() {
		defer c.live.Done()
		defer c.recoverPanic()
		fn()
	}()
}

// Wait blocks until the processor has halted and every flow has unwound.
// Flows that never switch again are waited for too.
func (c *Core) Wait() error {
	<-c.halted
	c.live.Wait()
	return c.err
}

// Halt stops the processor. Every parked flow unwinds; the first reason wins.
func (c *Core) Halt(err error) {
	c.haltOnce.Do(func() {
		if err == nil {
			err = ErrHalted
		}
		c.err = err
		c.logger.Debug("halt", "reason", err, "switches", c.switches.Load())
		close(c.halted)
	})
}

// Shutdown halts the processor and terminates the calling flow. It never returns.
func (c *Core) Shutdown(err error) {
	c.Halt(err)
	runtime.Goexit()
}

// Done is closed once the processor has halted.
func (c *Core) Done() <-chan struct{} {
	return c.halted
}

// Err returns the halt reason, or nil while running.
func (c *Core) Err() error {
	select {
	case <-c.halted:
		return c.err
	default:
		return nil
	}
}

// Switches returns the number of context switches performed.
func (c *Core) Switches() uint64 {
	return c.switches.Load()
}

func (c *Core) isHalted() bool {
	select {
	case <-c.halted:
		return true
	default:
		return false
	}
}

func (c *Core) resume(f *flow) {
	if f.started.CompareAndSwap(false, true) {
		c.live.Add(1)
		go c.trampoline(f)
		return
	}
	select {
	case f.wake <- struct{}{}:
	default:
		panic(ErrDoubleResume)
	}
}

func (c *Core) park(f *flow) {
	select {
	case <-f.wake:
		if c.isHalted() {
			runtime.Goexit()
		}
	case <-c.halted:
		runtime.Goexit()
	}
}

// trampoline is the first code a loaded flow runs.
func (c *Core) trampoline(f *flow) {
	defer c.live.Done()
	defer c.recoverPanic()
	f.entry()
	c.Halt(ErrEntryReturned)
}

func (c *Core) recoverPanic() {
	if r := recover(); r != nil {
		c.logger.Error("panic on task flow", "panic", r)
		c.Halt(&PanicError{Value: r, Stack: debug.Stack()})
	}
}
