package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/dop251/goja"

	"github.com/me/os3/internal/user"
	"github.com/me/os3/pkg/model"
)

// scriptFailedCode is the exit code of a script that threw.
const scriptFailedCode = -1

// script is an application written in JavaScript. The program is compiled at
// load time; the runtime exists from load time on so that it can be
// interrupted before it has started.
type script struct {
	name   string
	prog   *goja.Program
	args   []string
	vm     *goja.Runtime
	logger *slog.Logger
}

func compileScript(name, src string, args []string, logger *slog.Logger) (*script, error) {
	// Sloppy mode: yield is a reserved word in strict code.
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	return &script{
		name:   name,
		prog:   prog,
		args:   args,
		vm:     goja.New(),
		logger: logger,
	}, nil
}

// run executes the program and, if it defines main, calls main(args). The
// exit code is the numeric result of whichever ran last.
func (s *script) run(l *user.Lib) int32 {
	if err := s.bind(l); err != nil {
		s.logger.Error("script setup failed", "app", s.name, "error", err)
		return scriptFailedCode
	}

	v, err := s.vm.RunProgram(s.prog)
	if err != nil {
		return s.fail(err)
	}
	if main, ok := goja.AssertFunction(s.vm.Get("main")); ok {
		v, err = main(goja.Undefined(), s.vm.ToValue(s.jsArgs()))
		if err != nil {
			return s.fail(err)
		}
	}
	return exitCode(v)
}

func (s *script) interrupt(reason error) {
	s.vm.Interrupt(reason)
}

func (s *script) fail(err error) int32 {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		s.logger.Debug("script interrupted", "app", s.name, "reason", interrupted.Value())
		// The core is going down; leave without touching the kernel.
		runtime.Goexit()
	}
	s.logger.Warn("script threw", "app", s.name, "error", err)
	return scriptFailedCode
}

func (s *script) bind(l *user.Lib) error {
	vm := s.vm
	bindings := map[string]any{
		"args": s.jsArgs(),
		"print": func(call goja.FunctionCall) goja.Value {
			l.Print(joinArgs(call))
			return goja.Undefined()
		},
		"println": func(call goja.FunctionCall) goja.Value {
			l.Print(joinArgs(call) + "\n")
			return goja.Undefined()
		},
		"write": func(fd int64, data string) int64 {
			return l.Write(uint64(fd), []byte(data))
		},
		"yield": func() int64 {
			return l.Yield()
		},
		"exit": func(code int32) {
			l.Exit(code)
		},
		"get_time": func() int64 {
			return l.GetTime()
		},
		"getpid": func() int64 {
			return l.GetPid()
		},
		"sleep": func(ms int64) {
			l.Sleep(ms)
		},
		"task_info": func() any {
			var ti model.TaskInfo
			if l.TaskInfo(&ti) != 0 {
				return nil
			}
			counts := make(map[string]uint32)
			for id, n := range ti.Counts() {
				counts[id.String()] = n
			}
			return map[string]any{
				"status":   string(ti.Status),
				"time":     ti.Time,
				"syscalls": counts,
			}
		},
	}
	for name, fn := range bindings {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func (s *script) jsArgs() []any {
	out := make([]any, len(s.args))
	for i, a := range s.args {
		out[i] = a
	}
	return out
}

func joinArgs(call goja.FunctionCall) string {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}

func exitCode(v goja.Value) int32 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	switch v.Export().(type) {
	case int64, float64:
		return int32(v.ToInteger())
	}
	return 0
}
