// Package loader builds the application table the kernel schedules: it
// resolves each manifest entry to an entry point, assigns kernel stacks and
// produces the initial task contexts.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/me/os3/internal/config"
	"github.com/me/os3/internal/cpu"
	"github.com/me/os3/internal/user"
	"github.com/me/os3/pkg/model"
)

const (
	// KernelStackSize is the size of each application's kernel stack.
	KernelStackSize = 4096 * 2
	// KernelStackBase is the lowest address of the kernel stack region.
	KernelStackBase uintptr = 0x8026_0000
)

// errNotBound is raised when an application starts before Bind.
var errNotBound = errors.New("loader: application started before syscalls were bound")

// KernelStackTop returns the initial stack pointer of application i.
// Stacks grow down from the top of their region.
func KernelStackTop(i int) uintptr {
	return KernelStackBase + uintptr(i+1)*KernelStackSize
}

type app struct {
	name   string
	kind   string
	main   user.Main
	script *script
}

// Loader holds the loaded applications.
type Loader struct {
	apps   []app
	sys    user.Syscalls
	logger *slog.Logger
}

// New resolves every manifest entry. Builtin names are looked up in reg;
// scripts are compiled up front so a syntax error fails the load.
func New(specs []config.AppSpec, reg *Registry, logger *slog.Logger) (*Loader, error) {
	if len(specs) > model.MaxAppNum {
		return nil, fmt.Errorf("%w: manifest has %d", model.ErrTooManyApps, len(specs))
	}
	l := &Loader{logger: logger.With("component", "loader")}

	for i, spec := range specs {
		a := app{name: spec.Name, kind: spec.Kind()}
		switch {
		case spec.Builtin != "":
			b, err := reg.Get(spec.Builtin)
			if err != nil {
				return nil, fmt.Errorf("app %d (%s): %w", i, spec.Name, err)
			}
			main, err := b.Build(spec.Args)
			if err != nil {
				return nil, fmt.Errorf("app %d (%s): %w", i, spec.Name, err)
			}
			a.main = main
		default:
			src := spec.Script
			if spec.ScriptFile != "" {
				data, err := os.ReadFile(spec.ScriptFile)
				if err != nil {
					return nil, fmt.Errorf("app %d (%s): read script: %w", i, spec.Name, err)
				}
				src = string(data)
			}
			s, err := compileScript(spec.Name, src, spec.Args, l.logger)
			if err != nil {
				return nil, fmt.Errorf("app %d (%s): %w", i, spec.Name, err)
			}
			a.script = s
			a.main = s.run
		}
		l.apps = append(l.apps, a)
		l.logger.Debug("application loaded", "app", i, "name", a.name, "kind", a.kind,
			"kstack", fmt.Sprintf("%#x", KernelStackTop(i)))
	}
	return l, nil
}

// Bind attaches the syscall interface applications trap into. It must be
// called before the first task is dispatched.
func (l *Loader) Bind(sys user.Syscalls) {
	l.sys = sys
}

// NumApp returns the number of loaded applications.
func (l *Loader) NumApp() int {
	return len(l.apps)
}

// AppName returns the manifest name of application i.
func (l *Loader) AppName(i int) string {
	return l.apps[i].name
}

// Names returns every application name in load order.
func (l *Loader) Names() []string {
	out := make([]string, len(l.apps))
	for i, a := range l.apps {
		out[i] = a.name
	}
	return out
}

// InitAppContext returns the context that starts application i on its
// kernel stack.
func (l *Loader) InitAppContext(i int) cpu.TaskContext {
	a := l.apps[i]
	return cpu.GotoRestore(KernelStackTop(i), func() {
		if l.sys == nil {
			panic(errNotBound)
		}
		user.Entry(user.New(l.sys), a.main)()
	})
}

// Interrupt stops every script that is still executing. Builtins are not
// affected; they stop at their next switch once the core has halted.
func (l *Loader) Interrupt(reason error) {
	for _, a := range l.apps {
		if a.script != nil {
			a.script.interrupt(reason)
		}
	}
}
