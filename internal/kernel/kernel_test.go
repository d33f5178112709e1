package kernel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/os3/internal/config"
	"github.com/me/os3/internal/cpu"
	"github.com/me/os3/internal/loader"
	"github.com/me/os3/internal/scheduler"
	"github.com/me/os3/internal/store"
	"github.com/me/os3/internal/user"
	"github.com/me/os3/pkg/model"
)

// testRegistry adds programs that drive the scheduler through exact paths.
func testRegistry() *loader.Registry {
	r := loader.DefaultRegistry()
	r.Register(loader.Builtin{
		Name: "yield-once",
		Build: func(args []string) (user.Main, error) {
			return func(l *user.Lib) int32 {
				l.Yield()
				return 0
			}, nil
		},
	})
	r.Register(loader.Builtin{
		Name: "spin",
		Build: func(args []string) (user.Main, error) {
			return func(l *user.Lib) int32 {
				for {
					l.Yield()
				}
			}, nil
		},
	})
	r.Register(loader.Builtin{
		Name: "crash",
		Build: func(args []string) (user.Main, error) {
			return func(l *user.Lib) int32 {
				panic("bad instruction")
			}, nil
		},
	})
	r.Register(loader.Builtin{
		Name: "info",
		Build: func(args []string) (user.Main, error) {
			return func(l *user.Lib) int32 {
				var ti model.TaskInfo
				if l.TaskInfo(&ti) != 0 || ti.Status != model.TaskStatusRunning {
					return 1
				}
				return int32(ti.Counts()[model.SysTaskInfo])
			}, nil
		},
	})
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKernel(t *testing.T, deps Deps, apps ...config.AppSpec) *Kernel {
	t.Helper()
	if deps.Registry == nil {
		deps.Registry = testRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	if deps.Console == nil {
		deps.Console = io.Discard
	}
	cfg := config.DefaultKernelConfig()
	cfg.Apps = apps
	k, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func builtin(name string, args ...string) config.AppSpec {
	return config.AppSpec{Name: name, Builtin: name, Args: args}
}

func runWithTimeout(t *testing.T, k *Kernel, ctx context.Context) (*Report, error) {
	t.Helper()
	type result struct {
		r   *Report
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := k.Run(ctx)
		done <- result{r, err}
	}()
	select {
	case res := <-done:
		return res.r, res.err
	case <-time.After(10 * time.Second):
		t.Fatal("kernel did not halt")
		return nil, nil
	}
}

func statuses(r *Report) []model.TaskStatus {
	out := make([]model.TaskStatus, len(r.Tasks))
	for i, task := range r.Tasks {
		out[i] = task.Status
	}
	return out
}

func TestRun_ScenarioA(t *testing.T) {
	k := newKernel(t, Deps{},
		builtin("yield-once"),
		builtin("exit", "1"),
		builtin("exit", "2"),
	)
	r, err := runWithTimeout(t, k, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if r.State != model.RunStateCompleted {
		t.Errorf("State = %s, want COMPLETED", r.State)
	}
	if !errors.Is(r.HaltReason, scheduler.ErrAllTasksCompleted) {
		t.Errorf("HaltReason = %v", r.HaltReason)
	}
	if got := fmt.Sprint(r.Dispatches()); got != "[0 1 2 0]" {
		t.Errorf("dispatch order = %s, want [0 1 2 0]", got)
	}
	for i, s := range statuses(r) {
		if s != model.TaskStatusExited {
			t.Errorf("task %d status = %s, want EXITED", i, s)
		}
	}
	if got := r.ExitCodes(); got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("exit codes = %v", got)
	}
	if r.Switches != 4 {
		t.Errorf("switches = %d, want 4", r.Switches)
	}

	var kinds []string
	for _, ev := range r.Events {
		kinds = append(kinds, fmt.Sprintf("%s:%d>%d", ev.Kind, ev.From, ev.To))
	}
	want := []string{
		"DISPATCH:-1>0",
		"SUSPEND:0>-1",
		"DISPATCH:0>1",
		"EXIT:1>-1",
		"DISPATCH:1>2",
		"EXIT:2>-1",
		"DISPATCH:2>0",
		"EXIT:0>-1",
		"HALT:-1>-1",
	}
	if strings.Join(kinds, " ") != strings.Join(want, " ") {
		t.Errorf("events = %v\nwant     %v", kinds, want)
	}

	counts := r.Tasks[0].SyscallCount
	if counts[model.SysYield] != 1 || counts[model.SysExit] != 1 || len(counts) != 2 {
		t.Errorf("task 0 syscall counts = %v", counts)
	}
}

func TestRun_ScenarioB(t *testing.T) {
	k := newKernel(t, Deps{}, builtin("yield-once"))
	r, err := runWithTimeout(t, k, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fmt.Sprint(r.Dispatches()); got != "[0 0]" {
		t.Errorf("dispatch order = %s, want [0 0]", got)
	}
	if got := statuses(r); len(got) != 1 || got[0] != model.TaskStatusExited {
		t.Errorf("statuses = %v", got)
	}
	if r.Switches != 2 {
		t.Errorf("switches = %d, want 2", r.Switches)
	}
}

func TestRun_StartTimesAndTaskInfo(t *testing.T) {
	k := newKernel(t, Deps{}, builtin("power", "3", "1000"), builtin("info"), builtin("counter"))
	r, err := runWithTimeout(t, k, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	codes := r.ExitCodes()
	if codes[1] != 1 {
		t.Errorf("info exit code = %d, want 1 (one task_info call)", codes[1])
	}
	if codes[2] != 0 {
		t.Errorf("counter exit code = %d, want 0", codes[2])
	}
	prev := uint64(0)
	for _, task := range r.Tasks {
		if !task.Started() {
			t.Errorf("task %d never started", task.ID)
		}
		if task.StartTimeUS < prev {
			t.Errorf("task %d started at %d, before task %d", task.ID, task.StartTimeUS, task.ID-1)
		}
		prev = task.StartTimeUS
	}
}

func TestRun_ConsoleOutput(t *testing.T) {
	var console bytes.Buffer
	k := newKernel(t, Deps{Console: &console},
		builtin("hello"),
		config.AppSpec{Name: "js", Script: `println("from js", getpid()); yield(); println("js again"); 0`},
	)
	if _, err := runWithTimeout(t, k, context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "Hello, world!\nfrom js 1\njs again\n"
	if console.String() != want {
		t.Errorf("console = %q, want %q", console.String(), want)
	}
}

func TestRun_ScriptsInterleaveOnYield(t *testing.T) {
	var console bytes.Buffer
	k := newKernel(t, Deps{Console: &console},
		config.AppSpec{Name: "a", Script: `println("a1"); yield(); println("a2");`},
		config.AppSpec{Name: "b", Script: `println("b1"); yield(); println("b2");`},
	)
	r, err := runWithTimeout(t, k, context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := "a1\nb1\na2\nb2\n"; console.String() != want {
		t.Errorf("console = %q, want %q", console.String(), want)
	}
	if got := fmt.Sprint(r.Dispatches()); got != "[0 1 0 1]" {
		t.Errorf("dispatches = %s, want [0 1 0 1]", got)
	}
	for _, task := range r.Tasks {
		if task.SyscallCount[model.SysYield] != 1 {
			t.Errorf("task %d yields = %d, want 1", task.ID, task.SyscallCount[model.SysYield])
		}
	}
}

func TestRun_Quiet(t *testing.T) {
	var console bytes.Buffer
	cfg := config.DefaultKernelConfig()
	cfg.Quiet = true
	cfg.Apps = []config.AppSpec{builtin("hello")}
	k, err := New(cfg, Deps{Console: &console, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := runWithTimeout(t, k, context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if console.Len() != 0 {
		t.Errorf("console = %q, want empty", console.String())
	}
}

func TestRun_RecordsToStore(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	k := newKernel(t, Deps{Store: st}, builtin("yield-once"), builtin("exit", "7"))
	r, err := runWithTimeout(t, k, ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	run, err := st.GetRun(ctx, r.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil {
		t.Fatal("run not recorded")
	}
	if run.State != model.RunStateCompleted || run.Switches != int(r.Switches) || run.CompletedAt == nil {
		t.Errorf("stored run = %+v", run)
	}
	if len(run.Tasks) != 2 || run.Tasks[1].ExitCode == nil || *run.Tasks[1].ExitCode != 7 {
		t.Errorf("stored tasks = %+v", run.Tasks)
	}
	events, err := st.ListEvents(ctx, r.RunID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != len(r.Events) {
		t.Errorf("stored %d events, report has %d", len(events), len(r.Events))
	}
}

func TestRun_CancelStopsYieldingTasks(t *testing.T) {
	k := newKernel(t, Deps{}, builtin("spin"), builtin("spin"))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	r, err := runWithTimeout(t, k, ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if r.State != model.RunStateAborted {
		t.Errorf("State = %s, want ABORTED", r.State)
	}
	for _, task := range r.Tasks {
		if task.Status == model.TaskStatusExited {
			t.Errorf("task %d exited", task.ID)
		}
	}
}

func TestRun_CancelInterruptsScript(t *testing.T) {
	k := newKernel(t, Deps{}, config.AppSpec{Name: "busy", Script: `while (true) {}`})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	r, err := runWithTimeout(t, k, ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if got := statuses(r); got[0] != model.TaskStatusRunning {
		t.Errorf("status = %s, want RUNNING", got[0])
	}
}

func TestRun_TaskPanicAborts(t *testing.T) {
	k := newKernel(t, Deps{}, builtin("hello"), builtin("crash"), builtin("hello"))
	r, err := runWithTimeout(t, k, context.Background())

	var pe *cpu.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Run err = %v, want PanicError", err)
	}
	if r.State != model.RunStateAborted {
		t.Errorf("State = %s, want ABORTED", r.State)
	}
	if got := statuses(r); got[0] != model.TaskStatusExited || got[1] != model.TaskStatusRunning || got[2] != model.TaskStatusReady {
		t.Errorf("statuses = %v", got)
	}
}

func TestRun_Twice(t *testing.T) {
	k := newKernel(t, Deps{}, builtin("hello"))
	if _, err := runWithTimeout(t, k, context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := k.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run err = %v, want ErrAlreadyRun", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(config.DefaultKernelConfig(), Deps{}); !errors.Is(err, ErrNoApps) {
		t.Errorf("no apps: err = %v", err)
	}
	cfg := config.DefaultKernelConfig()
	cfg.Apps = []config.AppSpec{builtin("nope")}
	if _, err := New(cfg, Deps{}); !errors.Is(err, loader.ErrUnknownBuiltin) {
		t.Errorf("unknown builtin: err = %v", err)
	}
	cfg.Apps = make([]config.AppSpec, model.MaxAppNum+1)
	for i := range cfg.Apps {
		cfg.Apps[i] = builtin("hello")
	}
	if _, err := New(cfg, Deps{}); !errors.Is(err, model.ErrTooManyApps) {
		t.Errorf("too many apps: err = %v", err)
	}
}

// TestRun_Concurrent boots independent kernels side by side.
func TestRun_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := newKernel(t, Deps{}, builtin("yielder", "5"), builtin("yielder", "3"), builtin("sleeper", "2"))
			r, err := k.Run(context.Background())
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			if r.State != model.RunStateCompleted {
				t.Errorf("State = %s", r.State)
			}
		}()
	}
	wg.Wait()
}
