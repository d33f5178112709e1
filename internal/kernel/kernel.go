// Package kernel boots the task manager over a loaded application set and
// runs it until every application has exited.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/me/os3/internal/config"
	"github.com/me/os3/internal/cpu"
	"github.com/me/os3/internal/loader"
	"github.com/me/os3/internal/logging"
	"github.com/me/os3/internal/scheduler"
	"github.com/me/os3/internal/store"
	"github.com/me/os3/internal/syscalls"
	"github.com/me/os3/internal/timer"
	"github.com/me/os3/internal/tracing"
	"github.com/me/os3/pkg/model"
)

// Version is reported in traces.
const Version = "0.3.0"

var (
	// ErrNoApps is returned by New when the manifest lists no applications.
	ErrNoApps = errors.New("kernel: no applications to run")
	// ErrAlreadyRun is returned by a second call to Run.
	ErrAlreadyRun = errors.New("kernel: already booted")
)

// Deps are the optional collaborators of a kernel.
type Deps struct {
	Store    store.Store      // records the run; nil disables recording
	Tracer   *tracing.Tracer  // nil disables tracing
	Registry *loader.Registry // nil means loader.DefaultRegistry()
	Console  io.Writer        // application output; nil means os.Stdout
	Logger   *slog.Logger
}

// Kernel is one boot of the machine.
type Kernel struct {
	cfg     config.KernelConfig
	deps    Deps
	ldr     *loader.Loader
	logger  *slog.Logger
	console io.Writer
	booted  atomic.Bool
}

// New loads the applications named by cfg.
func New(cfg config.KernelConfig, deps Deps) (*Kernel, error) {
	if len(cfg.Apps) == 0 {
		return nil, ErrNoApps
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Registry == nil {
		deps.Registry = loader.DefaultRegistry()
	}
	console := deps.Console
	if console == nil {
		console = os.Stdout
	}
	if cfg.Quiet {
		console = io.Discard
	}

	ldr, err := loader.New(cfg.Apps, deps.Registry, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}

	return &Kernel{
		cfg:     cfg,
		deps:    deps,
		ldr:     ldr,
		logger:  deps.Logger.With("component", "kernel"),
		console: console,
	}, nil
}

// Run boots the machine and blocks until it halts. A run in which every
// application exited returns a nil error. Cancelling ctx halts the machine
// at the next context switch and interrupts running scripts; the report
// then describes the state at that point.
func (k *Kernel) Run(ctx context.Context) (*Report, error) {
	if !k.booted.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	runID := "run_" + uuid.New().String()
	logger := k.logger.With("run_id", runID)
	started := time.Now().UTC()

	clock := timer.New()
	core := cpu.NewCore(logger)
	rec := newRecorder(runID)
	span := k.deps.Tracer.StartRun(ctx, runID, k.ldr.Names())

	mgr, err := scheduler.NewTaskManager(k.ldr, clock, core, logger,
		scheduler.WithObserver(rec),
		scheduler.WithObserver(span),
	)
	if err != nil {
		span.End(err, 0)
		return nil, err
	}
	k.ldr.Bind(syscalls.NewHandler(mgr, clock, k.console, logger))

	run := &model.Run{
		ID:        runID,
		State:     model.RunStateRunning,
		NumApp:    mgr.NumApp(),
		Apps:      k.ldr.Names(),
		CreatedAt: started,
	}
	if k.deps.Store != nil {
		if err := k.deps.Store.CreateRun(ctx, run); err != nil {
			span.End(err, 0)
			return nil, fmt.Errorf("record run: %w", err)
		}
	}

	logger.Info("kernel boot", "num_app", mgr.NumApp())
	core.Boot(mgr.RunFirstTask)

	go func() {
		select {
		case <-ctx.Done():
			reason := fmt.Errorf("kernel: run cancelled: %w", context.Cause(ctx))
			core.Halt(reason)
			k.ldr.Interrupt(reason)
		case <-core.Done():
		}
	}()

	haltErr := core.Wait()
	finished := time.Now().UTC()

	report := &Report{
		RunID:      runID,
		Apps:       run.Apps,
		Tasks:      mgr.Snapshot(),
		Events:     rec.Events(),
		Switches:   core.Switches(),
		HaltReason: haltErr,
		Started:    started,
		Finished:   finished,
	}

	var runErr error
	if errors.Is(haltErr, scheduler.ErrAllTasksCompleted) {
		report.State = model.RunStateCompleted
		logger.Info("kernel halt", "reason", haltErr, "switches", report.Switches,
			"elapsed", finished.Sub(started))
	} else {
		report.State = model.RunStateAborted
		runErr = haltErr
		logger.Error("kernel abort", "reason", haltErr, "switches", report.Switches)
	}
	span.End(haltErr, report.Switches)

	if k.deps.Store != nil {
		if err := k.persist(context.WithoutCancel(ctx), report); err != nil {
			logger.Warn("failed to record run", "error", err)
			runErr = errors.Join(runErr, fmt.Errorf("record run: %w", err))
		}
	}
	return report, runErr
}

func (k *Kernel) persist(ctx context.Context, r *Report) error {
	run := r.Run()
	if err := k.deps.Store.UpdateRun(ctx, run); err != nil {
		return err
	}
	if err := k.deps.Store.AppendEvents(ctx, r.Events); err != nil {
		return err
	}
	return k.deps.Store.SaveTasks(ctx, r.RunID, r.Tasks)
}
