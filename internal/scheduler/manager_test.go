package scheduler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/me/os3/internal/cpu"
	"github.com/me/os3/internal/timer"
	"github.com/me/os3/pkg/model"
)

// fakeLoader populates n slots with contexts that are never actually run.
type fakeLoader struct {
	names []string
}

func newFakeLoader(n int) fakeLoader {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("app_%d", i)
	}
	return fakeLoader{names: names}
}

func (l fakeLoader) NumApp() int          { return len(l.names) }
func (l fakeLoader) AppName(i int) string { return l.names[i] }
func (l fakeLoader) InitAppContext(i int) cpu.TaskContext {
	return cpu.GotoRestore(uintptr(0x8040_0000+i*0x2000), func() {})
}

// haltSignal is raised by recordingMachine.Shutdown to stop the caller.
type haltSignal struct{ err error }

// recordingMachine records switches instead of performing them, so every
// Switch "returns" as if the saved flow had been resumed right away.
type recordingMachine struct {
	switches [][2]*cpu.TaskContext
	onSwitch func()
	haltErr  error
}

func (r *recordingMachine) Switch(current, next *cpu.TaskContext) {
	if r.onSwitch != nil {
		r.onSwitch()
	}
	r.switches = append(r.switches, [2]*cpu.TaskContext{current, next})
}

func (r *recordingMachine) Shutdown(err error) {
	r.haltErr = err
	panic(haltSignal{err})
}

type event struct {
	kind     string
	from, to int
	code     int
}

type recordingObserver struct {
	events []event
}

func (o *recordingObserver) TaskDispatched(from, to int, _ uint64) {
	o.events = append(o.events, event{kind: "dispatch", from: from, to: to})
}
func (o *recordingObserver) TaskSuspended(id int, _ uint64) {
	o.events = append(o.events, event{kind: "suspend", from: id, to: -1})
}
func (o *recordingObserver) TaskExited(id, code int, _ uint64) {
	o.events = append(o.events, event{kind: "exit", from: id, to: -1, code: code})
}
func (o *recordingObserver) Halted(err error, _ uint64) {
	o.events = append(o.events, event{kind: "halt", from: -1, to: -1})
}

type fixture struct {
	m        *TaskManager
	machine  *recordingMachine
	clock    *timer.Manual
	observer *recordingObserver
}

func newFixture(t *testing.T, numApp int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		machine:  &recordingMachine{},
		clock:    timer.NewManual(1_000),
		observer: &recordingObserver{},
	}
	m, err := NewTaskManager(newFakeLoader(numApp), f.clock, f.machine, logger, WithObserver(f.observer))
	if err != nil {
		t.Fatalf("NewTaskManager: %v", err)
	}
	f.m = m
	return f
}

// boot runs RunFirstTask, which must end in the unreachable panic because
// the recording machine's switch returns.
func (f *fixture) boot(t *testing.T) {
	t.Helper()
	mustPanicWith(t, errUnreachable, f.m.RunFirstTask)
}

// exit runs ExitCurrentAndRunNext and expects it to dispatch another slot.
func (f *fixture) exit(t *testing.T, code int) {
	t.Helper()
	f.m.RecordExitCode(code)
	mustPanicWith(t, errUnreachable, f.m.ExitCurrentAndRunNext)
}

// exitAndHalt runs ExitCurrentAndRunNext and expects the machine to halt.
func (f *fixture) exitAndHalt(t *testing.T) {
	t.Helper()
	r := catch(f.m.ExitCurrentAndRunNext)
	sig, ok := r.(haltSignal)
	if !ok {
		t.Fatalf("ExitCurrentAndRunNext recovered %v, want machine halt", r)
	}
	if !errors.Is(sig.err, ErrAllTasksCompleted) {
		t.Fatalf("halt reason = %v, want %v", sig.err, ErrAllTasksCompleted)
	}
}

func (f *fixture) ctx(i int) *cpu.TaskContext {
	var p *cpu.TaskContext
	f.m.inner.With(func(t *taskTable) { p = &t.tasks[i].Context })
	return p
}

func (f *fixture) tcb(i int) TaskControlBlock {
	var c TaskControlBlock
	f.m.inner.With(func(t *taskTable) { c = t.tasks[i] })
	return c
}

func (f *fixture) statuses() []model.TaskStatus {
	out := make([]model.TaskStatus, f.m.NumApp())
	for i := range out {
		out[i] = f.m.Status(i)
	}
	return out
}

func (f *fixture) lastSwitch(t *testing.T) [2]*cpu.TaskContext {
	t.Helper()
	if len(f.machine.switches) == 0 {
		t.Fatal("no switch recorded")
	}
	return f.machine.switches[len(f.machine.switches)-1]
}

func catch(fn func()) (r any) {
	defer func() { r = recover() }()
	fn()
	return nil
}

func mustPanicWith(t *testing.T, want any, fn func()) {
	t.Helper()
	if r := catch(fn); r != want {
		t.Fatalf("recovered %v, want %v", r, want)
	}
}

func TestNewTaskManager_SlotsInitialized(t *testing.T) {
	for _, numApp := range []int{0, 1, 3, model.MaxAppNum} {
		t.Run(fmt.Sprintf("num_app=%d", numApp), func(t *testing.T) {
			f := newFixture(t, numApp)
			for i := 0; i < model.MaxAppNum; i++ {
				want := model.TaskStatusUnInit
				if i < numApp {
					want = model.TaskStatusReady
				}
				if got := f.m.Status(i); got != want {
					t.Errorf("slot %d status = %s, want %s", i, got, want)
				}
				tcb := f.tcb(i)
				if tcb.StartTime != 0 {
					t.Errorf("slot %d StartTime = %d, want 0", i, tcb.StartTime)
				}
				if i < numApp && !tcb.Context.Resumable() {
					t.Errorf("slot %d context not resumable", i)
				}
				if i >= numApp && tcb.Context.Resumable() {
					t.Errorf("UnInit slot %d has a resumable context", i)
				}
			}
		})
	}
}

func TestNewTaskManager_TooManyApps(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewTaskManager(newFakeLoader(model.MaxAppNum+1), timer.NewManual(1), &recordingMachine{}, logger)
	if !errors.Is(err, model.ErrTooManyApps) {
		t.Fatalf("err = %v, want ErrTooManyApps", err)
	}
}

func TestFindNextTask_Cases(t *testing.T) {
	R, X, U := model.TaskStatusReady, model.TaskStatusExited, model.TaskStatusRunning
	tests := []struct {
		name     string
		current  int
		statuses []model.TaskStatus
		want     int
		wantOK   bool
	}{
		{"next slot ready", 0, []model.TaskStatus{U, R, R}, 1, true},
		{"skips exited", 0, []model.TaskStatus{U, X, R}, 2, true},
		{"wraps around", 2, []model.TaskStatus{R, X, U}, 0, true},
		{"current slot last", 1, []model.TaskStatus{X, R, X}, 1, true},
		{"prefers others over current", 1, []model.TaskStatus{R, R, X}, 0, true},
		{"none ready", 1, []model.TaskStatus{X, U, X}, 0, false},
		{"all exited", 0, []model.TaskStatus{X, X, X}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, len(tt.statuses))
			f.m.inner.With(func(tab *taskTable) {
				tab.current = tt.current
				for i, s := range tt.statuses {
					tab.tasks[i].Status = s
				}
			})
			got, ok := f.m.FindNextTask()
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("FindNextTask() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// TestFindNextTask_Exhaustive checks every current slot and every Ready
// subset for small tables against the cyclic order current+1 .. current+n.
func TestFindNextTask_Exhaustive(t *testing.T) {
	for n := 1; n <= 5; n++ {
		f := newFixture(t, n)
		for k := 0; k < n; k++ {
			for subset := 0; subset < 1<<n; subset++ {
				f.m.inner.With(func(tab *taskTable) {
					tab.current = k
					for i := 0; i < n; i++ {
						if subset&(1<<i) != 0 {
							tab.tasks[i].Status = model.TaskStatusReady
						} else {
							tab.tasks[i].Status = model.TaskStatusExited
						}
					}
				})

				wantOK := false
				want := 0
				for d := 1; d <= n; d++ {
					j := (k + d) % n
					if subset&(1<<j) != 0 {
						want, wantOK = j, true
						break
					}
				}

				got, ok := f.m.FindNextTask()
				if ok != wantOK || (ok && got != want) {
					t.Fatalf("n=%d current=%d ready=%b: FindNextTask() = (%d, %v), want (%d, %v)",
						n, k, subset, got, ok, want, wantOK)
				}
			}
		}
	}
}

func TestFindNextTask_NeverSelectsUnInit(t *testing.T) {
	f := newFixture(t, 2)
	f.m.inner.With(func(tab *taskTable) {
		tab.tasks[0].Status = model.TaskStatusExited
		tab.tasks[1].Status = model.TaskStatusExited
		// Slots beyond num_app are never scanned even if they look Ready.
		tab.tasks[2].Status = model.TaskStatusReady
	})
	if got, ok := f.m.FindNextTask(); ok {
		t.Errorf("FindNextTask() = %d, want none", got)
	}
}

func TestRunFirstTask(t *testing.T) {
	f := newFixture(t, 3)
	f.clock.Set(4_242)
	f.boot(t)

	if got := f.statuses(); got[0] != model.TaskStatusRunning || got[1] != model.TaskStatusReady || got[2] != model.TaskStatusReady {
		t.Errorf("statuses = %v, want [RUNNING READY READY]", got)
	}
	if got := f.tcb(0).StartTime; got != 4_242 {
		t.Errorf("StartTime = %d, want 4242", got)
	}
	sw := f.lastSwitch(t)
	if sw[1] != f.ctx(0) {
		t.Error("first switch does not load slot 0's context")
	}
	if sw[0] == f.ctx(0) {
		t.Error("first switch saves into slot 0's context, want a throwaway context")
	}
	if f.m.CurrentTask() != 0 {
		t.Errorf("CurrentTask() = %d, want 0", f.m.CurrentTask())
	}
}

func TestRunFirstTask_ContractViolations(t *testing.T) {
	t.Run("twice", func(t *testing.T) {
		f := newFixture(t, 1)
		f.boot(t)
		if r := catch(f.m.RunFirstTask); r == nil {
			t.Fatal("second RunFirstTask did not panic")
		}
		if len(f.machine.switches) != 1 {
			t.Errorf("switches = %d, want 1", len(f.machine.switches))
		}
	})
	t.Run("no applications", func(t *testing.T) {
		f := newFixture(t, 0)
		if r := catch(f.m.RunFirstTask); r == nil {
			t.Fatal("RunFirstTask with no apps did not panic")
		}
		if len(f.machine.switches) != 0 {
			t.Errorf("switches = %d, want 0", len(f.machine.switches))
		}
	})
}

func TestScenarioA_ThreeApps(t *testing.T) {
	R, U, X := model.TaskStatusReady, model.TaskStatusRunning, model.TaskStatusExited
	f := newFixture(t, 3)

	f.boot(t)
	assertStatuses(t, f, U, R, R)

	// App 0 yields.
	f.m.SuspendCurrentAndRunNext()
	assertStatuses(t, f, R, U, R)
	assertSwitch(t, f, 0, 1)

	// App 1 exits.
	f.exit(t, 1)
	assertStatuses(t, f, R, X, U)
	assertSwitch(t, f, 1, 2)

	// App 2 exits; the scan wraps to slot 0.
	f.exit(t, 2)
	assertStatuses(t, f, U, X, X)
	assertSwitch(t, f, 2, 0)

	// App 0 exits; nothing is Ready.
	f.exitAndHalt(t)
	assertStatuses(t, f, X, X, X)
	if !errors.Is(f.machine.haltErr, ErrAllTasksCompleted) {
		t.Errorf("halt reason = %v", f.machine.haltErr)
	}

	want := []event{
		{"dispatch", -1, 0, 0},
		{"suspend", 0, -1, 0},
		{"dispatch", 0, 1, 0},
		{"exit", 1, -1, 1},
		{"dispatch", 1, 2, 0},
		{"exit", 2, -1, 2},
		{"dispatch", 2, 0, 0},
		{"exit", 0, -1, 0},
		{"halt", -1, -1, 0},
	}
	if fmt.Sprint(f.observer.events) != fmt.Sprint(want) {
		t.Errorf("events = %v\nwant     %v", f.observer.events, want)
	}
}

func TestScenarioB_SingleAppYieldsThenExits(t *testing.T) {
	f := newFixture(t, 1)
	f.boot(t)
	assertStatuses(t, f, model.TaskStatusRunning)

	// The only Ready slot is the yielding one: it is dispatched again.
	f.m.SuspendCurrentAndRunNext()
	assertStatuses(t, f, model.TaskStatusRunning)
	assertSwitch(t, f, 0, 0)

	f.exitAndHalt(t)
	assertStatuses(t, f, model.TaskStatusExited)
}

func TestStartTime_SetOnlyOnFirstDispatch(t *testing.T) {
	f := newFixture(t, 2)
	f.clock.Set(100)
	f.boot(t)

	f.clock.Set(200)
	f.m.SuspendCurrentAndRunNext() // 0 -> 1
	f.clock.Set(300)
	f.m.SuspendCurrentAndRunNext() // 1 -> 0
	f.clock.Set(400)
	f.m.SuspendCurrentAndRunNext() // 0 -> 1

	if got := f.tcb(0).StartTime; got != 100 {
		t.Errorf("slot 0 StartTime = %d, want 100", got)
	}
	if got := f.tcb(1).StartTime; got != 200 {
		t.Errorf("slot 1 StartTime = %d, want 200", got)
	}
}

func TestExitedSlotNeverRescheduled(t *testing.T) {
	f := newFixture(t, 3)
	f.boot(t)
	f.exit(t, 0) // 0 exits -> 1

	for i := 0; i < 10; i++ {
		f.m.SuspendCurrentAndRunNext()
		if f.m.CurrentTask() == 0 {
			t.Fatalf("exited slot 0 dispatched after %d yields", i+1)
		}
		if got := f.m.Status(0); got != model.TaskStatusExited {
			t.Fatalf("slot 0 status = %s, want EXITED", got)
		}
	}
}

func TestIncreaseSyscallCount(t *testing.T) {
	f := newFixture(t, 2)
	f.boot(t)

	f.m.IncreaseSyscallCount(model.SysWrite)
	f.m.IncreaseSyscallCount(model.SysWrite)
	f.m.IncreaseSyscallCount(model.SysYield)
	f.m.SuspendCurrentAndRunNext() // 0 -> 1
	f.m.IncreaseSyscallCount(model.SysGetTime)

	t0, t1 := f.tcb(0), f.tcb(1)
	if t0.SyscallTimes[model.SysWrite] != 2 || t0.SyscallTimes[model.SysYield] != 1 || t0.SyscallTimes[model.SysGetTime] != 0 {
		t.Errorf("slot 0 counts = %v", model.SyscallCounts(&t0.SyscallTimes))
	}
	if t1.SyscallTimes[model.SysGetTime] != 1 || t1.SyscallTimes[model.SysWrite] != 0 {
		t.Errorf("slot 1 counts = %v", model.SyscallCounts(&t1.SyscallTimes))
	}
}

func TestIncreaseSyscallCount_OutOfRangePanics(t *testing.T) {
	f := newFixture(t, 1)
	f.boot(t)
	if r := catch(func() { f.m.IncreaseSyscallCount(model.MaxSyscallNum) }); r == nil {
		t.Fatal("out-of-range syscall id did not panic")
	}
	if f.m.inner.Borrowed() {
		t.Error("task table left borrowed")
	}
}

func TestGetTaskInfo(t *testing.T) {
	f := newFixture(t, 2)
	f.clock.Set(10_000)
	f.boot(t)
	f.m.SuspendCurrentAndRunNext() // 0 -> 1, slot 1 starts at 10_000

	f.m.IncreaseSyscallCount(model.SysTaskInfo)
	f.m.IncreaseSyscallCount(model.SysWrite)
	f.clock.Advance(25 * time.Millisecond)

	var info model.TaskInfo
	if rc := f.m.GetTaskInfo(&info); rc != 0 {
		t.Fatalf("GetTaskInfo() = %d, want 0", rc)
	}
	if info.Status != model.TaskStatusRunning {
		t.Errorf("Status = %s, want RUNNING", info.Status)
	}
	if info.Time != 25 {
		t.Errorf("Time = %d ms, want 25", info.Time)
	}
	if info.SyscallTimes[model.SysTaskInfo] != 1 || info.SyscallTimes[model.SysWrite] != 1 {
		t.Errorf("counts = %v", info.Counts())
	}

	// The snapshot is a copy.
	f.m.IncreaseSyscallCount(model.SysWrite)
	if info.SyscallTimes[model.SysWrite] != 1 {
		t.Error("TaskInfo aliases the live counter table")
	}
}

func TestGetTaskInfo_ElapsedNonDecreasing(t *testing.T) {
	f := newFixture(t, 1)
	f.boot(t)

	var prev uint64
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Duration(i) * 700 * time.Microsecond)
		var info model.TaskInfo
		if rc := f.m.GetTaskInfo(&info); rc != 0 {
			t.Fatalf("GetTaskInfo() = %d", rc)
		}
		if info.Time < prev {
			t.Fatalf("elapsed went backwards: %d < %d", info.Time, prev)
		}
		prev = info.Time
	}
}

func TestGetTaskInfo_InvalidTarget(t *testing.T) {
	f := newFixture(t, 1)
	f.boot(t)
	if rc := f.m.GetTaskInfo(nil); rc != -1 {
		t.Errorf("GetTaskInfo(nil) = %d, want -1", rc)
	}
}

func TestSwitch_CalledWithoutBorrow(t *testing.T) {
	f := newFixture(t, 2)
	f.machine.onSwitch = func() {
		if f.m.inner.Borrowed() {
			t.Error("task table borrowed across a context switch")
		}
	}
	f.boot(t)
	f.m.SuspendCurrentAndRunNext()
	f.exit(t, 0)
}

func TestInvalidTransitionPanicsAndReleases(t *testing.T) {
	f := newFixture(t, 2)

	// Before the first dispatch slot 0 is Ready, not Running.
	r := catch(f.m.MarkCurrentSuspended)
	var ite *model.InvalidTransitionError
	err, _ := r.(error)
	if !errors.As(err, &ite) {
		t.Fatalf("recovered %v, want InvalidTransitionError", r)
	}
	if ite.From != "READY" || ite.To != "READY" {
		t.Errorf("transition = %s → %s", ite.From, ite.To)
	}
	if f.m.inner.Borrowed() {
		t.Error("task table left borrowed after panic")
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, 2)
	f.boot(t)
	f.m.IncreaseSyscallCount(model.SysWrite)
	f.exit(t, 3)

	snaps := f.m.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("len = %d, want 2", len(snaps))
	}
	if snaps[0].Status != model.TaskStatusExited || snaps[0].ExitCode == nil || *snaps[0].ExitCode != 3 {
		t.Errorf("slot 0 = %+v", snaps[0])
	}
	if snaps[0].SyscallCount[model.SysWrite] != 1 {
		t.Errorf("slot 0 counts = %v", snaps[0].SyscallCount)
	}
	if snaps[1].Status != model.TaskStatusRunning || snaps[1].ExitCode != nil {
		t.Errorf("slot 1 = %+v", snaps[1])
	}
	if snaps[1].Name != "app_1" {
		t.Errorf("slot 1 name = %q", snaps[1].Name)
	}
}

func assertStatuses(t *testing.T, f *fixture, want ...model.TaskStatus) {
	t.Helper()
	got := f.statuses()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}

func assertSwitch(t *testing.T, f *fixture, from, to int) {
	t.Helper()
	sw := f.lastSwitch(t)
	if sw[0] != f.ctx(from) || sw[1] != f.ctx(to) {
		t.Errorf("last switch is not %d -> %d", from, to)
	}
}
