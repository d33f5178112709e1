package kernel

import (
	"time"

	"github.com/me/os3/pkg/model"
)

// Report describes a finished run.
type Report struct {
	RunID      string
	State      model.RunState
	Apps       []string
	Tasks      []model.TaskSnapshot
	Events     []model.Event
	Switches   uint64
	HaltReason error
	Started    time.Time
	Finished   time.Time
}

// Dispatches returns the slots in the order they were given the processor.
func (r *Report) Dispatches() []int {
	var out []int
	for _, ev := range r.Events {
		if ev.Kind == model.EventDispatch {
			out = append(out, ev.To)
		}
	}
	return out
}

// ExitCodes maps every exited slot to its exit code.
func (r *Report) ExitCodes() map[int]int {
	out := make(map[int]int)
	for _, t := range r.Tasks {
		if t.ExitCode != nil {
			out[t.ID] = *t.ExitCode
		}
	}
	return out
}

// Run converts the report to its stored form.
func (r *Report) Run() *model.Run {
	run := &model.Run{
		ID:        r.RunID,
		State:     r.State,
		NumApp:    len(r.Apps),
		Apps:      r.Apps,
		Switches:  int(r.Switches),
		Tasks:     r.Tasks,
		CreatedAt: r.Started,
	}
	if r.HaltReason != nil {
		run.HaltReason = r.HaltReason.Error()
	}
	if !r.Finished.IsZero() {
		finished := r.Finished
		run.CompletedAt = &finished
	}
	return run
}
