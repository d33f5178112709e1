package kernel

import (
	"sync"

	"github.com/me/os3/internal/scheduler"
	"github.com/me/os3/pkg/model"
)

// recorder collects scheduling events in order.
type recorder struct {
	runID string

	mu     sync.Mutex
	events []model.Event
}

func newRecorder(runID string) *recorder {
	return &recorder{runID: runID}
}

func (r *recorder) add(kind model.EventKind, from, to, code int, timeUS uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, model.Event{
		RunID:  r.runID,
		Seq:    len(r.events),
		Kind:   kind,
		From:   from,
		To:     to,
		Code:   code,
		TimeUS: timeUS,
	})
}

func (r *recorder) TaskDispatched(from, to int, timeUS uint64) {
	r.add(model.EventDispatch, from, to, 0, timeUS)
}

func (r *recorder) TaskSuspended(id int, timeUS uint64) {
	r.add(model.EventSuspend, id, -1, 0, timeUS)
}

func (r *recorder) TaskExited(id, code int, timeUS uint64) {
	r.add(model.EventExit, id, -1, code, timeUS)
}

func (r *recorder) Halted(_ error, timeUS uint64) {
	r.add(model.EventHalt, -1, -1, 0, timeUS)
}

// Events returns a copy of everything recorded so far.
func (r *recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

var _ scheduler.Observer = (*recorder)(nil)
