package store

import (
	"context"

	"github.com/me/os3/pkg/model"
)

// Store defines the persistence layer for recorded kernel runs.
type Store interface {
	// Run records
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error

	// Scheduling events, ordered by Seq within a run
	AppendEvents(ctx context.Context, events []model.Event) error
	ListEvents(ctx context.Context, runID string) ([]model.Event, error)

	// Final per-task state of a run
	SaveTasks(ctx context.Context, runID string, tasks []model.TaskSnapshot) error
	ListTasks(ctx context.Context, runID string) ([]model.TaskSnapshot, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
