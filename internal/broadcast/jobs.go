package broadcast

import (
	"context"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// RevealArgs is the phase-two job payload. Recipients is the confirmed set
// captured at trigger time; the worker does not re-query membership.
type RevealArgs struct {
	EventID    int64    `json:"event_id"`
	Recipients []string `json:"recipients"`
	Address    string   `json:"address"`
	Window     string   `json:"window,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Kind implements river.JobArgs.
func (RevealArgs) Kind() string { return "location_reveal" }

// RevealWorker executes the delayed reveal.
type RevealWorker struct {
	river.WorkerDefaults[RevealArgs]
	Broadcaster *Broadcaster
}

// Work implements river.Worker.
func (w *RevealWorker) Work(ctx context.Context, job *river.Job[RevealArgs]) error {
	return w.Broadcaster.Reveal(ctx, job.Args)
}

// InsertClient is the slice of the river client the scheduler needs.
type InsertClient interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// NewRiverScheduler adapts an insert-capable river client into a
// Scheduler.
func NewRiverScheduler(client InsertClient) Scheduler {
	return &riverScheduler{client: client}
}

type riverScheduler struct {
	client InsertClient
}

func (s *riverScheduler) ScheduleReveal(ctx context.Context, args RevealArgs, at time.Time) error {
	_, err := s.client.Insert(ctx, args, &river.InsertOpts{ScheduledAt: at})
	return err
}
