package expiry

import (
	"context"
	"time"

	"github.com/riverqueue/river"
)

// SweepArgs is the periodic sweep job payload. It carries nothing; the
// sweeper reads everything it needs from the store.
type SweepArgs struct{}

// Kind implements river.JobArgs.
func (SweepArgs) Kind() string { return "expiry_sweep" }

// SweepWorker runs one sweep per job.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	Sweeper *Sweeper
}

// Work implements river.Worker.
func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	return w.Sweeper.Sweep(ctx, time.Now().UTC())
}

// PeriodicJob returns the river periodic registration for the sweep.
func PeriodicJob(interval time.Duration) *river.PeriodicJob {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return SweepArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
