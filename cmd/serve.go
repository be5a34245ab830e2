package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/doorman/internal/broadcast"
	"github.com/doorman/internal/classifier"
	"github.com/doorman/internal/config"
	"github.com/doorman/internal/database"
	"github.com/doorman/internal/expiry"
	"github.com/doorman/internal/logging"
	"github.com/doorman/internal/router"
	"github.com/doorman/internal/store"
	"github.com/doorman/internal/transport"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the doorman bot",
		Action: runServe,
	}
}

// lazyScheduler breaks the construction cycle between the broadcaster and
// the job queue client: workers need the broadcaster, the broadcaster
// needs the client's insert method.
type lazyScheduler struct {
	inner broadcast.Scheduler
}

func (l *lazyScheduler) ScheduleReveal(ctx context.Context, args broadcast.RevealArgs, at time.Time) error {
	if l.inner == nil {
		return errors.New("job queue not started")
	}
	return l.inner.ScheduleReveal(ctx, args, at)
}

func runServe(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := store.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	st := store.NewPostgres(pool)

	sink, err := transport.NewJSONLSink(cfg.Transport.OutboundPath)
	if err != nil {
		return fmt.Errorf("open outbound sink: %w", err)
	}
	defer sink.Close()

	source, err := transport.NewJSONLSource(cfg.Transport.InboundPath, cfg.PollInterval())
	if err != nil {
		return fmt.Errorf("open inbound source: %w", err)
	}
	defer source.Close()

	cls, err := classifier.New(classifier.Config{
		APIKey:     cfg.Classifier.APIKey,
		Model:      cfg.Classifier.Model,
		Timeout:    cfg.ClassifierTimeout(),
		RatePerSec: cfg.Classifier.RatePerSec,
	})
	if err != nil {
		return err
	}

	scheduler := &lazyScheduler{}
	bc := broadcast.New(st, sink, scheduler, cfg.DropDelay())
	sweeper := expiry.NewSweeper(st, sink, expiry.Config{
		PendingWindow: time.Duration(cfg.Expiry.PendingHours) * time.Hour,
		WarnAfter:     time.Duration(cfg.Expiry.WarnHours) * time.Hour,
		QuotaWindow:   time.Duration(cfg.Expiry.QuotaWindowHours) * time.Hour,
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, &broadcast.RevealWorker{Broadcaster: bc})
	river.AddWorker(workers, &expiry.SweepWorker{Sweeper: sweeper})

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			expiry.PeriodicJob(time.Duration(cfg.Expiry.SweepMinutes) * time.Minute),
		},
	})
	if err != nil {
		return fmt.Errorf("create job queue client: %w", err)
	}
	scheduler.inner = broadcast.NewRiverScheduler(riverClient)

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("job queue shutdown failed")
		}
	}()

	rt := router.New(st, sink, cls, bc, router.Config{
		Region:       cfg.Bot.Region,
		QuotaLimit:   cfg.Bot.QuotaLimit,
		HostIdentity: cfg.Bot.HostIdentity,
	})

	log.Info().Str("inbound", cfg.Transport.InboundPath).Msg("doorman listening")
	for {
		msg, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				log.Info().Msg("shutting down")
				return nil
			}
			log.Error().Err(err).Msg("inbound source failed")
			return err
		}
		rt.Handle(ctx, msg)
	}
}
