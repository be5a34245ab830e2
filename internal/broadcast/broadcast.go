// Package broadcast implements the two-phase location drop. Phase one
// notifies every confirmed guest immediately; phase two reveals the
// address after a fixed delay. The reveal is a persisted job so a restart
// between the phases re-arms it, and the drop flag's conditional write
// makes the whole sequence fire at most once per event.
package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doorman/internal/store"
	"github.com/doorman/internal/transport"
)

// Details is the location payload the host supplies when triggering the
// drop. Only Address is required.
type Details struct {
	Address string
	Window  string
	Notes   string
}

// Scheduler enqueues the delayed phase-two job. The production
// implementation rides the job queue; tests substitute a recorder.
type Scheduler interface {
	ScheduleReveal(ctx context.Context, args RevealArgs, at time.Time) error
}

// Broadcaster runs the drop sequence.
type Broadcaster struct {
	store     store.Store
	sink      transport.Sink
	scheduler Scheduler
	delay     time.Duration
}

// New builds a Broadcaster. delay is the gap between warning and reveal.
func New(st store.Store, sink transport.Sink, scheduler Scheduler, delay time.Duration) *Broadcaster {
	if delay <= 0 {
		delay = 30 * time.Minute
	}
	return &Broadcaster{store: st, sink: sink, scheduler: scheduler, delay: delay}
}

// Trigger starts the drop for an event. The flag write happens before any
// message goes out, so a second Trigger for the same event returns
// ErrAlreadyTriggered without sending anything. The confirmed-guest set is
// snapshotted here; guests confirmed after this moment are not part of
// this drop.
func (b *Broadcaster) Trigger(ctx context.Context, eventID int64, details Details) (int, error) {
	ev, err := b.store.EventByID(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if err := b.store.MarkDropTriggered(ctx, eventID); err != nil {
		return 0, err
	}

	confirmed, err := b.store.Guests(ctx, eventID, store.GuestConfirmed)
	if err != nil {
		return 0, err
	}
	recipients := make([]string, 0, len(confirmed))
	for _, g := range confirmed {
		recipients = append(recipients, g.Identity)
	}

	// Persist the reveal before anything goes out. A failed insert rolls
	// the flag back so the host's retry isn't bounced as already triggered
	// with phase two lost.
	args := RevealArgs{
		EventID:    eventID,
		Recipients: recipients,
		Address:    details.Address,
		Window:     details.Window,
		Notes:      details.Notes,
	}
	revealAt := time.Now().Add(b.delay)
	if err := b.scheduler.ScheduleReveal(ctx, args, revealAt); err != nil {
		if cerr := b.store.ClearDropTriggered(ctx, eventID); cerr != nil {
			log.Error().Err(cerr).Int64("event_id", eventID).Msg("drop flag rollback failed")
		}
		return 0, fmt.Errorf("schedule reveal: %w", err)
	}

	warning := warningMessage(ev, b.delay)
	sent := 0
	for _, identity := range recipients {
		if err := b.deliver(ctx, eventID, identity, warning); err != nil {
			log.Error().Err(err).Str("to", identity).Msg("drop warning delivery failed")
			continue
		}
		sent++
	}

	log.Info().
		Int64("event_id", eventID).
		Int("recipients", len(recipients)).
		Time("reveal_at", revealAt).
		Msg("location drop triggered")
	return sent, nil
}

// Reveal runs phase two against the recipient set captured at trigger
// time. An event that is no longer active cancels the reveal. Per-guest
// failures are logged and skipped; one bad number must not starve the
// rest.
func (b *Broadcaster) Reveal(ctx context.Context, args RevealArgs) error {
	ev, err := b.store.EventByID(ctx, args.EventID)
	if err != nil {
		return err
	}
	if ev.Status != store.EventActive {
		log.Info().Int64("event_id", args.EventID).Str("status", string(ev.Status)).
			Msg("event no longer active, reveal cancelled")
		return nil
	}

	text := revealMessage(ev, args)
	sent := 0
	for _, identity := range args.Recipients {
		if err := b.deliver(ctx, args.EventID, identity, text); err != nil {
			log.Error().Err(err).Str("to", identity).Msg("reveal delivery failed")
			continue
		}
		sent++
	}
	log.Info().Int64("event_id", args.EventID).Int("sent", sent).Msg("location revealed")
	return nil
}

func (b *Broadcaster) deliver(ctx context.Context, eventID int64, identity, text string) error {
	if err := b.sink.Send(ctx, identity, text); err != nil {
		return err
	}
	return b.store.AppendAudit(ctx, &store.AuditRecord{
		EventID:   &eventID,
		Identity:  identity,
		Direction: store.Outbound,
		Text:      text,
	})
}

func warningMessage(ev *store.Event, delay time.Duration) string {
	mins := int(delay.Round(time.Minute) / time.Minute)
	return fmt.Sprintf("%s is on. Location drops in %d minutes. Stay close to your phone.", ev.Name, mins)
}

func revealMessage(ev *store.Event, args RevealArgs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s", args.Address)
	if args.Window != "" {
		fmt.Fprintf(&b, "\nDoors: %s", args.Window)
	}
	if args.Notes != "" {
		fmt.Fprintf(&b, "\n%s", args.Notes)
	}
	fmt.Fprintf(&b, "\nSee you there.")
	return b.String()
}
