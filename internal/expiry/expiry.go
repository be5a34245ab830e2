// Package expiry ages out invites nobody answered. A periodic sweep warns
// pending guests near the deadline, expires them past it, and revokes
// unused plus-one quota from confirmed guests who sat on it.
package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doorman/internal/store"
	"github.com/doorman/internal/transport"
)

const warnedKey = "expiry_warned"

// Config sets the sweep windows.
type Config struct {
	// PendingWindow is how long an invite may sit unanswered.
	PendingWindow time.Duration
	// WarnAfter is when the reminder goes out. Must be < PendingWindow.
	WarnAfter time.Duration
	// QuotaWindow is how long a confirmed guest keeps unused quota.
	QuotaWindow time.Duration
}

// Sweeper applies the expiration rules for the active event.
type Sweeper struct {
	store store.Store
	sink  transport.Sink
	cfg   Config
}

// NewSweeper builds a sweeper; zero config fields get sensible defaults.
func NewSweeper(st store.Store, sink transport.Sink, cfg Config) *Sweeper {
	if cfg.PendingWindow <= 0 {
		cfg.PendingWindow = 48 * time.Hour
	}
	if cfg.WarnAfter <= 0 || cfg.WarnAfter >= cfg.PendingWindow {
		cfg.WarnAfter = cfg.PendingWindow / 2
	}
	if cfg.QuotaWindow <= 0 {
		cfg.QuotaWindow = 72 * time.Hour
	}
	return &Sweeper{store: st, sink: sink, cfg: cfg}
}

// Sweep runs one pass over the active event. No active event is a no-op.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	ev, err := s.store.ActiveEvent(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.sweepPending(ctx, ev, now); err != nil {
		return err
	}
	return s.sweepQuota(ctx, ev, now)
}

func (s *Sweeper) sweepPending(ctx context.Context, ev *store.Event, now time.Time) error {
	pending, err := s.store.Guests(ctx, ev.ID, store.GuestPending)
	if err != nil {
		return err
	}
	for _, g := range pending {
		age := now.Sub(g.InvitedAt)
		switch {
		case age >= s.cfg.PendingWindow:
			if err := s.expire(ctx, ev, g); err != nil {
				log.Error().Err(err).Str("guest", g.Identity).Msg("expire failed")
			}
		case age >= s.cfg.WarnAfter:
			if err := s.warn(ctx, ev, g); err != nil {
				log.Error().Err(err).Str("guest", g.Identity).Msg("expiry warning failed")
			}
		}
	}
	return nil
}

func (s *Sweeper) expire(ctx context.Context, ev *store.Event, g store.Guest) error {
	g.Status = store.GuestExpired
	if err := s.store.UpdateGuest(ctx, &g); err != nil {
		return err
	}
	if err := s.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateIdle, nil); err != nil {
		return err
	}
	text := "Window's closed. The invite to " + ev.Name + " has expired."
	if err := s.deliver(ctx, ev.ID, g.Identity, text); err != nil {
		return err
	}
	log.Info().Str("guest", g.Identity).Int64("event_id", ev.ID).Msg("invite expired")
	return nil
}

// warn nudges once. The flag lives in conversation context so a restart
// does not re-send it.
func (s *Sweeper) warn(ctx context.Context, ev *store.Event, g store.Guest) error {
	cs, err := s.store.ConversationState(ctx, ev.ID, g.Identity)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	state := store.StateWaitingForResponse
	stateCtx := map[string]any{}
	if cs != nil {
		state = cs.State
		if cs.Context != nil {
			stateCtx = cs.Context
		}
	}
	if warned, _ := stateCtx[warnedKey].(bool); warned {
		return nil
	}
	stateCtx[warnedKey] = true
	if err := s.store.UpsertConversationState(ctx, ev.ID, g.Identity, state, stateCtx); err != nil {
		return err
	}
	return s.deliver(ctx, ev.ID, g.Identity,
		"Still waiting on you for "+ev.Name+". The list closes soon, yes or no?")
}

// sweepQuota zeroes out unused plus-ones for confirmed guests past the
// window. Guests still mid-onboarding keep theirs.
func (s *Sweeper) sweepQuota(ctx context.Context, ev *store.Event, now time.Time) error {
	confirmed, err := s.store.Guests(ctx, ev.ID, store.GuestConfirmed)
	if err != nil {
		return err
	}
	for _, g := range confirmed {
		if g.QuotaUsed >= g.QuotaLimit {
			continue
		}
		if g.RespondedAt == nil || now.Sub(*g.RespondedAt) < s.cfg.QuotaWindow {
			continue
		}
		if s.onboarding(ctx, ev.ID, g.Identity) {
			continue
		}
		g.QuotaUsed = g.QuotaLimit
		if err := s.store.UpdateGuest(ctx, &g); err != nil {
			log.Error().Err(err).Str("guest", g.Identity).Msg("quota revoke failed")
			continue
		}
		if err := s.deliver(ctx, ev.ID, g.Identity,
			"Your +1 window for "+ev.Name+" just closed."); err != nil {
			log.Error().Err(err).Str("guest", g.Identity).Msg("quota notice failed")
		}
	}
	return nil
}

func (s *Sweeper) onboarding(ctx context.Context, eventID int64, identity string) bool {
	cs, err := s.store.ConversationState(ctx, eventID, identity)
	if err != nil {
		return false
	}
	switch cs.State {
	case store.StateWaitingForName, store.StateWaitingForHandle,
		store.StateWaitingForPlusOne, store.StateWaitingForContact:
		return true
	}
	return false
}

func (s *Sweeper) deliver(ctx context.Context, eventID int64, identity, text string) error {
	if err := s.sink.Send(ctx, identity, text); err != nil {
		return err
	}
	return s.store.AppendAudit(ctx, &store.AuditRecord{
		EventID:   &eventID,
		Identity:  identity,
		Direction: store.Outbound,
		Text:      text,
	})
}
