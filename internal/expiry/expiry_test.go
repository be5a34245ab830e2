package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorman/internal/store"
	"github.com/doorman/internal/transport"
)

func setup(t *testing.T) (*store.Memory, *transport.RecorderSink, *Sweeper, *store.Event) {
	t.Helper()
	st := store.NewMemory()
	sink := transport.NewRecorderSink()
	sw := NewSweeper(st, sink, Config{
		PendingWindow: 48 * time.Hour,
		WarnAfter:     24 * time.Hour,
		QuotaWindow:   72 * time.Hour,
	})
	ev := &store.Event{
		Name:         "Warehouse",
		HostIdentity: "+15550000001",
		Status:       store.EventActive,
	}
	require.NoError(t, st.CreateEvent(context.Background(), ev))
	return st, sink, sw, ev
}

func addPending(t *testing.T, st *store.Memory, eventID int64, identity string, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateGuest(ctx, &store.Guest{
		EventID:    eventID,
		Identity:   identity,
		Status:     store.GuestPending,
		QuotaLimit: 2,
		InvitedAt:  time.Now().UTC().Add(-age),
	}))
	require.NoError(t, st.UpsertConversationState(ctx, eventID, identity, store.StateWaitingForResponse, nil))
}

func TestSweepExpiresStalePendingInvites(t *testing.T) {
	st, sink, sw, ev := setup(t)
	ctx := context.Background()

	addPending(t, st, ev.ID, "+15550001000", 49*time.Hour)
	addPending(t, st, ev.ID, "+15550002000", 1*time.Hour)

	require.NoError(t, sw.Sweep(ctx, time.Now().UTC()))

	stale, err := st.GuestByIdentity(ctx, ev.ID, "+15550001000")
	require.NoError(t, err)
	assert.Equal(t, store.GuestExpired, stale.Status)
	cs, err := st.ConversationState(ctx, ev.ID, "+15550001000")
	require.NoError(t, err)
	assert.Equal(t, store.StateIdle, cs.State)
	require.Len(t, sink.SentTo("+15550001000"), 1)
	assert.Contains(t, sink.SentTo("+15550001000")[0], "expired")

	fresh, err := st.GuestByIdentity(ctx, ev.ID, "+15550002000")
	require.NoError(t, err)
	assert.Equal(t, store.GuestPending, fresh.Status)
	assert.Empty(t, sink.SentTo("+15550002000"))
}

func TestSweepWarnsOnlyOnce(t *testing.T) {
	st, sink, sw, ev := setup(t)
	ctx := context.Background()

	addPending(t, st, ev.ID, "+15550001000", 25*time.Hour)

	require.NoError(t, sw.Sweep(ctx, time.Now().UTC()))
	require.NoError(t, sw.Sweep(ctx, time.Now().UTC()))

	msgs := sink.SentTo("+15550001000")
	require.Len(t, msgs, 1, "the nudge goes out once")
	assert.Contains(t, msgs[0], "Still waiting")

	g, err := st.GuestByIdentity(ctx, ev.ID, "+15550001000")
	require.NoError(t, err)
	assert.Equal(t, store.GuestPending, g.Status, "warning does not expire the invite")
}

func TestSweepRevokesIdleQuota(t *testing.T) {
	st, sink, sw, ev := setup(t)
	ctx := context.Background()

	responded := time.Now().UTC().Add(-80 * time.Hour)
	require.NoError(t, st.CreateGuest(ctx, &store.Guest{
		EventID:     ev.ID,
		Identity:    "+15550001000",
		Status:      store.GuestConfirmed,
		QuotaLimit:  2,
		RespondedAt: &responded,
	}))
	require.NoError(t, st.UpsertConversationState(ctx, ev.ID, "+15550001000", store.StateIdle, nil))

	require.NoError(t, sw.Sweep(ctx, time.Now().UTC()))

	g, err := st.GuestByIdentity(ctx, ev.ID, "+15550001000")
	require.NoError(t, err)
	assert.Equal(t, g.QuotaLimit, g.QuotaUsed)
	require.Len(t, sink.SentTo("+15550001000"), 1)
	assert.Contains(t, sink.SentTo("+15550001000")[0], "+1 window")
}

func TestSweepSparesOnboardingGuests(t *testing.T) {
	st, sink, sw, ev := setup(t)
	ctx := context.Background()

	responded := time.Now().UTC().Add(-80 * time.Hour)
	require.NoError(t, st.CreateGuest(ctx, &store.Guest{
		EventID:     ev.ID,
		Identity:    "+15550001000",
		Status:      store.GuestConfirmed,
		QuotaLimit:  2,
		RespondedAt: &responded,
	}))
	require.NoError(t, st.UpsertConversationState(ctx, ev.ID, "+15550001000", store.StateWaitingForPlusOne, nil))

	require.NoError(t, sw.Sweep(ctx, time.Now().UTC()))

	g, err := st.GuestByIdentity(ctx, ev.ID, "+15550001000")
	require.NoError(t, err)
	assert.Equal(t, 0, g.QuotaUsed, "mid-conversation quota stays untouched")
	assert.Empty(t, sink.Sent())
}

func TestSweepNoActiveEventIsNoop(t *testing.T) {
	st := store.NewMemory()
	sink := transport.NewRecorderSink()
	sw := NewSweeper(st, sink, Config{})
	require.NoError(t, sw.Sweep(context.Background(), time.Now().UTC()))
	assert.Empty(t, sink.Sent())
}
