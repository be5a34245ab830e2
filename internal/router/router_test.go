package router

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorman/internal/broadcast"
	"github.com/doorman/internal/classifier"
	"github.com/doorman/internal/store"
	"github.com/doorman/internal/transport"
)

const (
	hostID    = "+15550000001"
	guestA    = "+15550001000"
	guestB    = "+15550002000"
	guestC    = "+15550003000"
	inviteeID = "+15559999999"
)

type fakeClassifier struct {
	parse func(text string, expect classifier.Expectation) (*classifier.ParseResult, error)
	guest func(text string) (classifier.Answer, error)
}

func (f *fakeClassifier) Enabled() bool { return true }

func (f *fakeClassifier) Parse(_ context.Context, text string, expect classifier.Expectation) (*classifier.ParseResult, error) {
	if f.parse != nil {
		return f.parse(text, expect)
	}
	return &classifier.ParseResult{Intent: "unclear"}, nil
}

func (f *fakeClassifier) AnswerGuest(_ context.Context, text string, _ *store.Event, _ *store.Guest) (classifier.Answer, error) {
	if f.guest != nil {
		return f.guest(text)
	}
	return classifier.Answer{}, classifier.ErrUnavailable
}

func (f *fakeClassifier) AnswerHost(context.Context, string, *store.Event) (classifier.Answer, error) {
	return classifier.Answer{}, classifier.ErrUnavailable
}

func (f *fakeClassifier) AnswerUnknown(context.Context, string) (classifier.Answer, error) {
	return classifier.Answer{}, classifier.ErrUnavailable
}

func (f *fakeClassifier) RewriteHostAnswer(context.Context, string, string) (string, error) {
	return "", classifier.ErrUnavailable
}

type fakeScheduler struct {
	calls []broadcast.RevealArgs
}

func (f *fakeScheduler) ScheduleReveal(_ context.Context, args broadcast.RevealArgs, _ time.Time) error {
	f.calls = append(f.calls, args)
	return nil
}

type env struct {
	t     *testing.T
	store *store.Memory
	sink  *transport.RecorderSink
	sched *fakeScheduler
	rt    *Router
	ev    *store.Event
}

func newEnv(t *testing.T, cls Classifier, quotaLimit int, withEvent bool) *env {
	t.Helper()
	st := store.NewMemory()
	sink := transport.NewRecorderSink()
	sched := &fakeScheduler{}
	bc := broadcast.New(st, sink, sched, 30*time.Minute)
	if cls == nil {
		cls = &fakeClassifier{}
	}
	rt := New(st, sink, cls, bc, Config{Region: "US", QuotaLimit: quotaLimit})

	e := &env{t: t, store: st, sink: sink, sched: sched, rt: rt}
	if withEvent {
		e.ev = &store.Event{
			Name:         "Warehouse",
			Date:         "2026-09-12",
			TimeWindow:   "10pm till late",
			DropTime:     "8pm day-of",
			HostIdentity: hostID,
			Status:       store.EventActive,
		}
		require.NoError(t, st.CreateEvent(context.Background(), e.ev))
	}
	return e
}

// send pushes one inbound message and returns the reply recorded for the
// sender since the call started.
func (e *env) send(identity, text string) []string {
	e.t.Helper()
	before := len(e.sink.SentTo(identity))
	e.rt.Handle(context.Background(), transport.Inbound{Identity: identity, Text: text})
	return e.sink.SentTo(identity)[before:]
}

func (e *env) guest(identity string) *store.Guest {
	e.t.Helper()
	g, err := e.store.GuestByIdentity(context.Background(), e.ev.ID, identity)
	require.NoError(e.t, err)
	return g
}

func (e *env) state(identity string) *store.ConversationState {
	e.t.Helper()
	cs, err := e.store.ConversationState(context.Background(), e.ev.ID, identity)
	require.NoError(e.t, err)
	return cs
}

func TestFullOnboardingWithPlusOne(t *testing.T) {
	e := newEnv(t, nil, 1, true)

	replies := e.send(hostID, guestA)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Invited 1")
	assert.Contains(t, e.sink.SentTo(guestA)[0], "Warehouse")

	replies = e.send(guestA, "YES")
	require.Equal(t, []string{replyAskName}, replies)
	assert.Equal(t, store.GuestConfirmed, e.guest(guestA).Status)

	replies = e.send(guestA, "Alice")
	require.Equal(t, []string{replyAskHandle}, replies)
	require.NotNil(t, e.guest(guestA).Name)
	assert.Equal(t, "Alice", *e.guest(guestA).Name)

	replies = e.send(guestA, "skip")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "1 invite")

	replies = e.send(guestA, "YES")
	require.Equal(t, []string{replyAskContact}, replies)

	replies = e.send(guestA, inviteeID)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Invite sent")

	a := e.guest(guestA)
	assert.Equal(t, 1, a.QuotaUsed)
	assert.Equal(t, store.StateIdle, e.state(guestA).State)

	invitee := e.guest(inviteeID)
	assert.Equal(t, store.GuestPending, invitee.Status)
	require.NotNil(t, invitee.InvitedBy)
	assert.Equal(t, guestA, *invitee.InvitedBy)
	assert.Equal(t, store.StateWaitingForResponse, e.state(inviteeID).State)
	require.Len(t, e.sink.SentTo(inviteeID), 1)
	assert.Contains(t, e.sink.SentTo(inviteeID)[0], "You in?")
}

func TestContactCardMatchesTypedNumber(t *testing.T) {
	run := func(t *testing.T, submit func(e *env)) *store.Guest {
		e := newEnv(t, nil, 1, true)
		e.send(hostID, guestA)
		e.send(guestA, "YES")
		e.send(guestA, "Alice")
		e.send(guestA, "skip")
		e.send(guestA, "YES")
		submit(e)
		return e.guest(inviteeID)
	}

	typed := run(t, func(e *env) {
		replies := e.send(guestA, "+1 (555) 999-9999")
		require.Len(t, replies, 1)
	})

	card := run(t, func(e *env) {
		path := filepath.Join(t.TempDir(), "contact.vcf")
		content := "BEGIN:VCARD\nVERSION:3.0\nFN:Nina\nTEL;TYPE=CELL:+15559999999\nEND:VCARD\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		e.rt.Handle(context.Background(), transport.Inbound{
			Identity:   guestA,
			Text:       "here you go",
			Attachment: transport.Attachment{Type: transport.AttachmentVCard, Path: path},
		})
	})

	assert.Equal(t, typed.Identity, card.Identity)
	assert.Equal(t, typed.Status, card.Status)
	assert.Equal(t, *typed.InvitedBy, *card.InvitedBy)
}

func TestDeclineThenTerminalIdempotence(t *testing.T) {
	cls := &fakeClassifier{guest: func(string) (classifier.Answer, error) {
		return classifier.Answer{Text: "noted"}, nil
	}}
	e := newEnv(t, cls, 2, true)
	e.send(hostID, guestB)

	replies := e.send(guestB, "nah")
	require.Equal(t, []string{replyDeclined}, replies)
	assert.Equal(t, store.GuestDeclined, e.guest(guestB).Status)
	assert.Equal(t, store.StateIdle, e.state(guestB).State)

	// Same text again from a terminal state changes nothing.
	e.send(guestB, "nah")
	assert.Equal(t, store.GuestDeclined, e.guest(guestB).Status)
	assert.Equal(t, store.StateIdle, e.state(guestB).State)
}

func TestUnknownSenderLeavesOneAuditRecord(t *testing.T) {
	e := newEnv(t, nil, 2, true)

	stranger := "+15557770000"
	replies := e.send(stranger, "let me in")
	require.Equal(t, []string{replyUnknown}, replies)

	records := e.store.AuditRecords()
	require.Len(t, records, 1)
	assert.Equal(t, store.Inbound, records[0].Direction)
	assert.Equal(t, stranger, records[0].Identity)

	guests, err := e.store.Guests(context.Background(), e.ev.ID, "")
	require.NoError(t, err)
	assert.Empty(t, guests)
}

func TestFAQDoesNotTouchState(t *testing.T) {
	e := newEnv(t, nil, 2, true)
	e.send(hostID, guestA)

	replies := e.send(guestA, "where is it??")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "8pm day-of")

	assert.Equal(t, store.StateWaitingForResponse, e.state(guestA).State)
	assert.Equal(t, store.GuestPending, e.guest(guestA).Status)
}

func TestRepromptCapEscalatesToHost(t *testing.T) {
	e := newEnv(t, nil, 2, true)
	e.send(hostID, guestA)

	replies := e.send(guestA, "banana")
	require.Equal(t, []string{replyNudgeYesNo}, replies)
	replies = e.send(guestA, "banana")
	require.Equal(t, []string{replyNudgeYesNo}, replies)

	replies = e.send(guestA, "banana")
	require.Equal(t, []string{replyEscalated}, replies)

	hostState := e.state(hostID)
	assert.Equal(t, store.StateAnsweringQuestion, hostState.State)
	assert.Equal(t, guestA, hostState.Context["guest_identity"])
	require.NotEmpty(t, e.sink.SentTo(hostID))
	assert.Contains(t, e.sink.SentTo(hostID)[len(e.sink.SentTo(hostID))-1], "Question from")
}

func TestEscalationRelayRoundTrip(t *testing.T) {
	cls := &fakeClassifier{guest: func(text string) (classifier.Answer, error) {
		return classifier.Answer{Escalate: true, Summary: "asking about parking"}, nil
	}}
	e := newEnv(t, cls, 2, true)

	confirmed := &store.Guest{
		EventID:    e.ev.ID,
		Identity:   guestA,
		Status:     store.GuestConfirmed,
		QuotaLimit: 2,
	}
	require.NoError(t, e.store.CreateGuest(context.Background(), confirmed))
	require.NoError(t, e.store.UpsertConversationState(context.Background(), e.ev.ID, guestA, store.StateIdle, nil))

	replies := e.send(guestA, "is there parking nearby?")
	require.Equal(t, []string{replyEscalated}, replies)
	assert.Equal(t, store.StateAnsweringQuestion, e.state(hostID).State)

	// Host answers; the rewrite is unavailable so the text relays as-is.
	replies = e.send(hostID, "street parking after 9")
	require.Equal(t, []string{replyRelayed}, replies)
	sentToGuest := e.sink.SentTo(guestA)
	assert.Equal(t, "street parking after 9", sentToGuest[len(sentToGuest)-1])
	assert.Equal(t, store.StateIdle, e.state(hostID).State)
}

func TestDropLocationLifecycle(t *testing.T) {
	e := newEnv(t, nil, 2, true)
	for _, id := range []string{guestB, guestC} {
		require.NoError(t, e.store.CreateGuest(context.Background(), &store.Guest{
			EventID:    e.ev.ID,
			Identity:   id,
			Status:     store.GuestConfirmed,
			QuotaLimit: 2,
		}))
	}

	replies := e.send(hostID, "drop location")
	require.Equal(t, []string{replyDropPrompt}, replies)

	replies = e.send(hostID, "483 Meridian Ave | 10pm-midnight | ring twice")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Warned 2")

	require.Len(t, e.sched.calls, 1)
	assert.Equal(t, "483 Meridian Ave", e.sched.calls[0].Address)
	assert.ElementsMatch(t, []string{guestB, guestC}, e.sched.calls[0].Recipients)
	require.Len(t, e.sink.SentTo(guestB), 1)
	assert.Contains(t, e.sink.SentTo(guestB)[0], "drops in 30 minutes")

	// Second trigger is refused and schedules nothing new.
	replies = e.send(hostID, "drop location")
	require.Equal(t, []string{replyDropAlready}, replies)
	assert.Len(t, e.sched.calls, 1)
}

func TestHostCommands(t *testing.T) {
	e := newEnv(t, nil, 2, true)
	e.send(hostID, guestA+"\n"+guestB)

	replies := e.send(hostID, "list")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "2 on the list")

	replies = e.send(hostID, "stats")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Pending: 2")

	e.send(guestA, "YES")
	e.send(guestA, "Alice")
	replies = e.send(hostID, "search alice")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Alice")

	replies = e.send(hostID, "search zebra")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Nobody matching")
}

func TestHostReinviteWhilePending(t *testing.T) {
	e := newEnv(t, nil, 2, true)
	e.send(hostID, guestA)

	replies := e.send(hostID, guestA)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "already on the list")
}

func TestExpiredGuestIsBlockedAndReinvitable(t *testing.T) {
	e := newEnv(t, nil, 2, true)
	require.NoError(t, e.store.CreateGuest(context.Background(), &store.Guest{
		EventID:    e.ev.ID,
		Identity:   guestA,
		Status:     store.GuestExpired,
		QuotaLimit: 2,
	}))

	replies := e.send(guestA, "YES")
	require.Equal(t, []string{replyExpired}, replies)
	assert.Equal(t, store.GuestExpired, e.guest(guestA).Status)

	// The host can re-open the invite.
	replies = e.send(hostID, guestA)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Invited 1")
	assert.Equal(t, store.GuestPending, e.guest(guestA).Status)
	assert.Equal(t, store.StateWaitingForResponse, e.state(guestA).State)

	replies = e.send(guestA, "YES")
	require.Equal(t, []string{replyAskName}, replies)
}

func TestQuotaExhaustedRefusal(t *testing.T) {
	e := newEnv(t, nil, 1, true)
	require.NoError(t, e.store.CreateGuest(context.Background(), &store.Guest{
		EventID:    e.ev.ID,
		Identity:   guestA,
		Status:     store.GuestConfirmed,
		QuotaUsed:  1,
		QuotaLimit: 1,
	}))
	require.NoError(t, e.store.UpsertConversationState(context.Background(), e.ev.ID, guestA, store.StateWaitingForContact, nil))

	replies := e.send(guestA, inviteeID)
	require.Equal(t, []string{replyQuotaExhausted}, replies)
	assert.Equal(t, store.StateIdle, e.state(guestA).State)
	assert.Equal(t, 1, e.guest(guestA).QuotaUsed)
}

func TestCreationFlow(t *testing.T) {
	e := newEnv(t, nil, 2, false)

	replies := e.send(hostID, "create event")
	require.Equal(t, []string{replyAskEventName}, replies)

	replies = e.send(hostID, "Warehouse Party")
	require.Equal(t, []string{replyAskEventDate}, replies)

	replies = e.send(hostID, "not sure yet lol maybe idk")
	require.Equal(t, []string{replyBadDate}, replies)

	replies = e.send(hostID, "friday")
	require.Equal(t, []string{replyAskEventTime}, replies)

	replies = e.send(hostID, "10pm till late")
	require.Equal(t, []string{replyAskDropTime}, replies)

	replies = e.send(hostID, "8pm day-of")
	require.Equal(t, []string{replyAskRules}, replies)

	replies = e.send(hostID, "no phones on the floor")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "More rules")

	replies = e.send(hostID, "done")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Warehouse Party is live")

	ev, err := e.store.ActiveEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Warehouse Party", ev.Name)
	assert.Equal(t, hostID, ev.HostIdentity)
	assert.Equal(t, []string{"no phones on the floor"}, ev.Rules)
	assert.NotEmpty(t, ev.Date)

	_, err = e.store.ConversationState(context.Background(), store.CreationEventID, hostID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreationCancel(t *testing.T) {
	e := newEnv(t, nil, 2, false)
	e.send(hostID, "create event")
	replies := e.send(hostID, "cancel")
	require.Equal(t, []string{replyCreateCancelled}, replies)

	_, err := e.store.ActiveEvent(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// auditState maps an outbound prompt back to the conversation state the
// guest entered when it was sent.
func auditState(text string) (store.ConvState, bool) {
	switch {
	case strings.Contains(text, "You in? Yes or no"):
		return store.StateWaitingForResponse, true
	case text == replyAskName:
		return store.StateWaitingForName, true
	case text == replyAskHandle:
		return store.StateWaitingForHandle, true
	case strings.Contains(text, "Want to bring someone"):
		return store.StateWaitingForPlusOne, true
	case text == replyAskContact:
		return store.StateWaitingForContact, true
	case strings.Contains(text, "Invite sent"):
		return store.StateIdle, true
	}
	return "", false
}

func TestAuditLogReplaysLegalOnboardingPath(t *testing.T) {
	e := newEnv(t, nil, 1, true)

	e.send(hostID, guestA)
	e.send(guestA, "YES")
	e.send(guestA, "Alice")
	e.send(guestA, "skip")
	e.send(guestA, "YES")
	e.send(guestA, inviteeID)

	// Rebuild the guest's transition sequence from the audit log alone.
	var path []store.ConvState
	for _, rec := range e.store.AuditRecords() {
		if rec.Identity != guestA || rec.Direction != store.Outbound {
			continue
		}
		if state, ok := auditState(rec.Text); ok {
			path = append(path, state)
		}
	}
	require.Equal(t, []store.ConvState{
		store.StateWaitingForResponse,
		store.StateWaitingForName,
		store.StateWaitingForHandle,
		store.StateWaitingForPlusOne,
		store.StateWaitingForContact,
		store.StateIdle,
	}, path)

	// And that every step is an edge of the onboarding diagram.
	legal := map[store.ConvState][]store.ConvState{
		store.StateWaitingForResponse: {store.StateWaitingForName, store.StateIdle},
		store.StateWaitingForName:     {store.StateWaitingForHandle},
		store.StateWaitingForHandle:   {store.StateWaitingForPlusOne, store.StateIdle},
		store.StateWaitingForPlusOne:  {store.StateWaitingForContact, store.StateIdle},
		store.StateWaitingForContact:  {store.StateIdle},
	}
	for i := 1; i < len(path); i++ {
		assert.Contains(t, legal[path[i-1]], path[i], "transition %s -> %s", path[i-1], path[i])
	}

	// The reconstructed endpoint matches the stored state.
	assert.Equal(t, store.StateIdle, e.state(guestA).State)
}

func TestCreationRestrictedToConfiguredHost(t *testing.T) {
	e := newEnv(t, nil, 2, false)
	e.rt.hostIdentity = hostID

	// A stranger texting the trigger gets brushed off, nothing created.
	replies := e.send(guestA, "create event")
	require.Len(t, replies, 1)
	assert.NotEqual(t, replyAskEventName, replies[0])
	_, err := e.store.ActiveEvent(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)

	replies = e.send(hostID, "create event")
	require.Equal(t, []string{replyAskEventName}, replies)
}

func TestClassifierParseRescuesSloppyYes(t *testing.T) {
	cls := &fakeClassifier{parse: func(text string, expect classifier.Expectation) (*classifier.ParseResult, error) {
		if expect == classifier.ExpectYesNo && strings.Contains(text, "why not") {
			return &classifier.ParseResult{Intent: "yes"}, nil
		}
		return &classifier.ParseResult{Intent: "unclear"}, nil
	}}
	e := newEnv(t, cls, 2, true)
	e.send(hostID, guestA)

	replies := e.send(guestA, "lol why not")
	require.Equal(t, []string{replyAskName}, replies)
	assert.Equal(t, store.GuestConfirmed, e.guest(guestA).Status)
}
