// Package router is the top-level dispatcher. Each inbound message is
// resolved against the active event, classified by the deterministic
// matchers, then routed to the creation flow, host commands, or the guest
// state machine. The router produces at most one reply per inbound message
// and never lets an internal error reach the wire.
package router

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/doorman/internal/broadcast"
	"github.com/doorman/internal/classifier"
	"github.com/doorman/internal/identity"
	"github.com/doorman/internal/intent"
	"github.com/doorman/internal/store"
	"github.com/doorman/internal/transport"
)

// Classifier is the LLM fallback surface the router consumes.
type Classifier interface {
	Enabled() bool
	Parse(ctx context.Context, text string, expect classifier.Expectation) (*classifier.ParseResult, error)
	AnswerGuest(ctx context.Context, text string, ev *store.Event, g *store.Guest) (classifier.Answer, error)
	AnswerHost(ctx context.Context, text string, ev *store.Event) (classifier.Answer, error)
	AnswerUnknown(ctx context.Context, text string) (classifier.Answer, error)
	RewriteHostAnswer(ctx context.Context, question, hostAnswer string) (string, error)
}

// Config carries router-level settings.
type Config struct {
	// Region is the default phone region for numbers without a country code.
	Region string
	// QuotaLimit is the plus-one allowance for newly invited guests.
	QuotaLimit int
	// HostIdentity, when set, is the only sender allowed to create an event
	// while none is active. Empty leaves bootstrap open.
	HostIdentity string
}

// Router dispatches inbound messages.
type Router struct {
	store        store.Store
	sink         transport.Sink
	classifier   Classifier
	broadcaster  *broadcast.Broadcaster
	region       string
	quotaLimit   int
	hostIdentity string
}

// New builds a Router.
func New(st store.Store, sink transport.Sink, cls Classifier, bc *broadcast.Broadcaster, cfg Config) *Router {
	region := cfg.Region
	if region == "" {
		region = "US"
	}
	limit := cfg.QuotaLimit
	if limit <= 0 {
		limit = 2
	}
	hostIdentity := ""
	if cfg.HostIdentity != "" {
		if normalized, err := identity.Normalize(cfg.HostIdentity, region); err == nil {
			hostIdentity = normalized
		} else {
			log.Warn().Str("host_identity", cfg.HostIdentity).Msg("configured host identity is unparseable, bootstrap left open")
		}
	}
	return &Router{
		store:        st,
		sink:         sink,
		classifier:   cls,
		broadcaster:  bc,
		region:       region,
		quotaLimit:   limit,
		hostIdentity: hostIdentity,
	}
}

// Handle processes one inbound message end to end: normalize, audit,
// dispatch, reply. It never returns a user-caused error; internal failures
// are logged and converted to the generic apology.
func (r *Router) Handle(ctx context.Context, msg transport.Inbound) {
	sender, err := identity.Normalize(msg.Identity, r.region)
	if err != nil {
		log.Warn().Str("identity", msg.Identity).Msg("unroutable sender identity")
		return
	}
	text := strings.TrimSpace(msg.Text)

	active, err := r.store.ActiveEvent(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Msg("active event lookup failed")
		return
	}
	var eventID *int64
	if active != nil {
		eventID = &active.ID
	}
	if err := r.store.AppendAudit(ctx, &store.AuditRecord{
		EventID:   eventID,
		Identity:  sender,
		Direction: store.Inbound,
		Text:      msg.Text,
	}); err != nil {
		log.Error().Err(err).Msg("inbound audit write failed")
	}

	reply, err := r.dispatch(ctx, active, sender, text, msg)
	if err != nil {
		log.Error().Err(err).Str("sender", sender).Msg("dispatch failed")
		reply = replyApology
	}
	if reply == "" {
		return
	}
	r.send(ctx, eventID, sender, reply)
}

// dispatch applies the precedence rules and returns the reply text.
func (r *Router) dispatch(ctx context.Context, active *store.Event, sender, text string, msg transport.Inbound) (string, error) {
	// An in-progress creation conversation wins over everything.
	creationState, err := r.store.ConversationState(ctx, store.CreationEventID, sender)
	if err == nil {
		return r.handleCreation(ctx, sender, creationState, text)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	if intent.CreateTrigger(text) && r.mayCreate(active, sender) {
		return r.startCreation(ctx, sender)
	}

	if active == nil {
		return r.rejectUnknown(ctx, sender, text), nil
	}

	if sender == active.HostIdentity {
		return r.handleHost(ctx, active, sender, text, msg)
	}

	guest, err := r.store.GuestByIdentity(ctx, active.ID, sender)
	if errors.Is(err, store.ErrNotFound) {
		return r.rejectUnknown(ctx, sender, text), nil
	}
	if err != nil {
		return "", err
	}
	if guest.Status == store.GuestExpired {
		return replyExpired, nil
	}

	// FAQ answers skip the state machine, but never when the message
	// carries a contact. A submitted phone number matches the plus-one
	// pattern and must reach the contact step instead.
	if msg.Attachment.Type == transport.AttachmentNone && identity.ExtractFromText(text, r.region) == "" {
		if category, ok := intent.FAQ(text); ok {
			return faqAnswer(string(category), active), nil
		}
	}

	return r.handleGuest(ctx, active, guest, text, msg)
}

// mayCreate decides who gets the event-creation trigger: the active host
// while an event runs, otherwise the configured bootstrap host (anyone,
// when none is configured).
func (r *Router) mayCreate(active *store.Event, sender string) bool {
	if active != nil {
		return active.HostIdentity == sender
	}
	return r.hostIdentity == "" || r.hostIdentity == sender
}

// rejectUnknown brushes off a sender who isn't on any list. The reply is
// sent straight through the sink and deliberately not recorded; unknown
// senders leave exactly one inbound audit record and nothing else.
func (r *Router) rejectUnknown(ctx context.Context, sender, text string) string {
	reply := replyUnknown
	if ans, err := r.classifier.AnswerUnknown(ctx, text); err == nil && ans.Text != "" {
		reply = ans.Text
	}
	if err := r.sink.Send(ctx, sender, reply); err != nil {
		log.Error().Err(err).Str("to", sender).Msg("send failed")
	}
	return ""
}

// send delivers and audits one outbound message. Delivery failures are
// logged, not retried; the sink owns its own retry policy.
func (r *Router) send(ctx context.Context, eventID *int64, to, text string) {
	if err := r.sink.Send(ctx, to, text); err != nil {
		log.Error().Err(err).Str("to", to).Msg("send failed")
		return
	}
	if err := r.store.AppendAudit(ctx, &store.AuditRecord{
		EventID:   eventID,
		Identity:  to,
		Direction: store.Outbound,
		Text:      text,
	}); err != nil {
		log.Error().Err(err).Msg("outbound audit write failed")
	}
}

// escalate hands a guest question to the host. The host's conversation
// state records who asked so the eventual answer can be relayed back.
func (r *Router) escalate(ctx context.Context, ev *store.Event, guest *store.Guest, question string) (string, error) {
	hostCtx := map[string]any{
		"guest_identity": guest.Identity,
		"question":       question,
	}
	if err := r.store.UpsertConversationState(ctx, ev.ID, ev.HostIdentity, store.StateAnsweringQuestion, hostCtx); err != nil {
		return "", err
	}
	r.send(ctx, &ev.ID, ev.HostIdentity, escalationNotice(guest, question))
	return replyEscalated, nil
}

// openQA answers a free-form question from a confirmed guest, escalating
// when the classifier can't or won't answer.
func (r *Router) openQA(ctx context.Context, ev *store.Event, guest *store.Guest, text string) (string, error) {
	ans, err := r.classifier.AnswerGuest(ctx, text, ev, guest)
	if err != nil {
		// Unavailable or timed out: fail closed to the host.
		return r.escalate(ctx, ev, guest, text)
	}
	if ans.Escalate {
		summary := ans.Summary
		if summary == "" {
			summary = text
		}
		return r.escalate(ctx, ev, guest, summary)
	}
	return ans.Text, nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
