package router

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doorman/internal/classifier"
	"github.com/doorman/internal/identity"
	"github.com/doorman/internal/intent"
	"github.com/doorman/internal/store"
	"github.com/doorman/internal/transport"
)

// maxReprompts bounds consecutive unparseable inputs in one state before
// the conversation is handed to the host.
const maxReprompts = 3

const retryKey = "retry_count"

// handleGuest advances the guest conversation state machine by one input.
func (r *Router) handleGuest(ctx context.Context, ev *store.Event, g *store.Guest, text string, msg transport.Inbound) (string, error) {
	cs, err := r.store.ConversationState(ctx, ev.ID, g.Identity)
	if errors.Is(err, store.ErrNotFound) {
		cs = &store.ConversationState{
			EventID:  ev.ID,
			Identity: g.Identity,
			State:    store.StateIdle,
			Context:  map[string]any{},
		}
	} else if err != nil {
		return "", err
	}
	if cs.Context == nil {
		cs.Context = map[string]any{}
	}

	switch cs.State {
	case store.StateWaitingForResponse:
		return r.onInviteResponse(ctx, ev, g, cs, text)
	case store.StateWaitingForName:
		return r.onName(ctx, ev, g, cs, text)
	case store.StateWaitingForHandle:
		return r.onHandle(ctx, ev, g, cs, text)
	case store.StateWaitingForPlusOne:
		return r.onPlusOne(ctx, ev, g, cs, text, msg)
	case store.StateWaitingForContact:
		return r.onContact(ctx, ev, g, cs, text, msg)
	default:
		// A contact sent from idle is an implicit plus-one submission,
		// as long as the sender is confirmed and has quota left.
		if g.Status == store.GuestConfirmed && g.QuotaUsed < g.QuotaLimit {
			if c := r.contactFrom(text, msg); c.identity != "" {
				return r.submitContact(ctx, ev, g, c)
			}
		}
		// Idle (and any state this build no longer knows) is open Q&A.
		return r.openQA(ctx, ev, g, text)
	}
}

func (r *Router) onInviteResponse(ctx context.Context, ev *store.Event, g *store.Guest, cs *store.ConversationState, text string) (string, error) {
	switch {
	case intent.Affirmative(text):
		return r.confirmGuest(ctx, ev, g)
	case intent.Negative(text):
		return r.declineGuest(ctx, ev, g)
	}

	parsed, err := r.classifier.Parse(ctx, text, classifier.ExpectYesNo)
	if err == nil {
		switch parsed.Intent {
		case "yes":
			return r.confirmGuest(ctx, ev, g)
		case "no":
			return r.declineGuest(ctx, ev, g)
		}
	}
	return r.reprompt(ctx, ev, g, cs, text, replyNudgeYesNo)
}

func (r *Router) confirmGuest(ctx context.Context, ev *store.Event, g *store.Guest) (string, error) {
	now := time.Now().UTC()
	g.Status = store.GuestConfirmed
	g.RespondedAt = &now
	if err := r.store.UpdateGuest(ctx, g); err != nil {
		return "", err
	}
	if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateWaitingForName, nil); err != nil {
		return "", err
	}
	return replyAskName, nil
}

func (r *Router) declineGuest(ctx context.Context, ev *store.Event, g *store.Guest) (string, error) {
	now := time.Now().UTC()
	g.Status = store.GuestDeclined
	g.RespondedAt = &now
	if err := r.store.UpdateGuest(ctx, g); err != nil {
		return "", err
	}
	if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateIdle, nil); err != nil {
		return "", err
	}
	return replyDeclined, nil
}

func (r *Router) onName(ctx context.Context, ev *store.Event, g *store.Guest, cs *store.ConversationState, text string) (string, error) {
	name := intent.ExtractName(text)
	if name == "" {
		if parsed, err := r.classifier.Parse(ctx, text, classifier.ExpectName); err == nil && parsed.Name != "" {
			name = parsed.Name
		}
	}
	if name == "" {
		return r.reprompt(ctx, ev, g, cs, text, replyNudgeName)
	}

	g.Name = &name
	if err := r.store.UpdateGuest(ctx, g); err != nil {
		return "", err
	}
	if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateWaitingForHandle, nil); err != nil {
		return "", err
	}
	return replyAskHandle, nil
}

func (r *Router) onHandle(ctx context.Context, ev *store.Event, g *store.Guest, cs *store.ConversationState, text string) (string, error) {
	skip := intent.HandleSkip(text)
	handle := ""
	if !skip {
		handle = intent.ExtractHandle(text)
		if handle == "" {
			parsed, err := r.classifier.Parse(ctx, text, classifier.ExpectHandle)
			if err == nil {
				skip = parsed.Skip
				handle = parsed.Handle
			}
		}
	}
	if !skip && handle == "" {
		return r.reprompt(ctx, ev, g, cs, text, replyNudgeHandle)
	}

	if handle != "" {
		g.Handle = &handle
		if err := r.store.UpdateGuest(ctx, g); err != nil {
			return "", err
		}
	}

	left := g.QuotaLimit - g.QuotaUsed
	if left <= 0 {
		if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateIdle, nil); err != nil {
			return "", err
		}
		return allSet(ev), nil
	}
	if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateWaitingForPlusOne, nil); err != nil {
		return "", err
	}
	return askPlusOne(left), nil
}

func (r *Router) onPlusOne(ctx context.Context, ev *store.Event, g *store.Guest, cs *store.ConversationState, text string, msg transport.Inbound) (string, error) {
	// A contact sent straight away skips the yes step.
	if contact := r.contactFrom(text, msg); contact.identity != "" {
		return r.submitContact(ctx, ev, g, contact)
	}

	switch {
	case intent.Affirmative(text):
		return r.askForContact(ctx, ev, g)
	case intent.Negative(text):
		if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateIdle, nil); err != nil {
			return "", err
		}
		return allSet(ev), nil
	}

	parsed, err := r.classifier.Parse(ctx, text, classifier.ExpectPlusOneOrContact)
	if err == nil {
		switch parsed.Intent {
		case "yes":
			return r.askForContact(ctx, ev, g)
		case "no":
			if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateIdle, nil); err != nil {
				return "", err
			}
			return allSet(ev), nil
		case "contact":
			if normalized, nerr := identity.Normalize(parsed.Phone, r.region); nerr == nil {
				return r.submitContact(ctx, ev, g, contact{identity: normalized})
			}
		}
	}
	return r.reprompt(ctx, ev, g, cs, text, replyNudgeYesNo)
}

func (r *Router) askForContact(ctx context.Context, ev *store.Event, g *store.Guest) (string, error) {
	if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateWaitingForContact, nil); err != nil {
		return "", err
	}
	return replyAskContact, nil
}

func (r *Router) onContact(ctx context.Context, ev *store.Event, g *store.Guest, cs *store.ConversationState, text string, msg transport.Inbound) (string, error) {
	c := r.contactFrom(text, msg)
	if c.identity == "" {
		return r.reprompt(ctx, ev, g, cs, text, replyNoContact)
	}
	return r.submitContact(ctx, ev, g, c)
}

// contact is a resolved invitee: canonical identity plus an optional name
// from a contact card.
type contact struct {
	identity string
	name     string
}

// contactFrom resolves a phone number from a vCard attachment or free
// text. Both paths end at the same canonical identity.
func (r *Router) contactFrom(text string, msg transport.Inbound) contact {
	if msg.Attachment.Type == transport.AttachmentVCard {
		card, err := identity.ParseVCardFile(msg.Attachment.Path, r.region)
		if err != nil {
			log.Warn().Err(err).Str("path", msg.Attachment.Path).Msg("unreadable contact card")
		} else if card.Identity != "" {
			return contact{identity: card.Identity, name: card.Name}
		}
	}
	if phone := identity.ExtractFromText(text, r.region); phone != "" {
		return contact{identity: phone}
	}
	return contact{}
}

// submitContact spends one unit of quota and issues the nested invite.
// The quota check, the increment, and the invitee row are one store
// transaction; everything after is best effort messaging.
func (r *Router) submitContact(ctx context.Context, ev *store.Event, g *store.Guest, c contact) (string, error) {
	invitee, err := r.store.ConsumeQuota(ctx, ev.ID, g.Identity, c.identity)
	switch {
	case errors.Is(err, store.ErrQuotaExhausted):
		if uerr := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateIdle, nil); uerr != nil {
			return "", uerr
		}
		return replyQuotaExhausted, nil
	case errors.Is(err, store.ErrAlreadyInvited):
		if uerr := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateIdle, nil); uerr != nil {
			return "", uerr
		}
		return replyAlreadyOnList, nil
	case err != nil:
		return "", err
	}

	if c.name != "" {
		invitee.Name = &c.name
		if err := r.store.UpdateGuest(ctx, invitee); err != nil {
			log.Warn().Err(err).Msg("storing invitee card name failed")
		}
	}
	if err := r.store.UpsertConversationState(ctx, ev.ID, invitee.Identity, store.StateWaitingForResponse, nil); err != nil {
		return "", err
	}
	r.send(ctx, &ev.ID, invitee.Identity, inviteMessage(ev, false))

	if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, store.StateIdle, nil); err != nil {
		return "", err
	}
	left := g.QuotaLimit - g.QuotaUsed - 1
	return inviteSentReply(identity.Mask(invitee.Identity), left), nil
}

// reprompt re-asks the current question, counting consecutive misses in
// conversation context. The cap hands the guest to the host instead of
// looping forever.
func (r *Router) reprompt(ctx context.Context, ev *store.Event, g *store.Guest, cs *store.ConversationState, text, nudge string) (string, error) {
	count := asInt(cs.Context[retryKey]) + 1
	if count >= maxReprompts {
		cs.Context[retryKey] = 0
		if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, cs.State, cs.Context); err != nil {
			return "", err
		}
		return r.escalate(ctx, ev, g, text)
	}
	cs.Context[retryKey] = count
	if err := r.store.UpsertConversationState(ctx, ev.ID, g.Identity, cs.State, cs.Context); err != nil {
		return "", err
	}
	return nudge, nil
}
