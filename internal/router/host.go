package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doorman/internal/broadcast"
	"github.com/doorman/internal/identity"
	"github.com/doorman/internal/intent"
	"github.com/doorman/internal/store"
	"github.com/doorman/internal/transport"
)

// handleHost routes messages from the active event's host: pending relay
// or drop-detail conversations first, then the command set, then batch
// invites, then free chat.
func (r *Router) handleHost(ctx context.Context, ev *store.Event, sender, text string, msg transport.Inbound) (string, error) {
	cs, err := r.store.ConversationState(ctx, ev.ID, sender)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if cs != nil {
		switch cs.State {
		case store.StateAnsweringQuestion:
			return r.relayAnswer(ctx, ev, cs, text)
		case store.StateCollectingDrop:
			return r.collectDropDetails(ctx, ev, sender, text)
		}
	}

	if cmd, arg, ok := intent.MatchHostCommand(text); ok {
		switch cmd {
		case intent.CmdList:
			guests, err := r.store.Guests(ctx, ev.ID, "")
			if err != nil {
				return "", err
			}
			return guestListReply(guests), nil
		case intent.CmdStats:
			stats, err := r.store.EventStats(ctx, ev.ID)
			if err != nil {
				return "", err
			}
			return statsReply(stats), nil
		case intent.CmdSearch:
			guests, err := r.store.SearchGuests(ctx, ev.ID, arg)
			if err != nil {
				return "", err
			}
			if len(guests) == 0 {
				return fmt.Sprintf("Nobody matching %q.", arg), nil
			}
			return guestListReply(guests), nil
		case intent.CmdDrop:
			if ev.DropDone {
				return replyDropAlready, nil
			}
			if err := r.store.UpsertConversationState(ctx, ev.ID, sender, store.StateCollectingDrop, nil); err != nil {
				return "", err
			}
			return replyDropPrompt, nil
		}
	}

	if numbers := r.inviteesFrom(text, msg); len(numbers) > 0 {
		return r.batchInvite(ctx, ev, numbers)
	}

	if ans, err := r.classifier.AnswerHost(ctx, text, ev); err == nil && ans.Text != "" {
		return ans.Text, nil
	}
	return replyHostHelp, nil
}

// relayAnswer takes the host's reply to an escalated question, restates it
// in the doorman voice, and forwards it to the guest who asked.
func (r *Router) relayAnswer(ctx context.Context, ev *store.Event, cs *store.ConversationState, text string) (string, error) {
	guestIdentity, _ := cs.Context["guest_identity"].(string)
	question, _ := cs.Context["question"].(string)
	if err := r.store.UpsertConversationState(ctx, ev.ID, ev.HostIdentity, store.StateIdle, nil); err != nil {
		return "", err
	}
	if guestIdentity == "" {
		return replyHostHelp, nil
	}

	relayed := text
	if rewritten, err := r.classifier.RewriteHostAnswer(ctx, question, text); err == nil && rewritten != "" {
		relayed = rewritten
	}
	r.send(ctx, &ev.ID, guestIdentity, relayed)
	return replyRelayed, nil
}

// collectDropDetails parses "address | arrival window | notes" and fires
// the drop.
func (r *Router) collectDropDetails(ctx context.Context, ev *store.Event, sender, text string) (string, error) {
	if intent.CancelWord(text) {
		if err := r.store.UpsertConversationState(ctx, ev.ID, sender, store.StateIdle, nil); err != nil {
			return "", err
		}
		return replyDropCancelled, nil
	}

	parts := strings.SplitN(text, "|", 3)
	details := broadcast.Details{Address: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		details.Window = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		details.Notes = strings.TrimSpace(parts[2])
	}
	if details.Address == "" {
		return replyDropNeedsAddr, nil
	}

	if err := r.store.UpsertConversationState(ctx, ev.ID, sender, store.StateIdle, nil); err != nil {
		return "", err
	}
	sent, err := r.broadcaster.Trigger(ctx, ev.ID, details)
	if errors.Is(err, store.ErrAlreadyTriggered) {
		return replyDropAlready, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Done. Warned %d confirmed guests. Address follows shortly.", sent), nil
}

// inviteesFrom collects invite targets: a shared contact card plus every
// phone number found on its own line. Line order doesn't matter.
func (r *Router) inviteesFrom(text string, msg transport.Inbound) []contact {
	var out []contact
	seen := map[string]bool{}
	add := func(c contact) {
		if c.identity != "" && !seen[c.identity] {
			seen[c.identity] = true
			out = append(out, c)
		}
	}

	if msg.Attachment.Type == transport.AttachmentVCard {
		if card, err := identity.ParseVCardFile(msg.Attachment.Path, r.region); err == nil {
			add(contact{identity: card.Identity, name: card.Name})
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if phone := identity.ExtractFromText(line, r.region); phone != "" {
			add(contact{identity: phone})
		}
	}
	return out
}

// batchInvite issues host invites. Host invites are unmetered; only
// guest-issued plus-ones consume quota. Re-inviting an expired guest
// resets their record instead of bouncing off the uniqueness rule.
func (r *Router) batchInvite(ctx context.Context, ev *store.Event, invitees []contact) (string, error) {
	invited, already := 0, 0
	for _, c := range invitees {
		existing, err := r.store.GuestByIdentity(ctx, ev.ID, c.identity)
		switch {
		case err == nil && existing.Status == store.GuestExpired:
			existing.Status = store.GuestPending
			existing.InvitedAt = time.Now().UTC()
			existing.RespondedAt = nil
			if err := r.store.UpdateGuest(ctx, existing); err != nil {
				return "", err
			}
		case err == nil:
			already++
			continue
		case errors.Is(err, store.ErrNotFound):
			g := &store.Guest{
				EventID:    ev.ID,
				Identity:   c.identity,
				Status:     store.GuestPending,
				QuotaLimit: r.quotaLimit,
				InvitedAt:  time.Now().UTC(),
			}
			if c.name != "" {
				g.Name = &c.name
			}
			if err := r.store.CreateGuest(ctx, g); err != nil {
				return "", err
			}
		default:
			return "", err
		}

		if err := r.store.UpsertConversationState(ctx, ev.ID, c.identity, store.StateWaitingForResponse, nil); err != nil {
			return "", err
		}
		r.send(ctx, &ev.ID, c.identity, inviteMessage(ev, true))
		invited++
	}

	reply := fmt.Sprintf("Invited %d.", invited)
	if already > 0 {
		reply += fmt.Sprintf(" %d already on the list.", already)
	}
	return reply, nil
}
