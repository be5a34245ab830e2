package router

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/doorman/internal/intent"
	"github.com/doorman/internal/store"
)

const maxEventNameLen = 80

// startCreation opens the host event-creation conversation under the
// sentinel key. The sentinel is reused across events, which is why
// completion deletes the row instead of transitioning it.
func (r *Router) startCreation(ctx context.Context, sender string) (string, error) {
	if err := r.store.UpsertConversationState(ctx, store.CreationEventID, sender, store.StateCreatingName, nil); err != nil {
		return "", err
	}
	return replyAskEventName, nil
}

// handleCreation advances the creation flow by one answer. Any cancel word
// abandons the draft.
func (r *Router) handleCreation(ctx context.Context, sender string, cs *store.ConversationState, text string) (string, error) {
	if intent.CancelWord(text) {
		if err := r.store.DeleteConversationState(ctx, store.CreationEventID, sender); err != nil {
			return "", err
		}
		return replyCreateCancelled, nil
	}
	if cs.Context == nil {
		cs.Context = map[string]any{}
	}

	switch cs.State {
	case store.StateCreatingName:
		name := strings.TrimSpace(text)
		if name == "" {
			return replyAskEventName, nil
		}
		if runes := []rune(name); len(runes) > maxEventNameLen {
			name = string(runes[:maxEventNameLen])
		}
		cs.Context["name"] = name
		return r.advanceCreation(ctx, sender, cs, store.StateCreatingDate, replyAskEventDate)

	case store.StateCreatingDate:
		date, ok := parseEventDate(text, time.Now())
		if !ok {
			return replyBadDate, nil
		}
		cs.Context["date"] = date.Format("2006-01-02")
		return r.advanceCreation(ctx, sender, cs, store.StateCreatingTime, replyAskEventTime)

	case store.StateCreatingTime:
		window := strings.TrimSpace(text)
		if window == "" {
			return replyAskEventTime, nil
		}
		cs.Context["time_window"] = window
		return r.advanceCreation(ctx, sender, cs, store.StateCreatingDropTime, replyAskDropTime)

	case store.StateCreatingDropTime:
		dropTime := strings.TrimSpace(text)
		if dropTime == "" {
			return replyAskDropTime, nil
		}
		cs.Context["drop_time"] = dropTime
		return r.advanceCreation(ctx, sender, cs, store.StateCreatingRules, replyAskRules)

	case store.StateCreatingRules:
		if intent.RulesDone(text) {
			return r.completeCreation(ctx, sender, cs)
		}
		rules := rulesFromContext(cs.Context)
		rules = append(rules, strings.TrimSpace(text))
		cs.Context["rules"] = rules
		if err := r.store.UpsertConversationState(ctx, store.CreationEventID, sender, cs.State, cs.Context); err != nil {
			return "", err
		}
		return "Got it. More rules, or done.", nil
	}

	// Unknown creation state: abandon rather than trap the host.
	if err := r.store.DeleteConversationState(ctx, store.CreationEventID, sender); err != nil {
		return "", err
	}
	return replyCreateCancelled, nil
}

func (r *Router) advanceCreation(ctx context.Context, sender string, cs *store.ConversationState, next store.ConvState, prompt string) (string, error) {
	if err := r.store.UpsertConversationState(ctx, store.CreationEventID, sender, next, cs.Context); err != nil {
		return "", err
	}
	return prompt, nil
}

// completeCreation turns the collected answers into the active event. A
// previous active event owned by the same host is completed first; the
// one-active invariant belongs to the store.
func (r *Router) completeCreation(ctx context.Context, sender string, cs *store.ConversationState) (string, error) {
	if prev, err := r.store.ActiveEvent(ctx); err == nil && prev.HostIdentity == sender {
		if err := r.store.UpdateEventStatus(ctx, prev.ID, store.EventCompleted); err != nil {
			return "", err
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	name, _ := cs.Context["name"].(string)
	date, _ := cs.Context["date"].(string)
	window, _ := cs.Context["time_window"].(string)
	dropTime, _ := cs.Context["drop_time"].(string)
	ev := &store.Event{
		Name:         name,
		Date:         date,
		TimeWindow:   window,
		DropTime:     dropTime,
		Rules:        rulesFromContext(cs.Context),
		HostIdentity: sender,
		Status:       store.EventActive,
	}
	if err := r.store.CreateEvent(ctx, ev); err != nil {
		if errors.Is(err, store.ErrEventActive) {
			if derr := r.store.DeleteConversationState(ctx, store.CreationEventID, sender); derr != nil {
				return "", derr
			}
			return "There's already a live event. Wrap that one up first.", nil
		}
		return "", err
	}
	if err := r.store.DeleteConversationState(ctx, store.CreationEventID, sender); err != nil {
		return "", err
	}
	return eventCreatedReply(ev), nil
}

// rulesFromContext tolerates both in-process ([]string) and
// JSON-round-tripped ([]any) representations.
func rulesFromContext(c map[string]any) []string {
	switch v := c["rules"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// parseEventDate reads casual date text: relative words, weekday names,
// then anything dateparse can handle. Ambiguous month-day input without a
// year resolves to the next future occurrence.
func parseEventDate(text string, now time.Time) (time.Time, bool) {
	lowered := strings.ToLower(strings.TrimSpace(text))
	lowered = strings.TrimPrefix(lowered, "this ")
	next := strings.HasPrefix(lowered, "next ")
	lowered = strings.TrimPrefix(lowered, "next ")

	switch lowered {
	case "today", "tonight":
		return now, true
	case "tomorrow", "tmrw", "tmr":
		return now.AddDate(0, 0, 1), true
	case "weekend":
		lowered = "saturday"
	}

	if wd, ok := weekdays[lowered]; ok {
		days := (int(wd) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		// "next friday" skips this week's friday; "next monday" said on a
		// monday already points a week out.
		if next && days < 7 {
			days += 7
		}
		return now.AddDate(0, 0, days), true
	}

	// Ordinals like "the 20th" mean this month, or next month if past.
	if m := ordinalDay.FindStringSubmatch(lowered); m != nil {
		day, _ := strconv.Atoi(m[1])
		if day >= 1 && day <= 31 {
			d := time.Date(now.Year(), now.Month(), day, 0, 0, 0, 0, now.Location())
			if d.Day() != day {
				return time.Time{}, false
			}
			if d.Before(now.AddDate(0, 0, -1)) {
				d = d.AddDate(0, 1, 0)
			}
			return d, true
		}
		return time.Time{}, false
	}

	parsed, err := dateparse.ParseAny(text)
	if err != nil {
		return time.Time{}, false
	}
	// Year-less dates parse into the current year; a date already behind
	// us means they meant next year. An explicitly past date is rejected.
	if parsed.Before(now.AddDate(0, 0, -1)) {
		parsed = parsed.AddDate(1, 0, 0)
		if parsed.Before(now.AddDate(0, 0, -1)) {
			return time.Time{}, false
		}
	}
	return parsed, true
}

var ordinalDay = regexp.MustCompile(`^(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)$`)
