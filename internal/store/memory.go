package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and local development. A
// single mutex stands in for the database's transaction boundaries, which
// preserves the same serialization guarantees ConsumeQuota relies on.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]*Event
	guests map[int64]*Guest
	states map[string]*ConversationState // key event_id|identity
	audit  []AuditRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		events: map[int64]*Event{},
		guests: map[int64]*Guest{},
		states: map[string]*ConversationState{},
	}
}

func stateKey(eventID int64, identity string) string {
	return strconv.FormatInt(eventID, 10) + "|" + identity
}

func copyEvent(ev *Event) *Event {
	out := *ev
	out.Rules = append([]string(nil), ev.Rules...)
	return &out
}

func copyGuest(g *Guest) *Guest {
	out := *g
	if g.Name != nil {
		v := *g.Name
		out.Name = &v
	}
	if g.Handle != nil {
		v := *g.Handle
		out.Handle = &v
	}
	if g.InvitedBy != nil {
		v := *g.InvitedBy
		out.InvitedBy = &v
	}
	if g.RespondedAt != nil {
		v := *g.RespondedAt
		out.RespondedAt = &v
	}
	return &out
}

func (s *Memory) CreateEvent(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Status == EventActive {
		for _, existing := range s.events {
			if existing.Status == EventActive {
				return ErrEventActive
			}
		}
	}
	ev.ID = s.nextID
	s.nextID++
	now := time.Now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	s.events[ev.ID] = copyEvent(ev)
	return nil
}

func (s *Memory) EventByID(_ context.Context, id int64) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEvent(ev), nil
}

func (s *Memory) ActiveEvent(_ context.Context) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Status == EventActive {
			return copyEvent(ev), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) UpdateEventStatus(_ context.Context, id int64, status EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	ev.Status = status
	ev.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) MarkDropTriggered(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	if ev.DropDone {
		return ErrAlreadyTriggered
	}
	ev.DropDone = true
	ev.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) ClearDropTriggered(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	ev.DropDone = false
	ev.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) EventStats(_ context.Context, eventID int64) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats Stats
	for _, g := range s.guests {
		if g.EventID != eventID {
			continue
		}
		stats.Total++
		switch g.Status {
		case GuestConfirmed:
			stats.Confirmed++
		case GuestPending:
			stats.Pending++
		case GuestDeclined:
			stats.Declined++
		case GuestExpired:
			stats.Expired++
		}
		if g.InvitedBy != nil {
			stats.PlusOnesUsed++
		}
	}
	return stats, nil
}

func (s *Memory) CreateGuest(_ context.Context, g *Guest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.guests {
		if existing.EventID == g.EventID && existing.Identity == g.Identity {
			return ErrAlreadyInvited
		}
	}
	g.ID = s.nextID
	s.nextID++
	if g.InvitedAt.IsZero() {
		g.InvitedAt = time.Now().UTC()
	}
	s.guests[g.ID] = copyGuest(g)
	return nil
}

func (s *Memory) GuestByIdentity(_ context.Context, eventID int64, identity string) (*Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guestByIdentityLocked(eventID, identity)
}

func (s *Memory) guestByIdentityLocked(eventID int64, identity string) (*Guest, error) {
	for _, g := range s.guests {
		if g.EventID == eventID && g.Identity == identity {
			return copyGuest(g), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) Guests(_ context.Context, eventID int64, status GuestStatus) ([]Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Guest
	for _, g := range s.guests {
		if g.EventID != eventID {
			continue
		}
		if status != "" && g.Status != status {
			continue
		}
		out = append(out, *copyGuest(g))
	}
	sortGuests(out)
	return out, nil
}

func (s *Memory) GuestsByInviter(_ context.Context, eventID int64, inviter string) ([]Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Guest
	for _, g := range s.guests {
		if g.EventID == eventID && g.InvitedBy != nil && *g.InvitedBy == inviter {
			out = append(out, *copyGuest(g))
		}
	}
	sortGuests(out)
	return out, nil
}

func (s *Memory) SearchGuests(_ context.Context, eventID int64, query string) ([]Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []Guest
	for _, g := range s.guests {
		if g.EventID != eventID {
			continue
		}
		name := ""
		if g.Name != nil {
			name = strings.ToLower(*g.Name)
		}
		if strings.Contains(name, q) || strings.Contains(g.Identity, query) {
			out = append(out, *copyGuest(g))
		}
	}
	sortGuests(out)
	return out, nil
}

func sortGuests(gs []Guest) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].InvitedAt.Equal(gs[j].InvitedAt) {
			return gs[i].ID < gs[j].ID
		}
		return gs[i].InvitedAt.Before(gs[j].InvitedAt)
	})
}

func (s *Memory) UpdateGuest(_ context.Context, g *Guest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guests[g.ID]; !ok {
		return ErrNotFound
	}
	s.guests[g.ID] = copyGuest(g)
	return nil
}

func (s *Memory) ConsumeQuota(_ context.Context, eventID int64, inviterIdentity, inviteeIdentity string) (*Guest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inviter *Guest
	for _, g := range s.guests {
		if g.EventID == eventID && g.Identity == inviterIdentity {
			inviter = g
			break
		}
	}
	if inviter == nil || inviter.Status != GuestConfirmed {
		return nil, ErrNotEligible
	}
	if inviter.QuotaUsed >= inviter.QuotaLimit {
		return nil, ErrQuotaExhausted
	}
	for _, g := range s.guests {
		if g.EventID == eventID && g.Identity == inviteeIdentity {
			return nil, ErrAlreadyInvited
		}
	}

	inviter.QuotaUsed++
	invitedBy := inviter.Identity
	invitee := &Guest{
		ID:         s.nextID,
		EventID:    eventID,
		Identity:   inviteeIdentity,
		Status:     GuestPending,
		InvitedBy:  &invitedBy,
		QuotaLimit: inviter.QuotaLimit,
		InvitedAt:  time.Now().UTC(),
	}
	s.nextID++
	s.guests[invitee.ID] = copyGuest(invitee)
	return invitee, nil
}

func (s *Memory) ConversationState(_ context.Context, eventID int64, identity string) (*ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.states[stateKey(eventID, identity)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *cs
	out.Context = map[string]any{}
	for k, v := range cs.Context {
		out.Context[k] = v
	}
	return &out, nil
}

func (s *Memory) UpsertConversationState(_ context.Context, eventID int64, identity string, state ConvState, context map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if context == nil {
		context = map[string]any{}
	}
	copied := map[string]any{}
	for k, v := range context {
		copied[k] = v
	}
	s.states[stateKey(eventID, identity)] = &ConversationState{
		EventID:       eventID,
		Identity:      identity,
		State:         state,
		Context:       copied,
		LastMessageAt: time.Now().UTC(),
	}
	return nil
}

func (s *Memory) DeleteConversationState(_ context.Context, eventID int64, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(eventID, identity))
	return nil
}

func (s *Memory) AppendAudit(_ context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, *rec)
	return nil
}

// AuditRecords returns a copy of the audit log, oldest first. Test helper.
func (s *Memory) AuditRecords() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditRecord(nil), s.audit...)
}
