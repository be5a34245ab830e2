// Package store owns persistence for events, guests, conversation state,
// and the append-only message audit log. All mutations the router performs
// go through this interface so the dispatch logic stays a pure function of
// (inbound message, stored state).
package store

import (
	"context"
	"errors"
	"time"
)

// CreationEventID is the sentinel conversation-state key for the host
// event-creation flow. No event row with this id ever exists.
const CreationEventID int64 = 0

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
)

// GuestStatus is the membership state of a guest.
type GuestStatus string

const (
	GuestPending   GuestStatus = "pending"
	GuestConfirmed GuestStatus = "confirmed"
	GuestDeclined  GuestStatus = "declined"
	GuestExpired   GuestStatus = "expired"
)

// ConvState enumerates conversation states for guests and hosts.
type ConvState string

const (
	StateIdle               ConvState = "idle"
	StateWaitingForResponse ConvState = "waiting_for_response"
	StateWaitingForName     ConvState = "waiting_for_name"
	StateWaitingForHandle   ConvState = "waiting_for_handle"
	StateWaitingForPlusOne  ConvState = "waiting_for_plus_one"
	StateWaitingForContact  ConvState = "waiting_for_contact"
	StateAnsweringQuestion  ConvState = "answering_guest_question"
	StateCollectingDrop     ConvState = "collecting_drop_details"

	StateCreatingName     ConvState = "creating_event_name"
	StateCreatingDate     ConvState = "creating_event_date"
	StateCreatingTime     ConvState = "creating_event_time"
	StateCreatingDropTime ConvState = "creating_event_drop_time"
	StateCreatingRules    ConvState = "creating_event_rules"
)

// Direction of an audit record.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Error taxonomy. Callers match with errors.Is; the router boundary maps
// each to a plain-language reply and never surfaces them verbatim.
var (
	ErrNotFound         = errors.New("not found")
	ErrUnknownGuest     = errors.New("unknown guest")
	ErrQuotaExhausted   = errors.New("quota exhausted")
	ErrNotEligible      = errors.New("guest not eligible to invite")
	ErrAlreadyTriggered = errors.New("location drop already triggered")
	ErrAlreadyInvited   = errors.New("guest already invited")
	ErrEventActive      = errors.New("another event is already active")
)

// Event is one campaign. At most one event is active at a time.
type Event struct {
	ID           int64
	Name         string
	Date         string // YYYY-MM-DD
	TimeWindow   string
	DropTime     string
	Rules        []string
	HostIdentity string // canonical E.164
	Status       EventStatus
	DropDone     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Guest is a node in the invite tree. InvitedBy is nil only for
// host-issued initial invites.
type Guest struct {
	ID          int64
	EventID     int64
	Identity    string // canonical E.164, unique per event
	Name        *string
	Handle      *string
	Status      GuestStatus
	InvitedBy   *string // inviter identity
	QuotaUsed   int
	QuotaLimit  int
	InvitedAt   time.Time
	RespondedAt *time.Time
}

// DisplayName returns the guest's name, or fallback when none collected.
func (g *Guest) DisplayName(fallback string) string {
	if g.Name != nil && *g.Name != "" {
		return *g.Name
	}
	return fallback
}

// ConversationState is the per-(event, identity) dialogue position plus an
// open-ended context payload for in-flight data.
type ConversationState struct {
	EventID       int64
	Identity      string
	State         ConvState
	Context       map[string]any
	LastMessageAt time.Time
}

// AuditRecord is an immutable message-log entry. Never updated or deleted.
type AuditRecord struct {
	ID        string
	EventID   *int64
	Identity  string
	Direction Direction
	Text      string
	CreatedAt time.Time
}

// Stats summarizes guest counts for an event.
type Stats struct {
	Total        int
	Confirmed    int
	Pending      int
	Declined     int
	Expired      int
	PlusOnesUsed int
}

// Store is the query/mutation surface consumed by the core. Implementations
// must make each mutation transactional, and ConsumeQuota must serialize
// concurrent callers on the inviting guest's row.
type Store interface {
	// Events.
	CreateEvent(ctx context.Context, ev *Event) error
	EventByID(ctx context.Context, id int64) (*Event, error)
	ActiveEvent(ctx context.Context) (*Event, error)
	UpdateEventStatus(ctx context.Context, id int64, status EventStatus) error
	// MarkDropTriggered flips the drop flag, failing with ErrAlreadyTriggered
	// if it was already set. This conditional write is what makes the
	// two-phase broadcast idempotent.
	MarkDropTriggered(ctx context.Context, id int64) error
	// ClearDropTriggered rolls the drop flag back. Compensation for a
	// trigger whose reveal could not be scheduled; never part of the happy
	// path.
	ClearDropTriggered(ctx context.Context, id int64) error
	EventStats(ctx context.Context, eventID int64) (Stats, error)

	// Guests.
	CreateGuest(ctx context.Context, g *Guest) error
	GuestByIdentity(ctx context.Context, eventID int64, identity string) (*Guest, error)
	Guests(ctx context.Context, eventID int64, status GuestStatus) ([]Guest, error) // status "" lists all
	GuestsByInviter(ctx context.Context, eventID int64, inviter string) ([]Guest, error)
	SearchGuests(ctx context.Context, eventID int64, query string) ([]Guest, error)
	UpdateGuest(ctx context.Context, g *Guest) error

	// ConsumeQuota atomically checks and increments the inviter's quota and
	// creates the invited guest row in the same transaction. It is the only
	// path that creates a guest row attributed to another guest.
	ConsumeQuota(ctx context.Context, eventID int64, inviterIdentity, inviteeIdentity string) (*Guest, error)

	// Conversation state.
	ConversationState(ctx context.Context, eventID int64, identity string) (*ConversationState, error)
	UpsertConversationState(ctx context.Context, eventID int64, identity string, state ConvState, context map[string]any) error
	DeleteConversationState(ctx context.Context, eventID int64, identity string) error

	// Audit log.
	AppendAudit(ctx context.Context, rec *AuditRecord) error
}
