package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Pool exposes the underlying pool for the job queue driver.
func (s *Postgres) Pool() *pgxpool.Pool {
	return s.pool
}

const eventColumns = `id, name, event_date, time_window, drop_time, rules, host_identity, status, drop_done, created_at, updated_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	var rules []byte
	err := row.Scan(&ev.ID, &ev.Name, &ev.Date, &ev.TimeWindow, &ev.DropTime,
		&rules, &ev.HostIdentity, &ev.Status, &ev.DropDone, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &ev.Rules); err != nil {
			return nil, fmt.Errorf("decode event rules: %w", err)
		}
	}
	return &ev, nil
}

func (s *Postgres) CreateEvent(ctx context.Context, ev *Event) error {
	rules, err := json.Marshal(ev.Rules)
	if err != nil {
		return fmt.Errorf("encode event rules: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if ev.Status == EventActive {
		var n int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM events WHERE status = 'active'`).Scan(&n); err != nil {
			return fmt.Errorf("check active event: %w", err)
		}
		if n > 0 {
			return ErrEventActive
		}
	}

	now := time.Now().UTC()
	err = tx.QueryRow(ctx, `
		INSERT INTO events (name, event_date, time_window, drop_time, rules, host_identity, status, drop_done, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $8)
		RETURNING id`,
		ev.Name, ev.Date, ev.TimeWindow, ev.DropTime, rules, ev.HostIdentity, ev.Status, now,
	).Scan(&ev.ID)
	if err != nil {
		// Concurrent creations can both pass the count above; the partial
		// unique index settles it.
		if isUniqueViolation(err, "events_one_active") {
			return ErrEventActive
		}
		return fmt.Errorf("insert event: %w", err)
	}
	ev.CreatedAt = now
	ev.UpdatedAt = now
	return tx.Commit(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func (s *Postgres) EventByID(ctx context.Context, id int64) (*Event, error) {
	return scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

func (s *Postgres) ActiveEvent(ctx context.Context) (*Event, error) {
	return scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE status = 'active' ORDER BY created_at DESC LIMIT 1`))
}

func (s *Postgres) UpdateEventStatus(ctx context.Context, id int64, status EventStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkDropTriggered(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET drop_done = true, updated_at = now() WHERE id = $1 AND drop_done = false`, id)
	if err != nil {
		return fmt.Errorf("mark drop triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.EventByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyTriggered
	}
	return nil
}

func (s *Postgres) ClearDropTriggered(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET drop_done = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear drop triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) EventStats(ctx context.Context, eventID int64) (Stats, error) {
	var stats Stats
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM guests WHERE event_id = $1 GROUP BY status`, eventID)
	if err != nil {
		return stats, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status GuestStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += n
		switch status {
		case GuestConfirmed:
			stats.Confirmed = n
		case GuestPending:
			stats.Pending = n
		case GuestDeclined:
			stats.Declined = n
		case GuestExpired:
			stats.Expired = n
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("stats rows: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM guests WHERE event_id = $1 AND invited_by IS NOT NULL`, eventID,
	).Scan(&stats.PlusOnesUsed)
	if err != nil {
		return stats, fmt.Errorf("plus-one count: %w", err)
	}
	return stats, nil
}

const guestColumns = `id, event_id, identity, name, handle, status, invited_by, quota_used, quota_limit, invited_at, responded_at`

func scanGuest(row pgx.Row) (*Guest, error) {
	var g Guest
	err := row.Scan(&g.ID, &g.EventID, &g.Identity, &g.Name, &g.Handle, &g.Status,
		&g.InvitedBy, &g.QuotaUsed, &g.QuotaLimit, &g.InvitedAt, &g.RespondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan guest: %w", err)
	}
	return &g, nil
}

func (s *Postgres) CreateGuest(ctx context.Context, g *Guest) error {
	if g.InvitedAt.IsZero() {
		g.InvitedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO guests (event_id, identity, name, handle, status, invited_by, quota_used, quota_limit, invited_at, responded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		g.EventID, g.Identity, g.Name, g.Handle, g.Status, g.InvitedBy,
		g.QuotaUsed, g.QuotaLimit, g.InvitedAt, g.RespondedAt,
	).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("insert guest: %w", err)
	}
	return nil
}

func (s *Postgres) GuestByIdentity(ctx context.Context, eventID int64, identity string) (*Guest, error) {
	return scanGuest(s.pool.QueryRow(ctx,
		`SELECT `+guestColumns+` FROM guests WHERE event_id = $1 AND identity = $2`,
		eventID, identity))
}

func (s *Postgres) Guests(ctx context.Context, eventID int64, status GuestStatus) ([]Guest, error) {
	query := `SELECT ` + guestColumns + ` FROM guests WHERE event_id = $1 ORDER BY invited_at`
	args := []any{eventID}
	if status != "" {
		query = `SELECT ` + guestColumns + ` FROM guests WHERE event_id = $1 AND status = $2 ORDER BY invited_at`
		args = append(args, status)
	}
	return s.queryGuests(ctx, query, args...)
}

func (s *Postgres) GuestsByInviter(ctx context.Context, eventID int64, inviter string) ([]Guest, error) {
	return s.queryGuests(ctx,
		`SELECT `+guestColumns+` FROM guests WHERE event_id = $1 AND invited_by = $2 ORDER BY invited_at`,
		eventID, inviter)
}

func (s *Postgres) SearchGuests(ctx context.Context, eventID int64, query string) ([]Guest, error) {
	pattern := "%" + query + "%"
	return s.queryGuests(ctx,
		`SELECT `+guestColumns+` FROM guests
		 WHERE event_id = $1 AND (name ILIKE $2 OR identity LIKE $3)
		 ORDER BY name NULLS LAST, identity`,
		eventID, pattern, pattern)
}

func (s *Postgres) queryGuests(ctx context.Context, query string, args ...any) ([]Guest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query guests: %w", err)
	}
	defer rows.Close()
	var guests []Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, *g)
	}
	return guests, rows.Err()
}

func (s *Postgres) UpdateGuest(ctx context.Context, g *Guest) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE guests
		SET name = $1, handle = $2, status = $3, invited_by = $4,
		    quota_used = $5, quota_limit = $6, invited_at = $7, responded_at = $8
		WHERE id = $9`,
		g.Name, g.Handle, g.Status, g.InvitedBy,
		g.QuotaUsed, g.QuotaLimit, g.InvitedAt, g.RespondedAt, g.ID)
	if err != nil {
		return fmt.Errorf("update guest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeQuota locks the inviter row for the duration of the transaction so
// concurrent submissions for the same guest serialize instead of racing.
func (s *Postgres) ConsumeQuota(ctx context.Context, eventID int64, inviterIdentity, inviteeIdentity string) (*Guest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inviter, err := scanGuest(tx.QueryRow(ctx,
		`SELECT `+guestColumns+` FROM guests WHERE event_id = $1 AND identity = $2 FOR UPDATE`,
		eventID, inviterIdentity))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotEligible
		}
		return nil, err
	}
	if inviter.Status != GuestConfirmed {
		return nil, ErrNotEligible
	}
	if inviter.QuotaUsed >= inviter.QuotaLimit {
		return nil, ErrQuotaExhausted
	}

	var exists int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM guests WHERE event_id = $1 AND identity = $2`,
		eventID, inviteeIdentity).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check existing guest: %w", err)
	}
	if exists > 0 {
		return nil, ErrAlreadyInvited
	}

	if _, err := tx.Exec(ctx,
		`UPDATE guests SET quota_used = quota_used + 1 WHERE id = $1`, inviter.ID); err != nil {
		return nil, fmt.Errorf("increment quota: %w", err)
	}

	invitee := &Guest{
		EventID:    eventID,
		Identity:   inviteeIdentity,
		Status:     GuestPending,
		InvitedBy:  &inviter.Identity,
		QuotaLimit: inviter.QuotaLimit,
		InvitedAt:  time.Now().UTC(),
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO guests (event_id, identity, status, invited_by, quota_used, quota_limit, invited_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		RETURNING id`,
		invitee.EventID, invitee.Identity, invitee.Status, invitee.InvitedBy,
		invitee.QuotaLimit, invitee.InvitedAt,
	).Scan(&invitee.ID)
	if err != nil {
		return nil, fmt.Errorf("insert invitee: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit quota consumption: %w", err)
	}
	return invitee, nil
}

func (s *Postgres) ConversationState(ctx context.Context, eventID int64, identity string) (*ConversationState, error) {
	var cs ConversationState
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT event_id, identity, state, context, last_message_at
		FROM conversation_state WHERE event_id = $1 AND identity = $2`,
		eventID, identity,
	).Scan(&cs.EventID, &cs.Identity, &cs.State, &payload, &cs.LastMessageAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation state: %w", err)
	}
	cs.Context = map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cs.Context); err != nil {
			return nil, fmt.Errorf("decode conversation context: %w", err)
		}
	}
	return &cs, nil
}

func (s *Postgres) UpsertConversationState(ctx context.Context, eventID int64, identity string, state ConvState, context map[string]any) error {
	payload, err := json.Marshal(context)
	if err != nil {
		return fmt.Errorf("encode conversation context: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_state (event_id, identity, state, context, last_message_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (event_id, identity) DO UPDATE SET
			state = excluded.state,
			context = excluded.context,
			last_message_at = excluded.last_message_at`,
		eventID, identity, state, payload)
	if err != nil {
		return fmt.Errorf("upsert conversation state: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteConversationState(ctx context.Context, eventID int64, identity string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_state WHERE event_id = $1 AND identity = $2`,
		eventID, identity)
	if err != nil {
		return fmt.Errorf("delete conversation state: %w", err)
	}
	return nil
}

func (s *Postgres) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, event_id, identity, direction, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.EventID, rec.Identity, rec.Direction, rec.Text, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
