package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema for the doorman tables. River's own tables are created separately
// by the migrate command.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	event_date    TEXT NOT NULL,
	time_window   TEXT NOT NULL DEFAULT '',
	drop_time     TEXT NOT NULL DEFAULT '',
	rules         JSONB NOT NULL DEFAULT '[]',
	host_identity TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'draft',
	drop_done     BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- At most one active event at a time.
CREATE UNIQUE INDEX IF NOT EXISTS events_one_active
	ON events ((true)) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS guests (
	id           BIGSERIAL PRIMARY KEY,
	event_id     BIGINT NOT NULL REFERENCES events(id),
	identity     TEXT NOT NULL,
	name         TEXT,
	handle       TEXT,
	status       TEXT NOT NULL DEFAULT 'pending',
	invited_by   TEXT,
	quota_used   INTEGER NOT NULL DEFAULT 0,
	quota_limit  INTEGER NOT NULL DEFAULT 2,
	invited_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	responded_at TIMESTAMPTZ,
	UNIQUE (event_id, identity),
	CHECK (quota_used >= 0 AND quota_used <= quota_limit)
);

CREATE INDEX IF NOT EXISTS guests_invited_by ON guests (event_id, invited_by);

CREATE TABLE IF NOT EXISTS conversation_state (
	event_id        BIGINT NOT NULL,
	identity        TEXT NOT NULL,
	state           TEXT NOT NULL,
	context         JSONB NOT NULL DEFAULT '{}',
	last_message_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, identity)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         UUID PRIMARY KEY,
	event_id   BIGINT,
	identity   TEXT NOT NULL,
	direction  TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS audit_log_identity ON audit_log (identity, created_at DESC);
`

// Migrate creates the doorman schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
