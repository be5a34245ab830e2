package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	oneActive := &pgconn.PgError{Code: "23505", ConstraintName: "events_one_active"}
	assert.True(t, isUniqueViolation(oneActive, "events_one_active"))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert event: %w", oneActive), "events_one_active"))

	otherIndex := &pgconn.PgError{Code: "23505", ConstraintName: "guests_event_id_identity_key"}
	assert.False(t, isUniqueViolation(otherIndex, "events_one_active"))

	notUnique := &pgconn.PgError{Code: "40001", ConstraintName: "events_one_active"}
	assert.False(t, isUniqueViolation(notUnique, "events_one_active"))

	assert.False(t, isUniqueViolation(errors.New("plain failure"), "events_one_active"))
}
