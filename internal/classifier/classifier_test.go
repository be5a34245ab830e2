package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledClientFailsClosed(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	_, err = c.Parse(context.Background(), "yeah sure", ExpectYesNo)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.AnswerUnknown(context.Background(), "hello?")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseRejectsUnknownExpectation(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	_, err = c.Parse(context.Background(), "text", Expectation("mood"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"intent": "yes"}`, stripFences("```json\n{\"intent\": \"yes\"}\n```"))
	assert.Equal(t, `{"intent": "yes"}`, stripFences(`{"intent": "yes"}`))
}
