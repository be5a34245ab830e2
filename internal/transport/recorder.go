package transport

import (
	"context"
	"sync"
)

// Recorded is one captured outbound message.
type Recorded struct {
	Identity string
	Text     string
}

// RecorderSink captures outbound messages in memory. Used by tests and
// the dry-run tooling.
type RecorderSink struct {
	mu   sync.Mutex
	sent []Recorded
	fail func(identity string) error
}

// NewRecorderSink returns an empty recorder.
func NewRecorderSink() *RecorderSink {
	return &RecorderSink{}
}

// FailWith installs a per-recipient failure injector. A nil return from fn
// records the message as usual.
func (s *RecorderSink) FailWith(fn func(identity string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Send records the message unless the failure injector rejects it.
func (s *RecorderSink) Send(_ context.Context, identity, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(identity); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, Recorded{Identity: identity, Text: text})
	return nil
}

// Sent returns a copy of everything recorded, in send order.
func (s *RecorderSink) Sent() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.sent...)
}

// SentTo returns the messages recorded for one recipient.
func (s *RecorderSink) SentTo(identity string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.Identity == identity {
			out = append(out, m.Text)
		}
	}
	return out
}

// Reset clears the recording.
func (s *RecorderSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
