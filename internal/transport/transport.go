// Package transport abstracts the messaging channel. The router consumes a
// Source of inbound messages and writes replies through a Sink; everything
// channel-specific (polling cadence, attachment handling, delivery quirks)
// stays behind these two interfaces.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Next once a source is exhausted or shut down.
var ErrClosed = errors.New("transport closed")

// AttachmentType discriminates inbound attachments.
type AttachmentType string

const (
	AttachmentNone  AttachmentType = ""
	AttachmentVCard AttachmentType = "vcard"
)

// Attachment is a file that arrived with a message.
type Attachment struct {
	Type AttachmentType `json:"type"`
	Path string         `json:"path"`
}

// Inbound is one received message. Identity is the raw sender identifier
// as the channel reports it; canonicalization happens in the router.
type Inbound struct {
	Identity   string     `json:"identity"`
	Text       string     `json:"text"`
	Attachment Attachment `json:"attachment,omitzero"`
}

// Source yields inbound messages. Next blocks until a message arrives, the
// context is cancelled, or the source is closed (ErrClosed).
type Source interface {
	Next(ctx context.Context) (Inbound, error)
	Close() error
}

// Sink delivers outbound messages to a single recipient. Implementations
// must be safe for concurrent use; broadcast fan-out calls Send from the
// job worker while the router sends replies.
type Sink interface {
	Send(ctx context.Context, identity, text string) error
}
