package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// JSONLSource tails a newline-delimited JSON file of Inbound messages.
// It is the local development channel: append a line to the file and the
// bot picks it up on the next poll. Lines may also be plain
// "identity<TAB>text" for convenience.
type JSONLSource struct {
	path     string
	interval time.Duration

	mu     sync.Mutex
	file   *os.File
	reader *bufio.Reader
	closed bool
}

// NewJSONLSource opens (creating if needed) the message file at path and
// polls it at the given interval.
func NewJSONLSource(path string, interval time.Duration) (*JSONLSource, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &JSONLSource{
		path:     path,
		interval: interval,
		file:     f,
		reader:   bufio.NewReader(f),
	}, nil
}

// Next blocks until a complete line is available, then decodes it.
// Malformed lines are logged and skipped.
func (s *JSONLSource) Next(ctx context.Context) (Inbound, error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		msg, ok, err := s.readLine()
		if err != nil {
			return Inbound{}, err
		}
		if ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return Inbound{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *JSONLSource) readLine() (Inbound, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Inbound{}, false, ErrClosed
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			// Partial line: rewind so the next poll rereads it whole.
			if line != "" {
				if _, serr := s.file.Seek(-int64(len(line)), io.SeekCurrent); serr == nil {
					s.reader.Reset(s.file)
				}
			}
			return Inbound{}, false, nil
		}
		if err != nil {
			return Inbound{}, false, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		msg, ok := decodeLine(line)
		if !ok {
			log.Warn().Str("line", line).Msg("skipping malformed message line")
			continue
		}
		return msg, true, nil
	}
}

func decodeLine(line string) (Inbound, bool) {
	if strings.HasPrefix(line, "{") {
		var msg Inbound
		if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Identity == "" {
			return Inbound{}, false
		}
		return msg, true
	}
	identity, text, found := strings.Cut(line, "\t")
	if !found || identity == "" {
		return Inbound{}, false
	}
	return Inbound{Identity: identity, Text: text}, true
}

// Close releases the underlying file. Subsequent Next calls return
// ErrClosed.
func (s *JSONLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// JSONLSink appends outbound messages as JSON lines. With an empty path it
// writes to stdout.
type JSONLSink struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

type outboundLine struct {
	Identity string    `json:"identity"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// NewJSONLSink opens path for appending, or uses stdout when path is "".
func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		return &JSONLSink{w: os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{w: f, f: f}, nil
}

// Send writes one outbound line.
func (s *JSONLSink) Send(_ context.Context, identity, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(outboundLine{Identity: identity, Text: text, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = s.w.Write(append(data, '\n'))
	return err
}

// Close releases the sink's file if it owns one.
func (s *JSONLSink) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
