// Package classifier is the LLM fallback for messages the deterministic
// matchers cannot resolve. It parses ambiguous replies against a stated
// expectation and drafts in-persona answers to free-form questions. Every
// call is bounded by a timeout and a rate limiter; when the model is
// unreachable the caller degrades to host escalation, never to an error
// message on the wire.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"golang.org/x/time/rate"

	"github.com/doorman/internal/store"
)

// ErrUnavailable is returned when no model is configured or the provider
// could not be reached.
var ErrUnavailable = errors.New("classifier unavailable")

// Expectation tells Parse what the preceding bot question asked for.
type Expectation string

const (
	ExpectYesNo            Expectation = "yes_or_no"
	ExpectName             Expectation = "name"
	ExpectHandle           Expectation = "handle"
	ExpectPlusOneOrContact Expectation = "plus_one_or_contact"
)

// ParseResult is the structured reading of an ambiguous reply.
type ParseResult struct {
	Intent string `json:"intent"` // yes | no | unclear | contact
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Phone  string `json:"phone"`
	Skip   bool   `json:"skip"`
}

// Answer is a drafted reply. When Escalate is set, Text is empty and
// Summary carries the one-line question digest for the host.
type Answer struct {
	Text     string
	Escalate bool
	Summary  string
}

// Config holds provider settings.
type Config struct {
	APIKey     string
	Model      string
	Timeout    time.Duration
	RatePerSec float64
}

// Client wraps the model provider. The zero-key client is valid but
// disabled; every call returns ErrUnavailable.
type Client struct {
	llm     llms.Model
	timeout time.Duration
	limiter *rate.Limiter
}

// New builds a classifier client. An empty API key yields a disabled
// client rather than an error so the rest of the system can start without
// credentials.
func New(cfg Config) (*Client, error) {
	c := &Client{
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		c.limiter = rate.NewLimiter(rate.Limit(2), 1)
	}
	if cfg.APIKey == "" {
		log.Warn().Msg("no classifier API key configured, LLM fallback disabled")
		return c, nil
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	llm, err := anthropic.New(anthropic.WithToken(cfg.APIKey), anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("init anthropic provider: %w", err)
	}
	c.llm = llm
	return c, nil
}

// Enabled reports whether a model is configured.
func (c *Client) Enabled() bool {
	return c.llm != nil
}

func (c *Client) generate(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if c.llm == nil {
		return "", ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, user),
		},
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		log.Warn().Err(err).Msg("model call failed")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Parse reads an ambiguous reply against the given expectation and returns
// the extracted intent. Model output is JSON-repaired before decoding; a
// still-undecodable response comes back as intent "unclear" rather than an
// error.
func (c *Client) Parse(ctx context.Context, text string, expect Expectation) (*ParseResult, error) {
	hint, ok := parsePrompts[expect]
	if !ok {
		return nil, fmt.Errorf("unknown expectation %q", expect)
	}
	user := fmt.Sprintf("CONTEXT:\n%s\n\nUSER MESSAGE:\n%s", hint, text)
	raw, err := c.generate(ctx, parseSystemPrompt, user, 200)
	if err != nil {
		return nil, err
	}

	raw = stripFences(raw)
	var result ParseResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &result) != nil {
			log.Debug().Str("raw", raw).Msg("unparseable classifier output")
			return &ParseResult{Intent: "unclear"}, nil
		}
	}
	result.Handle = strings.TrimPrefix(result.Handle, "@")
	return &result, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func eventFacts(ev *store.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EVENT DETAILS:\nName: %s\nDate: %s\nTime: %s\n", ev.Name, ev.Date, ev.TimeWindow)
	if ev.DropTime != "" {
		fmt.Fprintf(&b, "Location drops at: %s\n", ev.DropTime)
	}
	if len(ev.Rules) > 0 {
		fmt.Fprintf(&b, "Rules: %s\n", strings.Join(ev.Rules, "; "))
	}
	return b.String()
}

// AnswerGuest drafts an in-persona reply to a confirmed guest's free-form
// question. Questions only the host can answer come back with Escalate set
// and a one-line summary.
func (c *Client) AnswerGuest(ctx context.Context, text string, ev *store.Event, g *store.Guest) (Answer, error) {
	user := fmt.Sprintf("%s\nGuest name: %s\n\nGUEST MESSAGE:\n%s", eventFacts(ev), g.DisplayName("unknown"), text)
	reply, err := c.generate(ctx, guestSystemPrompt, user, 300)
	if err != nil {
		return Answer{}, err
	}
	if rest, found := strings.CutPrefix(reply, escalateMarker); found {
		return Answer{Escalate: true, Summary: strings.TrimSpace(rest)}, nil
	}
	return Answer{Text: reply}, nil
}

// AnswerHost drafts a reply to host chatter that matched no command.
func (c *Client) AnswerHost(ctx context.Context, text string, ev *store.Event) (Answer, error) {
	user := text
	if ev != nil {
		user = fmt.Sprintf("%s\nHOST MESSAGE:\n%s", eventFacts(ev), text)
	}
	reply, err := c.generate(ctx, hostSystemPrompt, user, 200)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: reply}, nil
}

// AnswerUnknown drafts the brush-off for senders not on any list.
func (c *Client) AnswerUnknown(ctx context.Context, text string) (Answer, error) {
	reply, err := c.generate(ctx, unknownSenderSystemPrompt, text, 150)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: reply}, nil
}

// RewriteHostAnswer restates the host's answer to an escalated question in
// the doorman voice before it is relayed to the asking guest.
func (c *Client) RewriteHostAnswer(ctx context.Context, question, hostAnswer string) (string, error) {
	user := fmt.Sprintf("GUEST ASKED: %s\n\nHOST'S ANSWER: %s", question, hostAnswer)
	return c.generate(ctx, rewriteSystemPrompt, user, 200)
}
