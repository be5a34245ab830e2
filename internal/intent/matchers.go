// Package intent holds the deterministic text classifiers tried before the
// LLM fallback. Every matcher is a pure function; a zero result means
// "defer to the classifier", never an error.
package intent

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	yesPattern = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|absolutely|definitely|ok|okay|k|bet|down|in|count me in|im in|i'?m in|for sure|of course|let'?s go|letsgo|say less|less|fs|i'?m down|im down)\b`)
	noPattern  = regexp.MustCompile(`(?i)\b(no|nope|nah|can'?t|cannot|pass|i'?m good|im good|not this time|maybe next|decline)\b`)

	createPattern = regexp.MustCompile(`(?i)\bcreate\s+event\b`)
)

// Affirmative reports whether text reads as a yes.
func Affirmative(text string) bool {
	return yesPattern.MatchString(text)
}

// Negative reports whether text reads as a no.
func Negative(text string) bool {
	return noPattern.MatchString(text)
}

// CreateTrigger reports whether text is the event-creation trigger.
func CreateTrigger(text string) bool {
	return createPattern.MatchString(text)
}

// FAQCategory is a deterministic FAQ bucket answered straight from event
// data without touching conversation state.
type FAQCategory string

const (
	FAQWhere   FAQCategory = "where"
	FAQWhen    FAQCategory = "when"
	FAQPlusOne FAQCategory = "plus_one"
	FAQDrop    FAQCategory = "drop"
)

// Checked in a fixed order so overlapping questions resolve the same way
// every time.
var faqOrder = []struct {
	category FAQCategory
	pattern  *regexp.Regexp
}{
	{FAQWhere, regexp.MustCompile(`(?i)\b(where|location|place|address)\b`)},
	{FAQWhen, regexp.MustCompile(`(?i)\b(when|what time|time|date)\b`)},
	{FAQPlusOne, regexp.MustCompile(`(?i)\b(bring|plus one|\+1|guest|someone|friend)\b`)},
	{FAQDrop, regexp.MustCompile(`(?i)\b(drop|reveal|send|get|receive)\b`)},
}

// FAQ classifies text into an FAQ category, if any.
func FAQ(text string) (FAQCategory, bool) {
	for _, entry := range faqOrder {
		if entry.pattern.MatchString(text) {
			return entry.category, true
		}
	}
	return "", false
}

// HostCommand is a recognized host command name.
type HostCommand string

const (
	CmdCreate HostCommand = "create"
	CmdList   HostCommand = "list"
	CmdSearch HostCommand = "search"
	CmdStats  HostCommand = "stats"
	CmdDrop   HostCommand = "drop"
)

var hostOrder = []struct {
	command HostCommand
	pattern *regexp.Regexp
}{
	{CmdCreate, createPattern},
	{CmdList, regexp.MustCompile(`(?i)\b(list|guest list|show.*guests?)\b`)},
	{CmdSearch, regexp.MustCompile(`(?i)\bsearch\s+(.+)`)},
	{CmdStats, regexp.MustCompile(`(?i)\bstats?\b`)},
	{CmdDrop, regexp.MustCompile(`(?i)\bdrop\s+location\b`)},
}

// MatchHostCommand classifies host text into a command plus its argument
// (search query), if any.
func MatchHostCommand(text string) (HostCommand, string, bool) {
	for _, entry := range hostOrder {
		m := entry.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		arg := ""
		if len(m) > 1 {
			arg = strings.TrimSpace(m[1])
		}
		return entry.command, arg, true
	}
	return "", "", false
}

var (
	namePrefix = regexp.MustCompile(`(?i)^(hi|hey|hello|this is|i'?m|my name is)\s+`)
	nameChars  = regexp.MustCompile(`^[\pL\pN\s'-]+$`)
)

// ExtractName applies the name-likeness heuristic: strip greeting
// prefixes, then accept 1-4 capitalizable words of plain letters. Returns
// the title-cased name, or "" when the text does not look like a name.
func ExtractName(text string) string {
	text = strings.TrimSpace(namePrefix.ReplaceAllString(strings.TrimSpace(text), ""))
	if text == "" || !nameChars.MatchString(text) {
		return ""
	}
	words := strings.Fields(text)
	if len(words) < 1 || len(words) > 4 {
		return ""
	}
	for i, word := range words {
		if len(word) == 1 && word != strings.ToUpper(word) {
			return ""
		}
		runes := []rune(word)
		words[i] = string(unicode.ToUpper(runes[0])) + strings.ToLower(string(runes[1:]))
	}
	return strings.Join(words, " ")
}

var (
	handleURL     = regexp.MustCompile(`instagram\.com/([a-zA-Z0-9._]{1,30})`)
	handleAt      = regexp.MustCompile(`@([a-zA-Z0-9._]{1,30})`)
	handlePrefix  = regexp.MustCompile(`(?i)^(my\s+)?(ig|insta|instagram)\s*(is|:)?\s*`)
	handleIts     = regexp.MustCompile(`(?i)^(it'?s\s+)`)
	handleLiteral = regexp.MustCompile(`^[a-zA-Z0-9._]{1,30}$`)

	skipWords    = map[string]bool{"skip": true, "no": true, "nah": true, "nope": true, "none": true, "n/a": true, "na": true, "pass": true}
	skipPatterns = []*regexp.Regexp{
		regexp.MustCompile(`don'?t have`),
		regexp.MustCompile(`no (ig|insta|instagram)`),
		regexp.MustCompile(`don'?t (use|do|have) (ig|insta|instagram)`),
		regexp.MustCompile(`i'?m not on`),
		regexp.MustCompile(`not on (ig|insta|instagram)`),
		regexp.MustCompile(`no social`),
		regexp.MustCompile(`don'?t (use|do|have) (social|that)`),
	}
)

// ExtractHandle pulls a social handle out of natural text: profile URLs,
// @mentions, "my ig is ..." phrasings, or a bare handle. Returns "" when
// nothing handle-like is present.
func ExtractHandle(text string) string {
	text = strings.TrimSpace(text)
	if m := handleURL.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := handleAt.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	cleaned := strings.TrimSpace(handlePrefix.ReplaceAllString(text, ""))
	cleaned = strings.TrimSpace(handleIts.ReplaceAllString(cleaned, ""))
	if handleLiteral.MatchString(cleaned) {
		return cleaned
	}
	if handleLiteral.MatchString(text) {
		return text
	}
	return ""
}

// HandleSkip reports whether the sender is declining to share a handle.
func HandleSkip(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if skipWords[text] {
		return true
	}
	for _, p := range skipPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

var cancelWords = map[string]bool{"cancel": true, "stop": true, "quit": true, "nevermind": true}

// CancelWord reports whether text aborts an in-progress flow.
func CancelWord(text string) bool {
	return cancelWords[strings.ToLower(strings.TrimSpace(text))]
}

var doneWords = map[string]bool{"none": true, "done": true, "finish": true, "no": true, "skip": true}

// RulesDone reports whether text ends rule collection.
func RulesDone(text string) bool {
	return doneWords[strings.ToLower(strings.TrimSpace(text))]
}
