package identity

import (
	"os"
	"strings"
)

// Card holds the fields extracted from a contact-card attachment.
type Card struct {
	Name     string
	Identity string // canonical E.164
	Email    string
}

// ParseVCard extracts a display name and the first usable phone number from
// vCard 3.0/4.0 content, preferring CELL/MOBILE TEL lines. The phone is
// normalized; lines that fail normalization are skipped.
func ParseVCard(content, region string) Card {
	var card Card
	haveMobile := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "FN:"):
			card.Name = strings.TrimSpace(line[3:])

		case strings.HasPrefix(strings.ToUpper(line), "TEL"):
			upper := strings.ToUpper(line)
			mobile := strings.Contains(upper, "CELL") || strings.Contains(upper, "MOBILE")
			if card.Identity != "" && !mobile {
				continue
			}
			if haveMobile && !mobile {
				continue
			}
			_, value, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			normalized, err := Normalize(strings.TrimSpace(value), region)
			if err != nil {
				continue
			}
			card.Identity = normalized
			haveMobile = mobile

		case strings.HasPrefix(strings.ToUpper(line), "EMAIL"):
			if _, value, found := strings.Cut(line, ":"); found && card.Email == "" {
				card.Email = strings.TrimSpace(value)
			}
		}
	}
	return card
}

// ParseVCardFile reads and parses a vCard attachment from disk.
func ParseVCardFile(path, region string) (Card, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Card{}, err
	}
	return ParseVCard(string(content), region), nil
}
