package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in     string
		region string
		want   string
	}{
		{"+15559999999", "US", "+15559999999"},
		{"(555) 999-9999", "US", "+15559999999"},
		{"555.999.9999", "US", "+15559999999"},
		{"+44 20 7946 0958", "US", "+442079460958"},
		{"020 7946 0958", "GB", "+442079460958"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in, tc.region)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "hello", "yes", "12"} {
		_, err := Normalize(in, "US")
		assert.ErrorIs(t, err, ErrInvalidIdentity, "input %q", in)
	}
}

func TestExtractFromText(t *testing.T) {
	assert.Equal(t, "+15559999999", ExtractFromText("yeah invite +15559999999 please", "US"))
	assert.Equal(t, "+15559999999", ExtractFromText("her number is 555-999-9999", "US"))
	assert.Equal(t, "", ExtractFromText("no numbers here", "US"))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "+1555***9999", Mask("+15559999999"))
	assert.Equal(t, "+1234", Mask("+1234"))
}

func TestVCardMatchesTypedNumber(t *testing.T) {
	// A shared contact card and a hand-typed number must land on the same
	// canonical identity.
	vcard := "BEGIN:VCARD\nVERSION:3.0\nFN:Alice Vega\nTEL;TYPE=CELL:(555) 999-9999\nEMAIL:alice@example.com\nEND:VCARD\n"
	card := ParseVCard(vcard, "US")

	typed, err := Normalize("555 999 9999", "US")
	require.NoError(t, err)

	assert.Equal(t, typed, card.Identity)
	assert.Equal(t, "Alice Vega", card.Name)
	assert.Equal(t, "alice@example.com", card.Email)
}

func TestVCardPrefersMobileLine(t *testing.T) {
	vcard := "BEGIN:VCARD\nVERSION:3.0\nFN:Bob\nTEL;TYPE=WORK:+15551110000\nTEL;TYPE=CELL:+15552220000\nEND:VCARD\n"
	card := ParseVCard(vcard, "US")
	assert.Equal(t, "+15552220000", card.Identity)
}

func TestParseVCardFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contact.vcf")
	content := "BEGIN:VCARD\nVERSION:3.0\nFN:Cara\nTEL:+15553330000\nEND:VCARD\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	card, err := ParseVCardFile(path, "US")
	require.NoError(t, err)
	assert.Equal(t, "Cara", card.Name)
	assert.Equal(t, "+15553330000", card.Identity)
}
