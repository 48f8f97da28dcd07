package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAcknowledgement(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"plain yes", "yes", true},
		{"uppercase with punctuation", "OK!", true},
		{"italian with comma", "sì, grazie", true},
		{"german combination", "Ja, bitte.", true},
		{"italian phrase", "va bene", true},
		{"token combination", "ok thanks", true},
		{"surrounding whitespace", "  yes  ", true},
		{"french", "oui merci", true},
		{"negative", "no", false},
		{"negative with affirmative token", "no grazie", false},
		{"non-affirmative token", "yes but wait", false},
		{"fifteen runes exactly", "yes yes yes yes", false},
		{"long message", "that sounds great, please go ahead with it", false},
		{"empty", "", false},
		{"punctuation only", "?!", false},
		{"question", "really?", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAcknowledgement(tc.message))
		})
	}
}

func TestHasWebIntent(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"explicit search", "search for ACME filings", true},
		{"news keyword", "what's the latest news", true},
		{"lookup keyword", "look this up", true},
		{"italian", "cerca informazioni su ACME", true},
		{"plain chat", "hello there", false},
		{"no keywords", "what do you think about this", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, hasWebIntent(tc.message))
		})
	}
}

func TestNormalizeMessage(t *testing.T) {
	assert.Equal(t, "sì grazie", normalizeMessage("Sì, Grazie!!"))
	assert.Equal(t, "do it", normalizeMessage("  Do   it...  "))
	assert.Equal(t, "", normalizeMessage("?!,"))
}

func TestEffectiveForce(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		requested bool
		want      bool
	}{
		{"not requested", "search for ACME", false, false},
		{"acknowledgement", "ok", true, false},
		{"short without intent", "hello", true, false},
		{"short with intent", "search ACME", true, true},
		{"long message", "tell me about the weather tomorrow", true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, effectiveForce(tc.message, tc.requested))
		})
	}
}
