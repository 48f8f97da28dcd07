package planner

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ackMaxRunes bounds acknowledgement length. Messages at or above the bound
// are never acknowledgements regardless of content.
const ackMaxRunes = 15

// affirmatives is the fixed multi-language confirmation vocabulary. Entries
// are normalized (lowercase, punctuation stripped). Multi-word entries match
// the whole message; single-word entries also combine, so "ok thanks" and
// "sì grazie" match without their own entries.
var affirmatives = map[string]struct{}{
	// English
	"yes": {}, "y": {}, "yeah": {}, "yep": {}, "yup": {}, "ok": {},
	"okay": {}, "sure": {}, "fine": {}, "alright": {}, "proceed": {},
	"continue": {}, "confirm": {}, "confirmed": {}, "please": {},
	"thanks": {}, "thank you": {}, "go ahead": {}, "do it": {},
	"sounds good": {}, "yes please": {}, "please do": {},
	// Spanish
	"si": {}, "sí": {}, "claro": {}, "vale": {}, "dale": {}, "gracias": {},
	"por favor": {},
	// Italian
	"sì": {}, "certo": {}, "grazie": {}, "prego": {}, "va bene": {},
	// French
	"oui": {}, "ouais": {}, "merci": {}, "d accord": {},
	// German
	"ja": {}, "jawohl": {}, "klar": {}, "genau": {}, "danke": {},
	"bitte": {}, "mach weiter": {},
	// Portuguese
	"sim": {}, "obrigado": {}, "obrigada": {},
	// Other
	"da": {}, "davai": {}, "tak": {}, "hai": {},
}

// webIntentTokens flag messages that ask for fresh information from the web.
// A short message carrying one of these keeps its force_web_search flag.
var webIntentTokens = map[string]struct{}{
	"search": {}, "google": {}, "web": {}, "internet": {}, "online": {},
	"news": {}, "latest": {}, "lookup": {}, "find": {}, "look": {},
	"browse": {}, "url": {}, "website": {},
	"cerca": {}, "busca": {}, "buscar": {}, "suche": {}, "recherche": {},
	"cherche": {},
}

// IsAcknowledgement reports whether the message is a bare confirmation:
// shorter than ackMaxRunes and composed entirely of affirmative vocabulary.
// Whether an acknowledgement resumes anything depends on the session having
// a plan in waiting_user; that check belongs to the caller.
func IsAcknowledgement(message string) bool {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" || utf8.RuneCountInString(trimmed) >= ackMaxRunes {
		return false
	}
	norm := normalizeMessage(trimmed)
	if norm == "" {
		return false
	}
	if _, ok := affirmatives[norm]; ok {
		return true
	}
	for _, tok := range strings.Fields(norm) {
		if _, ok := affirmatives[tok]; !ok {
			return false
		}
	}
	return true
}

// hasWebIntent reports whether any token of the message is a web-intent
// keyword.
func hasWebIntent(message string) bool {
	for _, tok := range strings.Fields(normalizeMessage(message)) {
		if _, ok := webIntentTokens[tok]; ok {
			return true
		}
	}
	return false
}

// normalizeMessage lowercases the message, replaces punctuation and symbols
// with spaces, and collapses runs of whitespace.
func normalizeMessage(message string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, message)
	return strings.Join(strings.Fields(mapped), " ")
}
