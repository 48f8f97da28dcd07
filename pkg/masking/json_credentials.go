package masking

import (
	"encoding/json"
	"strings"
)

// MaskedCredentialValue replaces values of credential-named keys in JSON
// tool output.
const MaskedCredentialValue = "[MASKED_CREDENTIAL]"

var credentialKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"pwd":           true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"id_token":      true,
	"secret":        true,
	"client_secret": true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"private_key":   true,
	"credentials":   true,
}

// JSONCredentialMasker masks values of credential-named keys anywhere in a
// JSON document. Tool servers echo connection settings and header blocks in
// their results; this catches values the generic regex sweep misses.
type JSONCredentialMasker struct{}

// Name returns the unique identifier for this masker.
func (m *JSONCredentialMasker) Name() string { return "json_credentials" }

// AppliesTo performs a lightweight check on whether this masker should
// process the data.
func (m *JSONCredentialMasker) AppliesTo(data string) bool {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	lower := strings.ToLower(trimmed)
	for key := range credentialKeys {
		if strings.Contains(lower, `"`+key+`"`) {
			return true
		}
	}
	return false
}

// Mask applies JSON credential masking. Returns the original data on parse
// or processing errors so the regex sweep still runs over it.
func (m *JSONCredentialMasker) Mask(data string) string {
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return data
	}
	masked, changed := maskValue(doc, false)
	if !changed {
		return data
	}
	out, err := json.Marshal(masked)
	if err != nil {
		return data
	}
	return string(out)
}

// maskValue walks the decoded document. sensitive is true once any ancestor
// key is credential-named, so whole credential objects are scrubbed.
func maskValue(v any, sensitive bool) (any, bool) {
	switch tv := v.(type) {
	case map[string]any:
		changed := false
		for key, val := range tv {
			next, c := maskValue(val, sensitive || credentialKeys[normalizeKey(key)])
			if c {
				tv[key] = next
				changed = true
			}
		}
		return tv, changed
	case []any:
		changed := false
		for i, val := range tv {
			next, c := maskValue(val, sensitive)
			if c {
				tv[i] = next
				changed = true
			}
		}
		return tv, changed
	case nil:
		return tv, false
	default:
		if sensitive {
			return MaskedCredentialValue, true
		}
		return tv, false
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "-", "_"))
}
