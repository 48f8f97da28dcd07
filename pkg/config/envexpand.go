package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax: {{.VAR_NAME}}. Template syntax is used instead of $VAR so that
// literal dollar signs survive untouched; they show up routinely in masking
// regexes ("^secret.*$"), IMAP passwords and shell snippets inside tool
// server args.
//
// Examples:
//   - api_key_env value stays an env var NAME; {{.DATABASE_URL}} becomes the
//     variable's VALUE at load time
//   - "{{.SMTP_HOST}}:{{.SMTP_PORT}}" expands both variables
//
// Missing variables expand to the empty string; required-field validation
// catches what must not be empty. Malformed templates pass the content
// through unchanged so the YAML parser can produce the clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
