// Package structured extracts and validates JSON from model responses.
// Models wrap JSON in prose and code fences; the extraction ladder here
// tries progressively looser strategies before giving up.
package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const DefaultMaxRetries = 3

// Error reports exhausted retries against a schema.
type Error struct {
	Retries int
	Details string
}

func (e *Error) Error() string {
	return fmt.Sprintf("structured output failed after %d retries: %s", e.Retries, e.Details)
}

// Options tune extraction. Pattern, when set, is tried right after a
// direct parse; its first capture group (or the whole match) must be
// JSON.
type Options struct {
	Pattern *regexp.Regexp
}

// Validator holds a compiled JSON Schema.
type Validator struct {
	schema     *jsonschema.Schema
	schemaJSON json.RawMessage
	name       string
	strict     bool
}

// NewValidator compiles a JSON Schema. Strict mode forbids unknown
// properties by injecting additionalProperties: false into every object
// schema before compilation.
func NewValidator(name string, schemaJSON json.RawMessage, strict bool) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}
	if strict {
		injectStrict(doc)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema, schemaJSON: schemaJSON, name: name, strict: strict}, nil
}

func (v *Validator) Name() string                { return v.name }
func (v *Validator) SchemaJSON() json.RawMessage { return v.schemaJSON }

// injectStrict walks a decoded schema document and closes every object
// schema that does not already constrain additional properties.
func injectStrict(doc any) {
	m, ok := doc.(map[string]any)
	if !ok {
		return
	}
	if t, ok := m["type"]; ok && t == "object" {
		if _, has := m["additionalProperties"]; !has {
			m["additionalProperties"] = false
		}
	}
	for _, key := range []string{"properties", "$defs", "definitions"} {
		if sub, ok := m[key].(map[string]any); ok {
			for _, v := range sub {
				injectStrict(v)
			}
		}
	}
	if items, ok := m["items"]; ok {
		injectStrict(items)
	}
}

// Process extracts a JSON value from text and, when v is non-nil,
// validates it. It returns the extracted JSON string and the parsed
// value. Processing text that is already valid JSON returns that same
// value.
func Process(text string, v *Validator, opts Options) (string, any, error) {
	jsonStr, ok := extract(text, opts.Pattern)
	if !ok {
		return "", nil, fmt.Errorf("response does not contain valid JSON")
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return "", nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if v != nil {
		if err := v.schema.Validate(parsed); err != nil {
			return "", nil, fmt.Errorf("schema validation failed: %w", err)
		}
	}
	return jsonStr, parsed, nil
}

// extract tries, in order: the whole text, the caller pattern, a
// ```json fence, a bare fence, then a balanced {…} or […] scan.
func extract(text string, pattern *regexp.Regexp) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if isJSON(trimmed) {
		return trimmed, true
	}

	if pattern != nil {
		if m := pattern.FindStringSubmatch(text); m != nil {
			candidate := m[0]
			if len(m) > 1 {
				candidate = m[1]
			}
			candidate = strings.TrimSpace(candidate)
			if isJSON(candidate) {
				return candidate, true
			}
		}
	}

	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate, true
			}
		}
	}

	if idx := strings.Index(text, "```"); idx >= 0 {
		start := idx + 3
		if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
			start += nl + 1
			if end := strings.Index(text[start:], "```"); end >= 0 {
				candidate := strings.TrimSpace(text[start : start+end])
				if isJSON(candidate) {
					return candidate, true
				}
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate, true
			}
		}
	}

	return "", false
}

func isJSON(s string) bool {
	if s == "" {
		return false
	}
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced returns the shortest balanced JSON structure at the
// start of s, respecting string literals and escapes.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}
	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// Generator produces one model response for a prompt.
type Generator func(ctx context.Context, prompt string) (string, error)

// GenerateValidated runs the generate-extract-validate loop. The prompt
// carries an instruction block naming and embedding the schema; failed
// attempts append the validation error before retrying. maxRetries <= 0
// uses DefaultMaxRetries. Exhaustion yields *Error.
func GenerateValidated(ctx context.Context, gen Generator, prompt string, v *Validator, maxRetries int) (string, any, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	full := prompt + "\n\n" + schemaBlock(v)
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		text, err := gen(ctx, full)
		if err != nil {
			return "", nil, fmt.Errorf("generate: %w", err)
		}
		jsonStr, parsed, procErr := Process(text, v, Options{})
		if procErr == nil {
			return jsonStr, parsed, nil
		}
		lastErr = procErr
		full = prompt + "\n\n" + schemaBlock(v) +
			fmt.Sprintf("\n\nYour previous response was invalid: %s\nRespond again with valid JSON matching the schema.", procErr)
	}
	return "", nil, &Error{Retries: maxRetries, Details: lastErr.Error()}
}

func schemaBlock(v *Validator) string {
	return fmt.Sprintf("Respond with a single JSON value conforming to the %q schema:\n```json\n%s\n```\nOutput the JSON only.", v.Name(), v.SchemaJSON())
}
