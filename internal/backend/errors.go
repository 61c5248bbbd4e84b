package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAlreadyExists is matched by an APIError whose code reports a
	// uniqueness violation on the tile's SKU.
	ErrAlreadyExists = errors.New("tile already exists")

	// ErrUnreachable wraps transport failures (DNS, refused, timeout).
	ErrUnreachable = errors.New("backend unreachable")
)

const codeAlreadyExists = "alreadyexists"

// APIError is a failed backend call reduced to a human-readable message.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Status >= 400 {
		return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
	}
	return e.Message
}

func (e *APIError) Is(target error) bool {
	return target == ErrAlreadyExists && e.Code == codeAlreadyExists
}

// Describe converts any error returned by Client into the message shown to
// an operator.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, ErrUnreachable) {
		return "Network error. Please check your internet connection."
	}
	return err.Error()
}

// Envelope is the structured reply shape {ok, code, message}. When a backend
// answers with it, it takes precedence over every legacy shape.
type Envelope struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func parseEnvelope(body []byte) (*Envelope, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, false
	}
	raw, ok := probe["ok"]
	if !ok {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env.OK); err != nil {
		return nil, false
	}
	if c, ok := probe["code"]; ok {
		env.Code = scalarString(c)
	}
	if m, ok := probe["message"]; ok {
		env.Message = scalarString(m)
	}
	return &env, true
}

// Message extracts an error message from a reply body. Shapes are checked in
// a fixed order: envelope, errors list, message, error, title (+ errors), a
// plain string, and finally the compact JSON itself.
func Message(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return objectMessage(t, trimmed)
	default:
		return compact(trimmed)
	}
}

func objectMessage(m map[string]any, raw []byte) string {
	if env, ok := parseEnvelope(raw); ok && !env.OK {
		if env.Message != "" {
			return env.Message
		}
		if env.Code != "" {
			return env.Code
		}
	}
	if list, ok := m["errors"].([]any); ok {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	}
	if s, ok := m["message"].(string); ok {
		return s
	}
	if s, ok := m["error"].(string); ok {
		return s
	}
	if s, ok := m["title"].(string); ok {
		if errs, present := m["errors"]; present && errs != nil {
			return s + ": " + stringify(errs)
		}
		return s
	}
	return compact(raw)
}

// stringify renders nested error payloads. Field maps of message lists
// (ASP.NET problem details) are flattened in key order.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, stringify(t[k]))
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func compact(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// errorField returns the non-empty "error" string of an object reply.
func errorField(body []byte) (string, bool) {
	var obj struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &obj); err != nil {
		return "", false
	}
	switch e := obj.Error.(type) {
	case nil:
		return "", false
	case string:
		return e, e != ""
	case bool:
		return "request failed", e
	default:
		return stringify(e), true
	}
}

// falsy mirrors the loose truthiness the image services rely on: an empty
// body or a JSON null/false/0/"" means nothing was produced.
func falsy(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	switch string(trimmed) {
	case "", "null", "false", "0", `""`:
		return true
	}
	return false
}
