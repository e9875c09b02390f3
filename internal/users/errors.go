package users

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"authgate/internal/backend"
)

// Error is the user-facing action error: either a plain message or a map
// of field names to inline messages, never both.
type Error struct {
	Message string
	Fields  map[string]string
}

// MarshalJSON renders the variant the way form clients consume it: a bare
// string or a field-keyed object.
func (e *Error) MarshalJSON() ([]byte, error) {
	if e.Fields != nil {
		return json.Marshal(e.Fields)
	}
	return json.Marshal(e.Message)
}

// Plain wraps a bare message.
func Plain(msg string) *Error {
	return &Error{Message: msg}
}

// FieldErrors wraps a field-keyed message map.
func FieldErrors(fields map[string]string) *Error {
	return &Error{Fields: fields}
}

// signUpFields are the form fields whose backend errors are normalized to
// a single capitalized message each.
var signUpFields = []string{"email", "username", "first_name", "last_name", "phone_number"}

// passwordCategories is the fixed join order for password sub-category
// messages.
var passwordCategories = []string{"short", "upper", "lower", "number", "special"}

// SignUpError normalizes a backend sign-up error payload into stable,
// user-facing messages. Structured payloads become one message per field:
// the first raw string, first letter capitalized and the rest lowercased.
// Password errors are keyed by sub-category and joined in a fixed order;
// with no recognized sub-category the first raw password string is used.
// Non-structured payloads pass through unchanged.
func SignUpError(apiErr *backend.Error) *Error {
	if apiErr == nil {
		return nil
	}
	if apiErr.IsPlain() {
		return Plain(apiErr.Plain)
	}

	fields := make(map[string]string)
	for _, name := range signUpFields {
		raw, ok := apiErr.Fields[name]
		if !ok {
			continue
		}
		if first, ok := firstString(raw); ok {
			fields[name] = capitalize(first)
		}
	}

	if raw, ok := apiErr.Fields["password"]; ok {
		if msg, ok := passwordMessage(raw); ok {
			fields["password"] = msg
		}
	}

	return FieldErrors(fields)
}

// passwordMessage collects the present sub-category messages in fixed
// order, space-joined; with none present it falls back to the first raw
// error string, capitalized.
func passwordMessage(raw json.RawMessage) (string, bool) {
	var categories map[string]string
	if err := json.Unmarshal(raw, &categories); err == nil {
		var msgs []string
		for _, key := range passwordCategories {
			if m := categories[key]; m != "" {
				msgs = append(msgs, m)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, " "), true
		}
	}

	if first, ok := firstString(raw); ok {
		return capitalize(first), true
	}
	return "", false
}

// firstString extracts the first entry of a JSON string list, accepting a
// bare string as a one-element list.
func firstString(raw json.RawMessage) (string, bool) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0], true
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, true
	}
	return "", false
}

// capitalize uppercases the first rune and lowercases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
