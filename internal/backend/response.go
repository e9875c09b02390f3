package backend

import (
	"encoding/json"
	"net/http"
)

// Response is the normalized result of a backend call. Exactly one of Data
// and Err is meaningful: Data on success, Err on failure.
type Response struct {
	StatusCode int
	Data       json.RawMessage
	Err        *Error
}

// OK reports whether the call succeeded.
func (r *Response) OK() bool {
	return r.Err == nil
}

// Error is the backend's error payload as a tagged variant: either a plain
// message or a field-keyed object whose values keep their raw JSON shape
// (lists of strings for most fields, sub-category objects for password).
type Error struct {
	Plain  string
	Fields map[string]json.RawMessage

	raw json.RawMessage
}

// IsPlain reports whether the error is a bare message rather than a
// field-keyed object.
func (e *Error) IsPlain() bool {
	return e.Fields == nil
}

// String renders the error for logs and plain passthrough. Structured
// errors are rendered as compact JSON.
func (e *Error) String() string {
	if e.IsPlain() {
		return e.Plain
	}
	b, err := json.Marshal(e.Fields)
	if err != nil {
		return "invalid error payload"
	}
	return string(b)
}

// Raw returns the full response body the error was parsed from, for
// callers that need sibling fields such as retry_after_seconds.
func (e *Error) Raw() json.RawMessage {
	return e.raw
}

// Normalize maps an HTTP status plus raw body onto the Response contract.
// The backend reports failures either under an "error" or "errors" key or
// by status code alone.
func Normalize(status int, raw []byte) *Response {
	resp := &Response{StatusCode: status}

	var body map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = nil
		}
	}

	errVal, hasErr := body["error"]
	if !hasErr {
		errVal, hasErr = body["errors"]
	}

	if hasErr {
		resp.Err = parseError(errVal, raw)
		return resp
	}
	if status >= http.StatusBadRequest {
		resp.Err = &Error{Plain: http.StatusText(status), raw: raw}
		if len(raw) > 0 && body == nil {
			// non-JSON error body, surface it verbatim
			resp.Err.Plain = string(raw)
		}
		return resp
	}

	resp.Data = raw
	return resp
}

func parseError(val json.RawMessage, raw []byte) *Error {
	var plain string
	if err := json.Unmarshal(val, &plain); err == nil {
		return &Error{Plain: plain, raw: raw}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(val, &fields); err == nil {
		return &Error{Fields: fields, raw: raw}
	}

	// unexpected shape (e.g. bare list), keep it verbatim
	return &Error{Plain: string(val), raw: raw}
}
