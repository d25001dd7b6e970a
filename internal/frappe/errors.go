package frappe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoEmployee is returned when no Employee record is linked to the
// authenticated user.
var ErrNoEmployee = errors.New("no employee record is linked to the logged-in user")

// ErrNotLoggedIn is returned in oauth2 mode when no token has been stored.
var ErrNotLoggedIn = errors.New("not logged in (run: tta login)")

// RemoteError is a non-2xx answer from the HR backend. Message is the
// user-facing text extracted from the response.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Rejected reports whether the backend refused the content of the request.
// Only the statuses Frappe answers validation errors with count: auth
// failures, throttling and server errors never reached that decision.
func (e *RemoteError) Rejected() bool {
	switch e.Status {
	case http.StatusBadRequest,
		http.StatusConflict,            // DuplicateEntryError
		http.StatusExpectationFailed,   // ValidationError and its subclasses
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// errorBody is the subset of a Frappe error response used for messages.
type errorBody struct {
	Exception      string          `json:"exception"`
	ServerMessages string          `json:"_server_messages"`
	Message        json.RawMessage `json:"message"`
	Exc            string          `json:"exc"`
}

// newRemoteError extracts the most specific message a response carries:
// the exception text, then the server message list, then a plain message,
// then the last traceback line, then the raw body, then the bare status.
func newRemoteError(status int, body []byte) *RemoteError {
	return &RemoteError{Status: status, Message: extractMessage(status, body)}
}

func extractMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		if text != "" {
			return text
		}
		return httpStatus(status)
	}

	if s := strings.TrimSpace(eb.Exception); s != "" {
		return s
	}
	if s := serverMessages(eb.ServerMessages); s != "" {
		return s
	}
	var msg string
	if len(eb.Message) > 0 && json.Unmarshal(eb.Message, &msg) == nil && strings.TrimSpace(msg) != "" {
		return strings.TrimSpace(msg)
	}
	if s := tracebackTail(eb.Exc); s != "" {
		return s
	}
	return httpStatus(status)
}

// serverMessages decodes Frappe's _server_messages: a JSON-encoded list whose
// items are either JSON-encoded {"message": ...} objects or plain strings.
func serverMessages(raw string) string {
	if raw == "" {
		return ""
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return ""
	}
	var out []string
	for _, item := range items {
		var m struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(item), &m); err == nil && m.Message != "" {
			out = append(out, m.Message)
			continue
		}
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}

// tracebackTail returns the last non-empty line of a Python traceback. The
// field may hold the traceback itself or a JSON list of tracebacks.
func tracebackTail(exc string) string {
	if exc == "" {
		return ""
	}
	var list []string
	if err := json.Unmarshal([]byte(exc), &list); err == nil && len(list) > 0 {
		exc = list[len(list)-1]
	}
	lines := strings.Split(strings.TrimSpace(exc), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return ""
}

func httpStatus(status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("HTTP %d %s", status, text)
	}
	return fmt.Sprintf("HTTP %d", status)
}
