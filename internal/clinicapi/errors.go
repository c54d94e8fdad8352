package clinicapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrAuthRequired is returned before any network call when no credential is
// present, and matched by a backend 401.
var ErrAuthRequired = errors.New("authentication required")

// RemoteError is a rejection from the backend. Message is the server's own
// text, kept verbatim.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrAuthRequired && e.Status == http.StatusUnauthorized
}

// remoteError builds a RemoteError from a response body, preferring the
// "message" or "error" field of a JSON envelope over the raw text.
func remoteError(status int, body []byte) *RemoteError {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &env) == nil {
		msg = firstNonEmpty(env.Message, env.Error)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 300 || strings.HasPrefix(msg, "<") {
			msg = ""
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &RemoteError{Status: status, Message: msg}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
