package errnorm

import (
	"net/http"
	"regexp"
	"strings"
)

const (
	AbortedMessage    = "Request cancelled."
	NetworkMessage    = "Network error. Check your connection and try again."
	TimeoutMessage    = "The request timed out. Please try again."
	EmptyReplyMessage = "The assistant returned an empty response."

	maxFragmentLen = 500
	maxDisplayLen  = 200
)

var statusMessages = map[int]string{
	http.StatusBadRequest:            "The request could not be processed.",
	http.StatusUnauthorized:          "Your session has expired. Please sign in again.",
	http.StatusForbidden:             "You do not have permission to do that.",
	http.StatusNotFound:              "The conversation could not be found.",
	http.StatusRequestTimeout:        "The server took too long to respond. Please try again.",
	http.StatusRequestEntityTooLarge: "Your message is too long.",
	http.StatusTooManyRequests:       "Too many requests. Please wait a moment and try again.",
}

const (
	serverErrorMessage = "The assistant is unavailable right now. Please try again later."
	defaultMessage     = "Something went wrong. Please try again."
	noStatusMessage    = "Unexpected response from the server."
)

// StatusMessage returns the generic message for an HTTP status.
func StatusMessage(status int) string {
	if status <= 0 {
		return noStatusMessage
	}
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	if status >= 500 && status <= 599 {
		return serverErrorMessage
	}
	return defaultMessage
}

// leakMarkers flag text that exposes server internals.
var leakMarkers = []string{
	"traceback", "stack", "trace", "exception", "sql", "undefined", "null",
	"typeerror", "nonetype", "referenceerror", "syntaxerror", "keyerror",
	"attributeerror", "<html", "<!doctype", "<script", "</",
}

var markupTag = regexp.MustCompile(`<\s*/?\s*[a-zA-Z][a-zA-Z0-9-]*(\s[^<>]*)?/?>`)

func leaksInternals(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range leakMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return markupTag.MatchString(s)
}

// isMarkupDocument reports whether s is an HTML page rather than a message.
func isMarkupDocument(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}
