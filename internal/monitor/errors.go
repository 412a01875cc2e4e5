package monitor

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen marks a target skipped because its circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

// ErrNotFound is returned by stores for unknown targets.
var ErrNotFound = errors.New("not found")

// ConfigError reports a bad target source. It is fatal at startup.
type ConfigError struct {
	Source string
	Line   int
	URL    string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Line > 0 && e.URL != "":
		return fmt.Sprintf("config %s:%d: %s: %s", e.Source, e.Line, e.URL, e.Reason)
	case e.Line > 0:
		return fmt.Sprintf("config %s:%d: %s", e.Source, e.Line, e.Reason)
	default:
		return fmt.Sprintf("config %s: %s", e.Source, e.Reason)
	}
}

// TransportReason classifies a transport failure.
type TransportReason string

// Transport failure reasons.
const (
	ReasonTimeout      TransportReason = "TIMEOUT"
	ReasonConnection   TransportReason = "CONNECTION"
	ReasonHTTPStatus   TransportReason = "HTTP_STATUS"
	ReasonNoIdentifier TransportReason = "NO_IDENTIFIER"
	ReasonRender       TransportReason = "RENDER"
	ReasonCanceled     TransportReason = "CANCELED"
)

// TransportError is a failed probe attempt.
type TransportError struct {
	Reason     TransportReason
	StatusCode int
	URL        string
	Err        error
}

func (e *TransportError) Error() string {
	msg := string(e.Reason)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.StatusCode)
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.URL)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "transport " + msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retriable reports whether another attempt may succeed: timeouts and 5xx.
func (e *TransportError) Retriable() bool {
	switch e.Reason {
	case ReasonTimeout:
		return true
	case ReasonHTTPStatus:
		return e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// ParseError reports malformed structured platform data.
type ParseError struct {
	Platform Platform
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s data: %v", e.Platform, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
