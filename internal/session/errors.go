package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roundcast/backend/internal/media"
	"github.com/roundcast/backend/internal/relay"
	"github.com/roundcast/backend/internal/repositories"
	"github.com/roundcast/backend/internal/sources"
)

// Kind classifies state machine failures.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindSessionConflict   Kind = "session_conflict"
	KindRelay             Kind = "relay"
	KindProcessing        Kind = "processing"
	KindProcessingTimeout Kind = "processing_timeout"
	KindFetch             Kind = "fetch"
	KindNotFound          Kind = "not_found"
	KindApply             Kind = "apply"
)

// Sentinels for errors.Is checks against *Error values.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrSessionConflict   = errors.New("session conflict")
	ErrRelay             = errors.New("relay failure")
	ErrProcessing        = errors.New("processing failure")
	ErrProcessingTimeout = errors.New("processing timeout")
	ErrFetch             = errors.New("fetch failure")
	ErrNotFound          = errors.New("not found")
	ErrApply             = errors.New("apply failure")
)

var kindSentinels = map[Kind]error{
	KindInvalidInput:      ErrInvalidInput,
	KindSessionConflict:   ErrSessionConflict,
	KindRelay:             ErrRelay,
	KindProcessing:        ErrProcessing,
	KindProcessingTimeout: ErrProcessingTimeout,
	KindFetch:             ErrFetch,
	KindNotFound:          ErrNotFound,
	KindApply:             ErrApply,
}

// Error is returned by every Machine operation that fails.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Retryable reports whether the user can simply try again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindProcessingTimeout, KindRelay, KindFetch:
		return true
	}
	return false
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func invalidInput(op, msg string) *Error {
	return newError(KindInvalidInput, op, msg, nil)
}

// classify maps collaborator errors onto the taxonomy. ctx decides whether a
// failure is reported as a timeout.
func classify(ctx context.Context, op string, err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(KindProcessingTimeout, op, "took too long", err)
	}
	switch {
	case errors.Is(err, repositories.ErrNotFound), errors.Is(err, sources.ErrSourceMissing):
		return newError(KindNotFound, op, "not found", err)
	case errors.Is(err, sources.ErrInvalidURL):
		return newError(KindInvalidInput, op, "that link does not look like an http(s) URL", err)
	case errors.Is(err, sources.ErrFetch):
		return newError(KindFetch, op, "download failed", err)
	case errors.Is(err, relay.ErrRelay), errors.Is(err, relay.ErrDestinationUnset):
		return newError(KindRelay, op, "publishing failed", err)
	case errors.Is(err, media.ErrInvalidMedia), errors.Is(err, media.ErrUnknownEffect):
		return newError(KindInvalidInput, op, "unsupported video", err)
	}
	return newError(KindProcessing, op, "processing failed", err)
}

// UserMessage renders err for the end user. Retryable failures invite
// another attempt.
func UserMessage(err error) string {
	var typed *Error
	if !errors.As(err, &typed) {
		return "Something went wrong. Please try again."
	}
	msg := describe(typed)
	if typed.Retryable() {
		msg += " Please try again."
	}
	return msg
}

func describe(typed *Error) string {
	switch typed.Kind {
	case KindInvalidInput:
		if typed.Msg != "" {
			return capitalise(typed.Msg) + "."
		}
		return "That input is not supported here."
	case KindSessionConflict:
		return "You already have a video note in progress. Apply or cancel it first."
	case KindRelay:
		return "Could not publish the video note."
	case KindProcessing:
		return "Could not process that video. Try another one."
	case KindProcessingTimeout:
		return "Processing took too long and the edit was discarded."
	case KindFetch:
		return "Could not download that link."
	case KindNotFound:
		return "That item no longer exists."
	case KindApply:
		return "Could not save your video note. Your previous version is unchanged."
	}
	return "Something went wrong."
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
