package services

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the transport layer.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidState
	KindBadInput
	KindUnauthorized
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindBadInput:
		return "bad_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every service in this package.
// Code is the machine-readable value sent to clients.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so wrapped copies of a sentinel still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrEventNotFound       = &Error{Kind: KindNotFound, Code: "event_not_found"}
	ErrRoundNotFound       = &Error{Kind: KindNotFound, Code: "round_not_found"}
	ErrQuestionMissing     = &Error{Kind: KindNotFound, Code: "question_missing"}
	ErrUserNotFound        = &Error{Kind: KindNotFound, Code: "user_not_found"}
	ErrParticipantNotFound = &Error{Kind: KindNotFound, Code: "participant_not_found"}
	ErrRoundClosed         = &Error{Kind: KindInvalidState, Code: "round_closed"}
	ErrRoundIsBank         = &Error{Kind: KindInvalidState, Code: "round_is_bank"}
	ErrAlreadyRevealed     = &Error{Kind: KindInvalidState, Code: "already_revealed"}
	ErrQuestionLocked      = &Error{Kind: KindInvalidState, Code: "question_locked"}
	ErrBadRequest          = &Error{Kind: KindBadInput, Code: "bad_request"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Code: "unauthorized"}
	ErrStorage             = &Error{Kind: KindStorage, Code: "server_error"}
)

func badInput(format string, args ...any) error {
	return &Error{Kind: KindBadInput, Code: ErrBadRequest.Code, Err: fmt.Errorf(format, args...)}
}

func storageError(op string, err error) error {
	return &Error{Kind: KindStorage, Code: ErrStorage.Code, Err: fmt.Errorf("%s: %w", op, err)}
}

// asServiceError returns err unchanged when it is already typed, otherwise
// wraps it as a storage failure.
func asServiceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return storageError(op, err)
}

// KindOf reports the Kind of err, KindStorage for untyped errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStorage
}

// CodeOf reports the client-facing code of err.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrStorage.Code
}
