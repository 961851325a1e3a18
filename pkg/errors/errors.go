package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so sentinels below work
// with errors.Is regardless of message or wrapped cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// HasCode reports whether any error in err's chain is an AppError with code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, &AppError{Code: code})
}

// Common error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	ErrCodeDuplicateRound         = "DUPLICATE_ROUND"
	ErrCodeActiveRoundExists      = "ACTIVE_ROUND_EXISTS"
	ErrCodeRoundNotFound          = "ROUND_NOT_FOUND"
	ErrCodeAlreadySolvedRace      = "ALREADY_SOLVED_RACE"
	ErrCodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrCodeLockNotAcquired        = "LOCK_NOT_ACQUIRED"
	ErrCodeTokenExhausted         = "TOKEN_EXHAUSTED"
)

var (
	ErrDuplicateRound         = New(ErrCodeDuplicateRound, "round already exists for this message")
	ErrActiveRoundExists      = New(ErrCodeActiveRoundExists, "another round is still open in this chat")
	ErrRoundNotFound          = New(ErrCodeRoundNotFound, "round not found")
	ErrAlreadySolvedRace      = New(ErrCodeAlreadySolvedRace, "round was solved before it could be marked inactive")
	ErrInvalidStateTransition = New(ErrCodeInvalidStateTransition, "invalid game state transition")
	ErrLockNotAcquired        = New(ErrCodeLockNotAcquired, "could not acquire lock")
)
