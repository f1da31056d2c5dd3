package domain

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers
const (
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeUpstream     = "UPSTREAM_FAILED"
	CodePersistence  = "PERSISTENCE_FAILED"
	CodeConflict     = "CONFLICT"
	CodeValidation   = "VALIDATION_FAILED"
	CodeCapacity     = "CAPACITY_EXCEEDED"
	CodeInternal     = "INTERNAL"
	CodeTimeout      = "TIMEOUT"
	CodeRateLimited  = "RATE_LIMITED"
)

// Sentinel errors
var (
	ErrBattleNotFound   = errors.New("battle not found")
	ErrRankingNotFound  = errors.New("ranking not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrContactNotFound  = errors.New("contact not found")
	ErrBattleNotPending = errors.New("battle is not pending")
	ErrStaleTransition  = errors.New("battle state changed concurrently")
	ErrQueueFull        = errors.New("notification queue full")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
)

// Error is a classified failure carried through the battle pipeline.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing battle, ranking or usable profile source.
func NotFound(what string, err error) *Error {
	return NewError(CodeNotFound, fmt.Sprintf("%s not found", what), err)
}

// Unauthorized reports a caller acting on a battle they did not start.
func Unauthorized(callerID, battleID string) *Error {
	return NewError(CodeUnauthorized, fmt.Sprintf("user %s may not execute battle %s", callerID, battleID), nil)
}

// Upstream wraps a failure from GitHub, the generator or the evaluator.
func Upstream(service string, err error) *Error {
	return NewError(CodeUpstream, fmt.Sprintf("%s request failed", service), err)
}

// RateLimited is an upstream failure caused by throttling.
func RateLimited(service string, err error) *Error {
	return NewError(CodeRateLimited, fmt.Sprintf("%s rate limit exceeded", service), err)
}

// Persistence wraps a storage write failure.
func Persistence(operation string, err error) *Error {
	return NewError(CodePersistence, fmt.Sprintf("storage error during %s", operation), err)
}

// Conflict reports a battle that is not in the expected state.
func Conflict(battleID string, status BattleStatus) *Error {
	return NewError(CodeConflict, fmt.Sprintf("battle %s is %s", battleID, status), ErrBattleNotPending)
}

// Validation reports rejected input.
func Validation(field, reason string) *Error {
	return NewError(CodeValidation, fmt.Sprintf("validation failed for %s: %s", field, reason), ErrInvalidRequest)
}

// Capacity reports that no execution slot is available.
func Capacity(limit int) *Error {
	return NewError(CodeCapacity, fmt.Sprintf("battle capacity reached (%d running)", limit), nil)
}

// CodeOf returns the classification code of err, or CodeInternal.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrBattleNotFound), errors.Is(err, ErrRankingNotFound), errors.Is(err, ErrProfileNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidRequest):
		return CodeValidation
	}
	return CodeInternal
}
