package domain

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrTransientIO = errors.New("transient io")

	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidInput    = errors.New("invalid input")
	ErrRateLimited     = errors.New("rate limited")
)

// Wire codes for actor-only rejections.
const (
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeUnavailable     = "unavailable"
	CodeTransientIO     = "transient_io"
	CodeInvalidIdentity = "invalid_identity"
	CodeBadPayload      = "bad_payload"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrTransientIO):
		return CodeTransientIO
	case errors.Is(err, ErrInvalidIdentity):
		return CodeInvalidIdentity
	case errors.Is(err, ErrInvalidInput):
		return CodeBadPayload
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	}
	return CodeInternal
}

// Result is what the originating actor gets back; it is never broadcast.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func Ok(msg string) Result { return Result{Success: true, Message: msg} }

func Fail(err error) Result { return Result{Success: false, Message: err.Error()} }
