package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrRoomFull             = errors.New("room is full")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrRoomBanned           = errors.New("banned from room")
	ErrAccountSuspended     = errors.New("account suspended")
	ErrAlreadyBanned        = errors.New("already banned")
	ErrRateLimited          = errors.New("rate limited")
	ErrBadRequest           = errors.New("bad request")
	ErrInternal             = errors.New("internal error")
)

// SuspendedError reports an active account-level suspension.
type SuspendedError struct {
	Reason string
	Until  time.Time
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("account suspended until %s: %s", e.Until.UTC().Format(time.RFC3339), e.Reason)
}

func (e *SuspendedError) Is(target error) bool { return target == ErrAccountSuspended }

// BannedError reports a room ban with the reason the owner gave.
type BannedError struct {
	Reason string
}

func (e *BannedError) Error() string {
	if e.Reason == "" {
		return ErrRoomBanned.Error()
	}
	return ErrRoomBanned.Error() + ": " + e.Reason
}

func (e *BannedError) Is(target error) bool { return target == ErrRoomBanned }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrBadRequest }

var codes = []struct {
	err  error
	code string
}{
	{ErrAuthenticationFailed, "authentication_failed"},
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrRoomFull, "room_full"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrRoomBanned, "room_banned"},
	{ErrAccountSuspended, "account_suspended"},
	{ErrAlreadyBanned, "already_banned"},
	{ErrRateLimited, "rate_limited"},
	{ErrBadRequest, "bad_request"},
}

// Code maps an error onto the wire error code. Anything outside the
// taxonomy is "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsDomain reports whether err belongs to the recoverable taxonomy, i.e.
// it must not be retried.
func IsDomain(err error) bool {
	return Code(err) != "internal" || errors.Is(err, ErrInternal)
}

// PublicMessage is the text shown to the user. Internal causes are never
// included.
func PublicMessage(err error) string {
	var (
		se *SuspendedError
		be *BannedError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &se):
		return se.Error()
	case errors.As(err, &be):
		return be.Error()
	case errors.As(err, &ve):
		return ve.Error()
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.err.Error()
		}
	}
	return ErrInternal.Error()
}
