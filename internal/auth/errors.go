package auth

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrDeactivated              = errors.New("account has been deactivated")
	ErrIncorrectCurrentPassword = errors.New("current password is incorrect")
	ErrForbidden                = errors.New("insufficient permissions")
	ErrAccountNotFound          = errors.New("account not found")
	ErrVersionConflict          = errors.New("account was modified concurrently")
	ErrTokenMalformed           = errors.New("malformed token")
	ErrTokenExpired             = errors.New("token has expired")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// DuplicateIdentityError reports which identity key collided.
type DuplicateIdentityError struct {
	Field string
}

func (e *DuplicateIdentityError) Error() string {
	if e.Field == "email" {
		return "email already registered"
	}
	return "username already taken"
}

type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account temporarily locked due to too many failed attempts"
}

type UnauthenticatedReason string

const (
	ReasonMissingCredential UnauthenticatedReason = "missing credential"
	ReasonInvalidCredential UnauthenticatedReason = "invalid credential"
	ReasonExpiredCredential UnauthenticatedReason = "expired credential"
	ReasonAccountNotFound   UnauthenticatedReason = "account not found"
	ReasonDeactivated       UnauthenticatedReason = "deactivated"
	ReasonLocked            UnauthenticatedReason = "locked"
)

type UnauthenticatedError struct {
	Reason UnauthenticatedReason
	Err    error
}

func (e *UnauthenticatedError) Error() string {
	return "unauthenticated: " + string(e.Reason)
}

func (e *UnauthenticatedError) Unwrap() error {
	return e.Err
}

func unauthenticated(reason UnauthenticatedReason, err error) error {
	return &UnauthenticatedError{Reason: reason, Err: err}
}
