package domain

import (
	"errors"
	"strings"
)

// Category groups error codes by how a caller should react to them.
type Category string

const (
	CategoryStructural Category = "structural" // malformed input, bad signature
	CategoryTemporal   Category = "temporal"   // expired, stale, not yet valid
	CategorySecurity   Category = "security"   // revoked, reuse, not authorized
	CategoryDependency Category = "dependency" // store or collaborator failure
)

// Code is a stable, machine readable error identifier.
type Code string

const (
	CodeMalformed        Code = "MALFORMED"
	CodeSignatureInvalid Code = "SIGNATURE_INVALID"
	CodeExpired          Code = "EXPIRED"
	CodeRevoked          Code = "REVOKED"
	CodeTokenReused      Code = "TOKEN_REUSED"
	CodeSessionInactive  Code = "SESSION_INACTIVE"
	CodeNotAuthorized    Code = "NOT_AUTHORIZED"
	CodeStaleAssertion   Code = "STALE_ASSERTION"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeInvalidPolicy    Code = "INVALID_POLICY"
	CodeInvalidRole      Code = "INVALID_ROLE"
	CodeRoleCycle        Code = "ROLE_CYCLE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeConflict         Code = "CONFLICT"
)

// Error is the engine's closed error type. Two errors are the same error
// (for errors.Is) when their codes match, so wrapped and re-messaged copies
// of a sentinel still compare equal to it.
type Error struct {
	Code     Code
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrMalformed        = &Error{Code: CodeMalformed, Category: CategoryStructural, Message: "malformed token"}
	ErrSignatureInvalid = &Error{Code: CodeSignatureInvalid, Category: CategoryStructural, Message: "invalid token signature"}
	ErrExpired          = &Error{Code: CodeExpired, Category: CategoryTemporal, Message: "token expired"}
	ErrRevoked          = &Error{Code: CodeRevoked, Category: CategorySecurity, Message: "token revoked"}
	ErrTokenReused      = &Error{Code: CodeTokenReused, Category: CategorySecurity, Message: "refresh token reuse detected"}
	ErrSessionInactive  = &Error{Code: CodeSessionInactive, Category: CategorySecurity, Message: "session is not active"}
	ErrNotAuthorized    = &Error{Code: CodeNotAuthorized, Category: CategorySecurity, Message: "not authorized"}
	ErrStaleAssertion   = &Error{Code: CodeStaleAssertion, Category: CategoryTemporal, Message: "identity assertion is stale"}
	ErrStoreUnavailable = &Error{Code: CodeStoreUnavailable, Category: CategoryDependency, Message: "store unavailable"}
	ErrInvalidPolicy    = &Error{Code: CodeInvalidPolicy, Category: CategoryStructural, Message: "invalid policy"}
	ErrInvalidRole      = &Error{Code: CodeInvalidRole, Category: CategoryStructural, Message: "invalid role"}
	ErrRoleCycle        = &Error{Code: CodeRoleCycle, Category: CategoryStructural, Message: "role inheritance cycle"}
	ErrNotFound         = &Error{Code: CodeNotFound, Category: CategoryStructural, Message: "not found"}
	ErrInvalidRequest   = &Error{Code: CodeInvalidRequest, Category: CategoryStructural, Message: "invalid request"}
	ErrConflict         = &Error{Code: CodeConflict, Category: CategoryStructural, Message: "conflict"}
)

// Wrap returns a copy of sentinel carrying cause.
func Wrap(sentinel *Error, cause error) error {
	return &Error{Code: sentinel.Code, Category: sentinel.Category, Message: sentinel.Message, Err: cause}
}

// WithMessage returns a copy of sentinel with a more specific message.
func WithMessage(sentinel *Error, msg string) error {
	return &Error{Code: sentinel.Code, Category: sentinel.Category, Message: msg}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// CategoryOf classifies err. Anything outside the taxonomy is treated as a
// dependency failure.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return CategoryStructural
	}
	return CategoryDependency
}

// PublicMessage is the text safe to show a caller. Authorization outcomes
// collapse to "not authorized" so responses never reveal whether a resource
// exists.
func PublicMessage(err error) string {
	switch CodeOf(err) {
	case CodeNotAuthorized, CodeNotFound, CodeSessionInactive:
		return ErrNotAuthorized.Message
	case CodeMalformed, CodeSignatureInvalid, CodeExpired, CodeRevoked, CodeTokenReused:
		return "invalid token"
	case CodeStaleAssertion:
		return ErrStaleAssertion.Message
	case CodeInvalidPolicy, CodeInvalidRole, CodeRoleCycle, CodeInvalidRequest, CodeConflict:
		return err.Error()
	default:
		return "temporarily unavailable"
	}
}

// FieldError is a single problem with an input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every field problem found while validating a
// role, policy or request. It matches the sentinel for its Code.
type ValidationError struct {
	Code   Code
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		if f.Field == "" {
			msgs[i] = f.Message
			continue
		}
		msgs[i] = f.Field + ": " + f.Message
	}
	return strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " ")) + ": " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Add records a problem with field.
func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Err returns e if any problems were recorded and nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
