// Package apperr defines the coded errors shared by the stores, the recovery
// flow and the upload orchestrator, and maps them to user-facing messages.
package apperr

import "errors"

// Code is a machine-readable error category.
type Code string

const (
	CodeDuplicateIdentity  Code = "duplicate_identity"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeNotFound           Code = "not_found"
	CodeForbidden          Code = "forbidden"
	CodeNoFile             Code = "no_file"
	CodeInvalidCode        Code = "invalid_code"
	CodeExpired            Code = "expired"
	CodeProviderFailure    Code = "provider_failure"
	CodeNoAccount          Code = "no_account"
	CodeInvalidState       Code = "invalid_state"
)

// Error is a domain error carrying a code and an optional cause.
type Error struct {
	Code    Code
	Message string // internal message, for logs
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks. Matching is by code, so wrapped errors
// created with New/Wrap match these too.
var (
	DuplicateIdentity  = New(CodeDuplicateIdentity, "username or email already exists")
	InvalidCredentials = New(CodeInvalidCredentials, "invalid credentials")
	NotFound           = New(CodeNotFound, "not found")
	Forbidden          = New(CodeForbidden, "forbidden")
	NoFile             = New(CodeNoFile, "no file supplied")
	InvalidCode        = New(CodeInvalidCode, "invalid code")
	Expired            = New(CodeExpired, "code expired")
	ProviderFailure    = New(CodeProviderFailure, "provider failure")
	NoAccount          = New(CodeNoAccount, "no account with that email")
	InvalidState       = New(CodeInvalidState, "recovery flow not in expected state")
)

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var userMessages = map[Code]string{
	CodeDuplicateIdentity:  "That username or email is already taken.",
	CodeInvalidCredentials: "Login unsuccessful. Check email and password.",
	CodeNotFound:           "File not found.",
	CodeForbidden:          "You do not have access to that file.",
	CodeNoFile:             "No file selected.",
	CodeInvalidCode:        "Invalid code. Please try again.",
	CodeExpired:            "That code has expired. Please request a new one.",
	CodeProviderFailure:    "A remote service is unavailable right now. Please try again later.",
	CodeNoAccount:          "There is no account with that email.",
	CodeInvalidState:       "Please start the password reset again.",
}

// UserMessage returns the message shown to the user for err. Errors without
// a known code get a generic message.
func UserMessage(err error) string {
	if msg, ok := userMessages[CodeOf(err)]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}
