package relay

import (
	"fmt"
	"net/http"
)

// FailureMessage replaces the content of a message whose relay failed.
// Upstream detail goes to the log only.
const FailureMessage = "Failed to generate response"

type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindCredentialUnavailable
	KindQuotaExceeded
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindCredentialUnavailable:
		return "credential_unavailable"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is raised before the response stream opens. It maps to a JSON
// error body with Status.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindCredentialUnavailable:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusNotFound
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func validationErr(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func notFoundErr(msg string, err error) *Error {
	return &Error{Kind: KindAuthorization, Message: msg, Err: err}
}

func internalErr(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}
