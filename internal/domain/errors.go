package domain

import "fmt"

// AppError is the base domain error type. Handlers map it onto a structured
// {code, message} HTTP payload.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Status: 400}
}

func ErrEventFull() *AppError {
	return &AppError{Code: "EVENT_FULL", Message: "event is at capacity and the waitlist is closed", Status: 409}
}

func ErrDuplicateRegistration() *AppError {
	return &AppError{Code: "DUPLICATE_REGISTRATION", Message: "player already has an active registration for this event", Status: 409}
}

func ErrStatusMismatch(entity, have, want string) *AppError {
	return &AppError{Code: "STATUS_MISMATCH", Message: fmt.Sprintf("%s is %s, expected %s", entity, have, want), Status: 409}
}

func ErrUpstream(msg string, cause error) *AppError {
	return &AppError{Code: "UPSTREAM_UNAVAILABLE", Message: msg, Status: 502, Cause: cause}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}
