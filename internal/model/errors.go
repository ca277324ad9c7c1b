package model

import "fmt"

// ValidationError represents malformed or missing required input.
// It is surfaced to the caller immediately and causes no state change.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NotFoundError represents an invoice or notification lookup that did not resolve
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// NewNotFoundError creates a new not-found error
func NewNotFoundError(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

// BuildError represents a document assembly failure
type BuildError struct {
	Number  string
	Message string
	Cause   error
}

func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("document build failed [%s]: %s (%v)", e.Number, e.Message, e.Cause)
	}
	return fmt.Sprintf("document build failed [%s]: %s", e.Number, e.Message)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// NewBuildError creates a new build error
func NewBuildError(number, message string, cause error) *BuildError {
	return &BuildError{Number: number, Message: message, Cause: cause}
}

// SignatureError represents a signing failure: key material unavailable,
// cryptographic failure, or an unreadable/unwriteable file.
type SignatureError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SignatureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signature failed [%s]: %s (%v)", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("signature failed [%s]: %s", e.Path, e.Message)
}

func (e *SignatureError) Unwrap() error {
	return e.Cause
}

// NewSignatureError creates a new signature error
func NewSignatureError(path, message string, cause error) *SignatureError {
	return &SignatureError{Path: path, Message: message, Cause: cause}
}

// TransmissionError represents a wire-level failure talking to the SdI hub:
// SOAP fault, malformed response, timeout, or unreachable endpoint.
type TransmissionError struct {
	Operation string
	Message   string
	Cause     error
}

func (e *TransmissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transmission failed [%s]: %s (%v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("transmission failed [%s]: %s", e.Operation, e.Message)
}

func (e *TransmissionError) Unwrap() error {
	return e.Cause
}

// NewTransmissionError creates a new transmission error
func NewTransmissionError(operation, message string, cause error) *TransmissionError {
	return &TransmissionError{Operation: operation, Message: message, Cause: cause}
}

// StateError represents an action that is not valid for the invoice's
// current status, e.g. signing before document generation.
type StateError struct {
	Action  string
	Status  Status
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in status %s: %s", e.Action, e.Status, e.Message)
}

// NewStateError creates a new state error
func NewStateError(action string, status Status, message string) *StateError {
	return &StateError{Action: action, Status: status, Message: message}
}
