package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnavailable   = errors.New("remote unavailable")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidRow    = errors.New("invalid row")
	ErrValidation    = errors.New("validation error")
	ErrUnauthorized  = errors.New("unauthorized")
)

// FieldError describes a validation problem with a single field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-level errors and an optional form-level
// message. It unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
	Form   string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Form != "" && len(e.Fields) == 0:
		return "validation: " + e.Form
	case len(e.Fields) == 1:
		return fmt.Sprintf("validation: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	default:
		return fmt.Sprintf("validation: %d errors", len(e.Fields))
	}
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FieldMap flattens the field errors, keeping the first message per field.
func (e *ValidationError) FieldMap() map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := m[f.Field]; !ok {
			m[f.Field] = f.Message
		}
	}
	return m
}

func NewFieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Fields: errs}
}

func NewFormError(message string) *ValidationError {
	return &ValidationError{Form: message}
}
