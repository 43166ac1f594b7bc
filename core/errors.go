package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is a user-correctable error. Nothing has been committed when it is returned.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	if len(err.Fields) > 0 {
		return fmt.Sprintf("%s: %s", err.Fields[0].Field, err.Fields[0].Error)
	}
	return "validation failed"
}

// FieldMap returns the field errors keyed by field name.
func (err ValidationError) FieldMap() map[string]string {
	fldErrs := make(map[string]string, len(err.Fields))
	for _, fErr := range err.Fields {
		fldErrs[fErr.Field] = fErr.Error
	}
	return fldErrs
}

type NotFoundError struct {
	Entity string
}

func NewNotFoundError(entity string) error {
	return &NotFoundError{Entity: entity}
}

func (err NotFoundError) Error() string {
	return err.Entity + " not found"
}

// StateError is returned when an operation is not allowed in the current state of a record.
type StateError struct {
	msg string
}

func NewStateError(msg string) error {
	return &StateError{msg: msg}
}

func (err StateError) Error() string {
	return err.msg
}

// ReferentialIntegrityError is returned when deleting a record that historical records still reference.
type ReferentialIntegrityError struct {
	msg string
}

func NewReferentialIntegrityError(msg string) error {
	return &ReferentialIntegrityError{msg: msg}
}

func (err ReferentialIntegrityError) Error() string {
	return err.msg
}

// ConsistencyFault is an internal failure while maintaining derived data.
// The enclosing transaction must be rolled back.
type ConsistencyFault struct {
	Err error
}

func NewConsistencyFault(err error, msg string) error {
	return &ConsistencyFault{Err: errors.Wrap(err, msg)}
}

func (err ConsistencyFault) Error() string {
	return "consistency fault: " + err.Err.Error()
}

func (err ConsistencyFault) Unwrap() error {
	return err.Err
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

func IsValidation(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

func IsState(err error) bool {
	_, ok := errors.Cause(err).(*StateError)
	return ok
}

func IsReferentialIntegrity(err error) bool {
	_, ok := errors.Cause(err).(*ReferentialIntegrityError)
	return ok
}

func IsConsistencyFault(err error) bool {
	_, ok := errors.Cause(err).(*ConsistencyFault)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
