package model

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindValidation  ErrorKind = "ValidationError"
	ErrorKindAuth        ErrorKind = "AuthError"
	ErrorKindTransient   ErrorKind = "TransientError"
	ErrorKindUnavailable ErrorKind = "ChannelUnavailableError"
)

var ErrorReportNotFound = errors.New("report not found")

// PublishError carries the classification of a channel failure.
type PublishError struct {
	Kind ErrorKind
	Err  error
}

func (e *PublishError) Error() string {
	return e.Err.Error()
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func Errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &PublishError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Validationf(format string, args ...interface{}) error {
	return Errorf(ErrorKindValidation, format, args...)
}

func Authf(format string, args ...interface{}) error {
	return Errorf(ErrorKindAuth, format, args...)
}

func Transientf(format string, args ...interface{}) error {
	return Errorf(ErrorKindTransient, format, args...)
}

func Unavailablef(format string, args ...interface{}) error {
	return Errorf(ErrorKindUnavailable, format, args...)
}

// KindOf reports the classification of err. Anything unclassified is treated
// as transient so the caller may retry it.
func KindOf(err error) ErrorKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindTransient
}

func IsRetryable(err error) bool {
	return KindOf(err) == ErrorKindTransient
}
