// Package chaterrors is the structured error type every component wraps
// its failures in, plus the single mapping from error Code to the wire's
// numeric StatusCode.
package chaterrors

import (
	"fmt"

	"github.com/fenwicklabs/chatline/model"
)

// Path identifies which component raised the error.
type Path string

const (
	PathFrame     Path = "frame"
	PathRegistry  Path = "registry"
	PathRouter    Path = "router"
	PathHandshake Path = "handshake"
	PathStore     Path = "store"
	PathTransport Path = "transport"
)

// Stage identifies which step within the component failed.
type Stage string

const (
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
	StageAuth     Stage = "auth"
	StageMutate   Stage = "mutate"
	StageDeliver  Stage = "deliver"
	StageIO       Stage = "io"
)

// Code is a stable, programmatic error identifier matching spec.md §7.
type Code string

const (
	CodeParseError        Code = "parse_error"
	CodeInvalidForm       Code = "invalid_form"
	CodeInvalidQuery      Code = "invalid_query"
	CodeUnauthorized      Code = "unauthorized"
	CodeNotRegistered     Code = "not_registered"
	CodeWrongPassword     Code = "wrong_password"
	CodeAlreadyRegistered Code = "already_registered"
	CodeAlreadyLoggedIn   Code = "already_logged_in"
	CodeWrongChannel      Code = "wrong_channel"
	CodeSameChannel       Code = "same_channel"
	CodeStoreError        Code = "store_error"
	CodeTransportError    Code = "transport_error"
)

// Error is a structured, classifiable failure.
type Error struct {
	Path  Path
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Path, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Path, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a classified Error. err may be nil.
func Wrap(path Path, stage Stage, code Code, err error) error {
	return &Error{Path: path, Stage: stage, Code: code, Err: err}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if as(err, &e) {
		return e.Code, true
	}
	return "", false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// StatusCodeFor maps a Code onto the wire's numeric status code. This is
// the one place that mapping happens; handlers never hand-roll it.
func StatusCodeFor(code Code) model.StatusCode {
	switch code {
	case CodeParseError, CodeInvalidForm:
		return model.CodeInvalidForm
	case CodeInvalidQuery:
		return model.CodeInvalidQuery
	case CodeUnauthorized:
		return model.CodeUnauthorized
	case CodeNotRegistered:
		return model.CodeNotRegistered
	case CodeWrongPassword:
		return model.CodeWrongPassword
	case CodeAlreadyRegistered:
		return model.CodeAlreadyRegistered
	case CodeAlreadyLoggedIn:
		return model.CodeAlreadyLoggedIn
	case CodeWrongChannel:
		return model.CodeWrongChannel
	case CodeSameChannel:
		return model.CodeSameChannel
	case CodeStoreError:
		return model.CodeInvalidForm
	default:
		return model.CodeInvalidForm
	}
}
