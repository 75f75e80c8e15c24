// Unified error handling for the plotdrive host
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"errors"
	"fmt"
)

// Code identifies the category of a plot error. Values double as the
// finalized stop-status codes reported by the status tracker: while a
// stop condition is still being processed the tracker holds the
// negated value, and flips it positive once handling completes.
type Code int

const (
	// CodeNone means no error or stop condition.
	CodeNone Code = 0

	// CodeProgram is a programmatic pause request (resumable).
	CodeProgram Code = 1

	// CodeBetweenCopies is a pause taken between plot copies.
	CodeBetweenCopies Code = 2

	// CodeConnectFailed means the controller could not be reached.
	CodeConnectFailed Code = 101

	// CodeButton is a pause from the physical pause button.
	CodeButton Code = 102

	// CodeKeyboard is a keyboard interrupt.
	CodeKeyboard Code = 103

	// CodeConnection means the USB connection was lost mid-plot.
	CodeConnection Code = 104

	// CodePower means controller power was lost; position state is
	// untrustworthy and re-homing is required.
	CodePower Code = 105

	// CodeHoming means the homing procedure failed.
	CodeHoming Code = 106

	// CodePlanning marks a local planning fault (segment dropped).
	CodePlanning Code = 201

	// CodeBounds marks a destination clipped to the travel limits.
	CodeBounds Code = 202
)

// String returns a short name for the code.
func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeProgram:
		return "program_pause"
	case CodeBetweenCopies:
		return "between_copies"
	case CodeConnectFailed:
		return "connect_failed"
	case CodeButton:
		return "button"
	case CodeKeyboard:
		return "keyboard"
	case CodeConnection:
		return "connection_lost"
	case CodePower:
		return "power_lost"
	case CodeHoming:
		return "homing_failed"
	case CodePlanning:
		return "planning"
	case CodeBounds:
		return "bounds"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// UserPause reports whether the code is a recoverable user-initiated
// pause that may be resumed from the recorded distance.
func (c Code) UserPause() bool {
	switch c {
	case CodeProgram, CodeBetweenCopies, CodeButton, CodeKeyboard:
		return true
	}
	return false
}

// Fault reports whether the code is an environment fault that
// invalidates positional state.
func (c Code) Fault() bool {
	switch c {
	case CodeConnection, CodePower, CodeConnectFailed:
		return true
	}
	return false
}

// PlotError is the unified error type for the plot host.
type PlotError struct {
	// Code is the error category and finalized stop code.
	Code Code

	// Message is a human-readable description.
	Message string

	// Err wraps the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *PlotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *PlotError) Unwrap() error {
	return e.Err
}

// Is matches two PlotErrors by code.
func (e *PlotError) Is(target error) bool {
	var pe *PlotError
	if errors.As(target, &pe) {
		return pe.Code == e.Code
	}
	return false
}

// New creates a PlotError with the given code and message.
func New(code Code, message string) *PlotError {
	return &PlotError{Code: code, Message: message}
}

// Newf creates a PlotError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *PlotError {
	return &PlotError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *PlotError {
	return &PlotError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the Code from an error chain, or CodeNone.
func CodeOf(err error) Code {
	var pe *PlotError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeNone
}

// As is a convenience re-export of the standard errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
