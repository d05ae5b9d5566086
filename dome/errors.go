package dome

import (
	"errors"
	"fmt"
)

// Code classifies an expected command failure.
type Code int

const (
	// NotConnected means the controller is disconnected from the board.
	NotConnected Code = iota + 1
	// CantExecute means the command is not valid in the current state.
	CantExecute
	// ValueError means an argument is out of range.
	ValueError
	// Unconfigured means a required parameter or collaborator is missing.
	Unconfigured
	// Slaved means the command conflicts with slaving.
	Slaved
)

func (c Code) String() string {
	switch c {
	case NotConnected:
		return "NOT_CONNECTED"
	case CantExecute:
		return "CANT_EXECUTE"
	case ValueError:
		return "VALUE_ERROR"
	case Unconfigured:
		return "UNCONFIGURED"
	case Slaved:
		return "SLAVED"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is returned by Controller commands for failures caused by the dome's
// state or the caller's arguments.
type Error struct {
	Code Code
	// Op is the command that failed.
	Op  string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Code)
}

func newError(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the Code carried by err, or 0 if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
