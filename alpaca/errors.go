package alpaca

import (
	"context"
	"errors"
	"fmt"

	"github.com/w1xm/dome_interface/dome"
)

// ErrorCode is an Alpaca ErrorNumber.
type ErrorCode int

const (
	NotImplemented       ErrorCode = 0x400
	InvalidValue         ErrorCode = 0x401
	ValueNotSet          ErrorCode = 0x402
	NotConnected         ErrorCode = 0x407
	InvalidWhileParked   ErrorCode = 0x408
	InvalidWhileSlaved   ErrorCode = 0x409
	InvalidOperation     ErrorCode = 0x40B
	ActionNotImplemented ErrorCode = 0x40C
	UnsupportedDevice    ErrorCode = 0x4FF
	// DriverError is the base of driver specific codes.
	DriverError ErrorCode = 0x500
)

// Error is an in-band Alpaca error.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("alpaca error 0x%X: %s", int(e.Code), e.Message)
}

func errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notImplemented(what string) *Error {
	return errorf(NotImplemented, "%s is not implemented", what)
}

// toError maps a command failure to its Alpaca code.
func toError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var de *dome.Error
	if errors.As(err, &de) {
		code := DriverError + ErrorCode(de.Code)
		switch de.Code {
		case dome.NotConnected:
			code = NotConnected
		case dome.ValueError:
			code = InvalidValue
		case dome.Slaved:
			code = InvalidWhileSlaved
		}
		return &Error{Code: code, Message: de.Error()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errorf(DriverError, "request abandoned: %v", err)
	}
	return &Error{Code: DriverError, Message: err.Error()}
}
