// Package faults provides coded errors shared across the recording pipeline.
// Every error crossing a package boundary carries a Code so the control
// surface can map failures to user-visible categories without string
// matching.
package faults

import (
	"errors"
	"fmt"
)

// Code classifies a pipeline failure.
type Code int

const (
	Unknown Code = iota

	// DeviceOpen: device missing, busy, or the requested format could not
	// be negotiated. Fatal to that stream only.
	DeviceOpen

	// DeviceLost: mid-stream disconnect. The stream is stopped and the
	// transport is forced back to idle.
	DeviceLost

	// BufferOverrun: the capture ring evicted blocks. Non-fatal; recording
	// continues with an acknowledged gap.
	BufferOverrun

	// IO: file write failure. The current save aborts; the recorded data
	// stays in memory until a write succeeds.
	IO

	// Config: rejected configuration values. The previous valid
	// configuration remains in effect.
	Config

	// Encode: WAV serialization failure.
	Encode
)

var codeNames = map[Code]string{
	Unknown:       "UNKNOWN",
	DeviceOpen:    "DEVICE_OPEN",
	DeviceLost:    "DEVICE_LOST",
	BufferOverrun: "BUFFER_OVERRUN",
	IO:            "IO",
	Config:        "CONFIG",
	Encode:        "ENCODE",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Fault is the error type used throughout the pipeline.
type Fault struct {
	Code    Code
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	s := fmt.Sprintf("[%s] %s", f.Code, f.Message)
	if f.Cause != nil {
		s += ": " + f.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (f *Fault) Unwrap() error { return f.Cause }

// New creates a Fault with the given code and message.
func New(code Code, msg string) *Fault {
	return &Fault{Code: code, Message: msg}
}

// Newf creates a Fault with a formatted message.
func Newf(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code.
func Wrap(err error, code Code, msg string) *Fault {
	return &Fault{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// CodeOf returns the code carried by err, or Unknown.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return Unknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
