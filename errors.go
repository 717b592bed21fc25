// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gorilla/rpc/v2/json2"
)

// ErrClosed is returned by calls issued against, or settled by, a
// closed engine.
var ErrClosed = errors.New("ipc: engine closed")

// ErrorCode is the numeric error classification carried on the wire.
// The reserved values live in the JSON-RPC code space; application
// handlers may return any other value and it passes through untouched.
type ErrorCode = json2.ErrorCode

const (
	// CodeNotFound: no handler registered for the requested method.
	CodeNotFound = json2.E_NO_METHOD
	// CodeUnknown: a handler failed without structured detail.
	CodeUnknown = json2.E_INTERNAL
	// CodeTimeout: the call expired locally before a response arrived.
	CodeTimeout ErrorCode = -32001
	// CodeTargetReleased: the destination could not be resolved.
	CodeTargetReleased ErrorCode = -32002
)

// Error is the structured failure produced by calls and handlers. It
// round-trips through the wire error format: code, message and data
// survive serialization, the stack rides along when one was captured.
type Error struct {
	Code    ErrorCode
	Message string
	Data    any
	Stack   string

	// Method and Args identify the originating call when the error was
	// rebuilt from a response. Empty for locally constructed errors.
	Method string
	Args   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ipc: [%d] %s", e.Code, e.Message)
}

// Is matches errors by code, so errors.Is(err, &Error{Code: CodeTimeout})
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError builds an Error and captures the stack at the call site.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Stack: string(debug.Stack())}
}

// Errorf is NewError with formatting.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the code from an error chain. Plain errors classify
// as CodeUnknown; nil has no code and reports false.
func CodeOf(err error) (ErrorCode, bool) {
	if err == nil {
		return 0, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return CodeUnknown, true
}

func releasedError(method string, target Target, cause error) *Error {
	e := Errorf(CodeTargetReleased, "call %s: target %v released: %v", method, target, cause)
	e.Method = method
	return e
}

func timeoutError(method, args string, d time.Duration) *Error {
	e := Errorf(CodeTimeout, "call %s(%s): timed out after %s", method, args, d)
	e.Method = method
	e.Args = args
	return e
}

// errorFromResponse rebuilds a caller-facing Error from a wire error
// plus the context of the pending call it settles. The remote stack is
// kept when present; otherwise the stack marks the local settlement
// point.
func errorFromResponse(we *WireError, method, args string) *Error {
	e := &Error{
		Code:    we.Code,
		Message: fmt.Sprintf("call %s(%s): %s", method, args, we.Message),
		Method:  method,
		Args:    args,
	}
	if we.Data != nil {
		if len(we.Data.Data) > 0 {
			var v any
			if err := json.Unmarshal(we.Data.Data, &v); err == nil {
				e.Data = v
			}
		}
		e.Stack = we.Data.Stack
	}
	if e.Stack == "" {
		e.Stack = string(debug.Stack())
	}
	return e
}

// panicError wraps a recovered panic value, keeping the goroutine
// stack so the failure is debuggable from the calling side.
func panicError(v any) *Error {
	return &Error{
		Code:    CodeUnknown,
		Message: fmt.Sprintf("handler panic: %v", v),
		Stack:   string(debug.Stack()),
	}
}

// toWireError normalizes a handler failure for transmission. Structured
// errors keep their code, data and stack; anything else degrades to
// CodeUnknown with the error text. A stack is never invented for plain
// errors.
func toWireError(err error) *WireError {
	var e *Error
	if !errors.As(err, &e) {
		return &WireError{Code: CodeUnknown, Message: err.Error()}
	}
	we := &WireError{Code: e.Code, Message: e.Message}
	var data json.RawMessage
	if e.Data != nil {
		if raw, merr := json.Marshal(e.Data); merr == nil {
			data = raw
		}
	}
	if len(data) > 0 || e.Stack != "" {
		we.Data = &ErrorData{Data: data, Stack: e.Stack}
	}
	return we
}

// renderArgs formats raw call params for error messages.
func renderArgs(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	return string(params)
}
