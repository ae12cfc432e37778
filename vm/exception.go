package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error objects
// ---------------------------------------------------------------------------

// ErrorType is the constructor an error object was created with.
type ErrorType uint8

const (
	PlainError ErrorType = iota
	EvalError
	RangeError
	ReferenceError
	SyntaxError
	TypeError
	URIError
)

var errorTypeNames = [...]string{
	PlainError:     "Error",
	EvalError:      "EvalError",
	RangeError:     "RangeError",
	ReferenceError: "ReferenceError",
	SyntaxError:    "SyntaxError",
	TypeError:      "TypeError",
	URIError:       "URIError",
}

func (t ErrorType) String() string {
	if int(t) < len(errorTypeNames) {
		return errorTypeNames[t]
	}
	return fmt.Sprintf("ErrorType(%d)", t)
}

// ErrorTypeByName maps a constructor name back to its ErrorType.
func ErrorTypeByName(name string) (ErrorType, bool) {
	for i, n := range errorTypeNames {
		if n == name {
			return ErrorType(i), true
		}
	}
	return PlainError, false
}

// ErrorObject is an instance of Error or one of its native subtypes.
// Message, Stack and Cause mirror the own properties of the same names;
// other custom properties live on the embedded Object.
type ErrorObject struct {
	Object
	Type     ErrorType
	Message  Value
	Stack    Value
	Cause    Value
	HasCause bool
}

func (*ErrorObject) isValue() {}

// NewError creates an error object with a message and no stack.
func NewError(typ ErrorType, message string) *ErrorObject {
	e := NewErrorObject(typ)
	e.Message = String(message)
	return e
}

// NewErrorObject creates an error object without a message.
func NewErrorObject(typ ErrorType) *ErrorObject {
	return &ErrorObject{
		Object:  *NewObject(),
		Type:    typ,
		Message: Undefined,
		Stack:   Undefined,
		Cause:   Undefined,
	}
}

// SetCause attaches a cause.
func (e *ErrorObject) SetCause(cause Value) {
	e.Cause = cause
	e.HasCause = true
}

// MessageText returns the message as a Go string.
func (e *ErrorObject) MessageText() string {
	if s, ok := e.Message.(String); ok {
		return string(s)
	}
	return ""
}

// IsErrorObject reports whether v can be treated as an error object.
func IsErrorObject(v Value) bool {
	_, ok := v.(*ErrorObject)
	return ok
}

// ---------------------------------------------------------------------------
// Throw: a script exception travelling as a Go error
// ---------------------------------------------------------------------------

// Throw carries a thrown script value through Go error returns.
type Throw struct {
	Value Value
}

func (t *Throw) Error() string {
	return "uncaught " + Display(t.Value)
}

// ThrowValue returns an error that throws v.
func ThrowValue(v Value) error {
	return &Throw{Value: v}
}

// ThrowError returns an error that throws a new error object of typ.
func ThrowError(typ ErrorType, format string, args ...any) error {
	return &Throw{Value: NewError(typ, fmt.Sprintf(format, args...))}
}

// ThrownValue converts err into the value a script catch clause would see.
// Non-script Go errors become plain Error objects.
func ThrownValue(err error) Value {
	var t *Throw
	if errors.As(err, &t) {
		return t.Value
	}
	return NewError(PlainError, err.Error())
}

var (
	// ErrInterrupted is returned by code that noticed its realm was closed.
	ErrInterrupted = errors.New("vm: interrupted")
	// ErrAgentTerminated is returned when draining a terminated agent.
	ErrAgentTerminated = errors.New("vm: agent terminated")
	// ErrCannotBlock is returned when an agent that may not block asks to wait.
	ErrCannotBlock = errors.New("vm: agent cannot block")
	// ErrLockReentered is panicked when a goroutine re-enters a lock it holds.
	ErrLockReentered = errors.New("vm: lock re-entered by its owner")
	// ErrLockNotHeld is panicked when a goroutine touches lock-protected state
	// without holding the lock.
	ErrLockNotHeld = errors.New("vm: lock not held by caller")
	// ErrWrongGoroutine is panicked when an agent's queues are drained from a
	// goroutine other than the one that owns the agent.
	ErrWrongGoroutine = errors.New("vm: agent drained from foreign goroutine")
)
