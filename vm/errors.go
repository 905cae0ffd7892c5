package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// InternalError: fatal interpreter inconsistency
// ---------------------------------------------------------------------------

// InternalError reports a condition the interpreter cannot recover from:
// frame corruption, an unimplemented opcode, an unhandled kind. It is raised
// by panic inside the dispatch loop and recovered at the Interpret boundary.
type InternalError struct {
	Op     Opcode // opcode being executed, if known
	PC     int    // pc of that opcode, -1 if unknown
	Method string // qualified method name, empty if unknown
	cause  error
}

func (e *InternalError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("internal error: %v", e.cause)
	}
	return fmt.Sprintf("internal error in %s at pc %d (%s): %v", e.Method, e.PC, e.Op, e.cause)
}

// Cause returns the underlying error, which carries the stack at creation.
func (e *InternalError) Cause() error { return e.cause }

// Unwrap supports errors.Is and errors.As.
func (e *InternalError) Unwrap() error { return e.cause }

func newInternalError(format string, args ...interface{}) *InternalError {
	return &InternalError{PC: -1, cause: errors.Errorf(format, args...)}
}

// fatalf panics with an InternalError. The dispatch loop fills in the
// opcode, pc and method when it recovers.
func fatalf(format string, args ...interface{}) {
	panic(newInternalError(format, args...))
}

// Sentinel causes for conditions callers may want to match.
var (
	ErrArenaExhausted = errors.New("arena exhausted")
	ErrThreadStopped  = errors.New("thread is stopped")
	ErrAborted        = errors.New("vm aborted after internal error")
)

// BlockedError is returned by Thread.Prepare when the monitor of a
// synchronized method cannot be taken now. Nothing was pushed; the caller
// may prepare again later unless Suspension is Stopping.
type BlockedError struct {
	Method     string
	Suspension Suspension
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: monitor not acquired (%s)", e.Method, e.Suspension)
}

// ---------------------------------------------------------------------------
// GuestError: an exception raised in the guest program
// ---------------------------------------------------------------------------

// Throwable class names raised by the interpreter itself.
const (
	NullPointerException           = "java/lang/NullPointerException"
	ArrayIndexOutOfBoundsException = "java/lang/ArrayIndexOutOfBoundsException"
	ArrayStoreException            = "java/lang/ArrayStoreException"
	NegativeArraySizeException     = "java/lang/NegativeArraySizeException"
	ClassCastException             = "java/lang/ClassCastException"
	ArithmeticException            = "java/lang/ArithmeticException"
	StackOverflowError             = "java/lang/StackOverflowError"
	NoSuchFieldError               = "java/lang/NoSuchFieldError"
	NoSuchMethodError              = "java/lang/NoSuchMethodError"
	NoClassDefFoundError           = "java/lang/NoClassDefFoundError"
	AbstractMethodError            = "java/lang/AbstractMethodError"
	IllegalMonitorStateException   = "java/lang/IllegalMonitorStateException"
)

// GuestError is an exception the guest program should observe. Thrown is set
// when the guest itself threw an object with athrow.
type GuestError struct {
	Class   string
	Message string
	Thrown  any
}

// NewGuestError creates a guest exception of the named throwable class.
func NewGuestError(class string, format string, args ...interface{}) *GuestError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &GuestError{Class: class, Message: msg}
}

func (e *GuestError) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

// AsGuestError returns the GuestError in err's chain, if any.
func AsGuestError(err error) (*GuestError, bool) {
	var g *GuestError
	ok := errors.As(err, &g)
	return g, ok
}
