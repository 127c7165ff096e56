package duckling

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of a duckling error.
type ErrorType int

const (
	// OpenFailure means the database could not be opened.
	OpenFailure ErrorType = iota + 1
	// ClosedHandle means a handle was used after it, or one of its owners, was closed.
	ClosedHandle
	// SyntaxError means the SQL text could not be compiled.
	SyntaxError
	// BindError means the parameters do not match the statement placeholders.
	BindError
	// ExecutionError means the engine failed while running a statement or commit.
	ExecutionError
	// SchemaMismatch means an appended row does not fit the bound table.
	SchemaMismatch
	// UnknownTable means the appender target table does not exist.
	UnknownTable
	// ResourceBusy means a resource cannot be closed while others depend on it.
	ResourceBusy
)

var errorTypeNames = map[ErrorType]string{
	OpenFailure:    "open failure",
	ClosedHandle:   "closed handle",
	SyntaxError:    "syntax error",
	BindError:      "bind error",
	ExecutionError: "execution error",
	SchemaMismatch: "schema mismatch",
	UnknownTable:   "unknown table",
	ResourceBusy:   "resource busy",
}

// String returns the short categorical reason.
func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("error type %d", int(t))
}

// Error is the single error type returned by this package.
//
// Message is a short reason produced by this layer, Detail carries the
// engine's diagnostic text verbatim when there is one.
type Error struct {
	Type    ErrorType
	Message string
	Detail  string
	Err     error
}

// Error returns the error message.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("duckling: ")
	b.WriteString(e.Type.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare category sentinel such as ErrClosedHandle
// with the same Type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Detail == "" && t.Err == nil && t.Type == e.Type
}

// Category sentinels for use with errors.Is.
var (
	ErrOpenFailure    = &Error{Type: OpenFailure}
	ErrClosedHandle   = &Error{Type: ClosedHandle}
	ErrSyntax         = &Error{Type: SyntaxError}
	ErrBind           = &Error{Type: BindError}
	ErrExecution      = &Error{Type: ExecutionError}
	ErrSchemaMismatch = &Error{Type: SchemaMismatch}
	ErrUnknownTable   = &Error{Type: UnknownTable}
	ErrResourceBusy   = &Error{Type: ResourceBusy}
)

// ErrOutOfRange is returned by the wide-integer codec for values that do not
// fit in 128 signed bits.
var ErrOutOfRange = errors.New("duckling: integer outside the signed 128-bit range")

// NewError creates a new Error.
func NewError(typ ErrorType, message string) *Error {
	return &Error{
		Type:    typ,
		Message: message,
	}
}

// IsError checks if an error is of a specific type.
func IsError(err error, typ ErrorType) bool {
	var duckErr *Error
	if !errors.As(err, &duckErr) {
		return false
	}
	return duckErr.Type == typ
}

// wrapError builds an Error of the given type around cause. An Error cause
// keeps its own type and only gains context.
func wrapError(typ ErrorType, message string, cause error) error {
	if cause == nil {
		return nil
	}
	var duckErr *Error
	if errors.As(cause, &duckErr) {
		return cause
	}
	return &Error{
		Type:    typ,
		Message: message,
		Detail:  cause.Error(),
		Err:     cause,
	}
}

func closedError(kind ResourceKind) error {
	return &Error{Type: ClosedHandle, Message: kind.String() + " is closed"}
}

// phase is the point of the statement lifecycle at which the engine failed.
// The same engine error class maps to different categories depending on it.
type phase int

const (
	phaseOpen phase = iota
	phaseCompile
	phaseBind
	phaseExecute
	phaseCommit
)

// engineError is what backends return for failures reported by DuckDB
// itself; class is the prefix of the engine message ("Parser", "Catalog", ...).
type engineError struct {
	class string
	msg   string
	cause error
}

func (e *engineError) Error() string { return e.msg }
func (e *engineError) Unwrap() error { return e.cause }

// newEngineError parses DuckDB's "<Class> Error: text" message convention.
func newEngineError(msg string, cause error) *engineError {
	class := ""
	if i := strings.Index(msg, " Error: "); i > 0 && !strings.ContainsAny(msg[:i], ":\n") {
		class = msg[:i]
	}
	return &engineError{class: class, msg: msg, cause: cause}
}

// classify turns a backend failure into a categorised *Error.
func classify(p phase, message string, err error) error {
	if err == nil {
		return nil
	}
	var duckErr *Error
	if errors.As(err, &duckErr) {
		return err
	}

	typ := ExecutionError
	switch p {
	case phaseOpen:
		typ = OpenFailure
	case phaseBind:
		typ = BindError
	case phaseCompile:
		var ee *engineError
		if errors.As(err, &ee) {
			switch ee.class {
			case "Parser", "Syntax", "Binder", "Catalog", "Parameter Not Resolved", "Parameter Not Allowed":
				typ = SyntaxError
			}
		}
	}
	return &Error{Type: typ, Message: message, Detail: err.Error(), Err: err}
}
