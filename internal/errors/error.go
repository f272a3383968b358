package errors

import (
	"bytes"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	// CategoryStartup covers build artifacts the process cannot serve without.
	CategoryStartup Category = "startup"

	// CategoryConfig covers invalid configuration.
	CategoryConfig Category = "config"

	// CategoryTransport covers the middleware boundary and proxying.
	CategoryTransport Category = "transport"

	// CategoryCLI covers command-line usage errors.
	CategoryCLI Category = "cli"
)

// Location points into an artifact or config file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Line == 0 {
		return l.File
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is a structured error with a code, an optional location inside an
// artifact and a hint for the operator.
type Error struct {
	// Code is a unique error identifier (e.g., "R001").
	Code string

	// Category groups related codes.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is where in an artifact the error occurred.
	Location *Location

	// Context holds the artifact lines around Location.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Location != nil {
		msg += " (" + e.Location.String() + ")"
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// WithFile records the artifact the error relates to.
func (e *Error) WithFile(file string) *Error {
	e.Location = &Location{File: file}
	return e
}

// WithOffset records a byte offset inside data, such as the Offset of a
// *json.SyntaxError, and captures the surrounding lines.
func (e *Error) WithOffset(file string, data []byte, offset int64) *Error {
	if offset < 0 || offset > int64(len(data)) {
		return e.WithFile(file)
	}
	before := data[:offset]
	line := bytes.Count(before, []byte("\n")) + 1
	col := int(offset) - bytes.LastIndexByte(before, '\n')
	e.Location = &Location{File: file, Line: line, Column: col}
	e.Context = contextLines(data, line, 5)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// contextLines returns up to size lines of data centred on target.
func contextLines(data []byte, target, size int) []string {
	start := target - size/2
	end := target + size/2

	var lines []string
	for i, l := range bytes.Split(data, []byte("\n")) {
		n := i + 1
		if n > end {
			break
		}
		if n >= start {
			lines = append(lines, string(l))
		}
	}
	return lines
}

// New creates an Error from a registered error code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// FromError wraps a standard error in an Error.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return New(code).Wrap(err)
}

// IsCategory reports whether err is an *Error in category c.
func IsCategory(err error, c Category) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Category == c {
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
