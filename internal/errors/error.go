package errors

import (
	"bufio"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryStore    Category = "store"
	CategoryServer   Category = "server"
	CategorySchema   Category = "schema"
	CategoryCLI      Category = "cli"
	CategoryInternal Category = "internal"
)

// Location points at a line in a configuration file.
type Location struct {
	File string
	Line int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// SynclineError is a structured error with a code, suggestions, and
// documentation links, meant for terminal display at startup.
type SynclineError struct {
	// Code is a unique error identifier (e.g., "E101").
	Code string

	// Category is the error type (config, store, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the configuration file location, when known.
	Location *Location

	// Context contains surrounding configuration file lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example shows a correct configuration snippet.
	Example string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *SynclineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *SynclineError) Unwrap() error {
	return e.Wrapped
}

// WithLocation points the error at a line in a file and pulls in the
// surrounding lines for display.
func (e *SynclineError) WithLocation(file string, line int) *SynclineError {
	e.Location = &Location{File: file, Line: line}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *SynclineError) WithSuggestion(s string) *SynclineError {
	e.Suggestion = s
	return e
}

// WithExample adds a configuration example to the error.
func (e *SynclineError) WithExample(ex string) *SynclineError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *SynclineError) WithDetail(d string) *SynclineError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *SynclineError) Wrap(err error) *SynclineError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates a SynclineError from a registered error code.
func New(code string) *SynclineError {
	template, ok := registry[code]
	if !ok {
		return &SynclineError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &SynclineError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Newf creates a new SynclineError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *SynclineError {
	return &SynclineError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a SynclineError.
func FromError(err error, code string) *SynclineError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*SynclineError); ok {
		return se
	}
	return New(code).Wrap(err)
}
