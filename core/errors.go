package core

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies operation failures.
type Code uint8

const (
	CodeInvalidArgument Code = iota + 1
	CodeDataMissing
	CodeDataExists
	CodeNotFound
	CodeLocked
	CodeOperationFailed
	CodeValidationFailed
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "invalid argument"
	case CodeDataMissing:
		return "data missing"
	case CodeDataExists:
		return "data exists"
	case CodeNotFound:
		return "not found"
	case CodeLocked:
		return "locked"
	case CodeOperationFailed:
		return "operation failed"
	case CodeValidationFailed:
		return "validation failed"
	case CodeInternal:
		return "internal error"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// ErrorEntry is one (message, path) pair of an OperationError.
type ErrorEntry struct {
	Message string
	Path    string
}

// OperationError is the error type surfaced by edit, replay, lock,
// validation and commit failures. It carries a Code and zero or more
// (message, path) entries so that single-error and multi-error
// reporting (e.g. a continue-on-error replay) share one type.
type OperationError struct {
	Code    Code
	Entries []ErrorEntry
}

func (e *OperationError) Error() string {
	switch len(e.Entries) {
	case 0:
		return e.Code.String()
	case 1:
		ent := e.Entries[0]
		if ent.Path == "" {
			return fmt.Sprintf("%s: %s", e.Code, ent.Message)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Code, ent.Message, ent.Path)
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %d errors", e.Code, len(e.Entries))
		for _, ent := range e.Entries {
			b.WriteString("; ")
			b.WriteString(ent.Message)
			if ent.Path != "" {
				fmt.Fprintf(&b, " (%s)", ent.Path)
			}
		}
		return b.String()
	}
}

// NewError builds an OperationError with a single entry. path may be
// empty when the failure is not tied to a data path.
func NewError(code Code, path, format string, args ...any) *OperationError {
	return &OperationError{
		Code:    code,
		Entries: []ErrorEntry{{Message: fmt.Sprintf(format, args...), Path: path}},
	}
}

// Append adds one more (message, path) entry.
func (e *OperationError) Append(path, format string, args ...any) {
	e.Entries = append(e.Entries, ErrorEntry{Message: fmt.Sprintf(format, args...), Path: path})
}

// CodeOf extracts the Code from an error chain. Errors that are not
// OperationErrors report CodeInternal; nil reports 0.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, c Code) bool {
	return CodeOf(err) == c
}
