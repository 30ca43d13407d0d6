package mapper

import (
	"errors"
	"fmt"
)

var (
	// ErrRootNotFound is returned when the tree root is missing or not a directory
	ErrRootNotFound = errors.New("root directory not found")

	// ErrMalformedTree is returned when a directory holds more than one descriptor
	ErrMalformedTree = errors.New("malformed project tree")

	// ErrMalformedDescriptor is returned when a descriptor cannot be read or parsed
	ErrMalformedDescriptor = errors.New("malformed project descriptor")

	// ErrMissingDependency is returned when a referenced descriptor does not exist
	ErrMissingDependency = errors.New("missing dependency")

	// ErrAmbiguousRoot is returned in strict mode when several projects have no parent
	ErrAmbiguousRoot = errors.New("ambiguous root project")

	// ErrNoRoot is returned when a non-empty graph has no parentless project
	ErrNoRoot = errors.New("no root project")
)

// MapperError records the operation and path that failed during mapping
type MapperError struct {
	Op   string
	Path string
	Err  error
}

func (e *MapperError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *MapperError) Unwrap() error { return e.Err }

func newError(op, path string, err error) *MapperError {
	return &MapperError{Op: op, Path: path, Err: err}
}
