package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	// ErrUnknownBackend is returned when a profile names a storage
	// engine no implementation is registered for.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrUnrecognizedFormat is returned when an archive file matches
	// none of the supported container signatures.
	ErrUnrecognizedFormat = errors.New("unrecognized archive format")

	// ErrCorruptArchive is returned when an archive is structurally
	// invalid (bad link types, dangling UUID references, missing
	// metadata).
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrEmptyFilter guards bulk deletes against accidentally matching
	// every row.
	ErrEmptyFilter = errors.New("empty filter not allowed for bulk delete")

	// ErrNonInteractive is returned when a merge policy requires user
	// interaction but no resolver callback was provided.
	ErrNonInteractive = errors.New("policy requires interaction but no resolver is set")
)

// ImportError wraps any failure raised while importing an archive.
type ImportError struct {
	Op  string // phase that failed, e.g. "validate", "merge extras"
	Err error
}

func (e *ImportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("archive import: %v", e.Err)
	}
	return fmt.Sprintf("archive import: %s: %v", e.Op, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// NotFoundError reports a missing entity by kind and key.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
