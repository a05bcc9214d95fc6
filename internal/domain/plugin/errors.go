package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic error handling.
var (
	// ErrManifestNotFound indicates manifest.json was not found.
	ErrManifestNotFound = errors.New("manifest.json not found")
	// ErrUnknownPlugin indicates an operation on an id that is not installed.
	ErrUnknownPlugin = errors.New("plugin not installed")
)

// ValidationError collects multiple manifest validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// Add adds an error message to the collection.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf adds a formatted error message to the collection.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// IsValidationError returns true if the error is a manifest validation error.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// DiscoveryError represents a failure to load one plugin during a scan.
// Discovery collects these and continues; it never aborts the scan.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("loading plugin at %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ArchiveError indicates a downloaded package could not be validated,
// typically because no manifest was found anywhere in the extracted tree.
type ArchiveError struct {
	URL    string
	Reason string
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("invalid plugin archive %s: %s", e.URL, e.Reason)
}

// IsArchiveError returns true if the error indicates a bad plugin archive.
func IsArchiveError(err error) bool {
	var aerr *ArchiveError
	return errors.As(err, &aerr)
}

// PathTraversalError indicates an archive entry attempted to escape its
// extraction root.
type PathTraversalError struct {
	Path string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path traversal detected in: %s", e.Path)
}

// IsPathTraversal returns true if the error indicates path traversal.
func IsPathTraversal(err error) bool {
	var terr *PathTraversalError
	return errors.As(err, &terr)
}
