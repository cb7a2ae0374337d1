package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

// Fatal/structural codes. These abort the whole batch immediately.
const (
	// AmbiguousMergeSource indicates a MergeInto id that does not resolve to
	// exactly one parameter group within the row's entity set
	AmbiguousMergeSource ErrorCode = "AMBIGUOUS_MERGE_SOURCE"
	// MalformedEntitySet indicates an entity-set string that cannot be parsed
	MalformedEntitySet ErrorCode = "MALFORMED_ENTITY_SET"
	// RenameSourceMissing indicates a scheduled rename whose source file no longer exists
	RenameSourceMissing ErrorCode = "RENAME_SOURCE_MISSING"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Validation codes. These are collected into a report; the operation is
// skipped and the batch continues unless the caller asked to raise.
const (
	// SdcIncompatible indicates a merge between groups with differing
	// fieldmap/IntendedFor relational columns
	SdcIncompatible ErrorCode = "SDC_INCOMPATIBLE"
	// OverwriteMerge indicates a merge that would overwrite a non-missing
	// destination value with a conflicting source value
	OverwriteMerge ErrorCode = "OVERWRITE_MERGE"
	// NSliceTimesMismatch indicates a merge between sidecars with different
	// slice-timing lengths
	NSliceTimesMismatch ErrorCode = "NSLICE_TIMES_MISMATCH"
)

// Advisory codes. Logged only; processing proceeds with a sensible default.
const (
	// OrphanedFieldmap indicates a fieldmap with no IntendedFor entries
	OrphanedFieldmap ErrorCode = "ORPHANED_FIELDMAP"
	// UnknownModality indicates a file whose datatype folder is not recognized
	UnknownModality ErrorCode = "UNKNOWN_MODALITY"
	// DatatypeChanged indicates a rename that moves a file to a different datatype folder
	DatatypeChanged ErrorCode = "DATATYPE_CHANGED"
)

// CurationError represents a bidsc error with a stable code and optional cause
type CurationError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new CurationError
func New(code ErrorCode, message string, cause error) *CurationError {
	return &CurationError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Newf creates a new CurationError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *CurationError {
	return &CurationError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *CurationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CurationError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *CurationError) WithDetails(details interface{}) *CurationError {
	e.Details = details
	return e
}

// Issue is one reported (non-fatal) problem tied to a summary-table row
type Issue struct {
	Key     string    `json:"keyParamGroup"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Report collects validation issues across a batch so the batch can finish
// and report which rows failed rather than aborting on the first problem.
type Report struct {
	issues []Issue
}

// Add records an issue against a KeyParamGroup
func (r *Report) Add(key string, code ErrorCode, message string) {
	r.issues = append(r.issues, Issue{Key: key, Code: code, Message: message})
}

// Issues returns all recorded issues in insertion order
func (r *Report) Issues() []Issue {
	return r.issues
}

// Empty reports whether no issues were recorded
func (r *Report) Empty() bool {
	return len(r.issues) == 0
}

// Err returns nil, or an aggregate error when raiseOnError is set and the
// report is non-empty. Strict pipelines use this to turn reported issues
// into a failure.
func (r *Report) Err(raiseOnError bool) error {
	if !raiseOnError || r.Empty() {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d operation(s) rejected:", len(r.issues))
	for _, is := range r.issues {
		fmt.Fprintf(&b, "\n  %s [%s] %s", is.Key, is.Code, is.Message)
	}
	return fmt.Errorf("%s", b.String())
}
