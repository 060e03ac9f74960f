package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive operations.
var (
	// ErrNotFound indicates the item or file does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrAccessDenied indicates the keys lack permission for the item.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates the access/secret pair was rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled indicates the archive asked us to slow down.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the archive is temporarily unavailable.
	ErrUnavailable = errors.New("archive unavailable")

	// ErrVerifyFailed indicates the stored checksum differs from the local one.
	ErrVerifyFailed = errors.New("upload verification failed")

	// ErrInvalidMetadata indicates required metadata fields are missing.
	ErrInvalidMetadata = errors.New("invalid metadata")
)

// ServiceError wraps archive failures with the operation and item involved.
type ServiceError struct {
	// Op is the operation that failed (e.g., "ListFiles", "Upload").
	Op string

	// Identifier is the archive item.
	Identifier string

	// File is the remote file name, if applicable.
	File string

	// Kind is one of the sentinel errors above, or nil when unclassified.
	Kind error

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	target := e.Identifier
	if e.File != "" {
		target += "/" + e.File
	}
	if e.Kind != nil && e.Err != nil && !errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("archive %s: %s: %v: %v", e.Op, target, e.Kind, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("archive %s: %s: %v", e.Op, target, e.Kind)
	}
	return fmt.Sprintf("archive %s: %s: %v", e.Op, target, e.Err)
}

// Unwrap exposes both the classification and the cause to errors.Is/As.
func (e *ServiceError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsNotFound returns true if the error indicates a missing item or file.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
