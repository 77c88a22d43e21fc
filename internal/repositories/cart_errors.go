package repositories

import (
	"errors"
	"fmt"
)

// CartErrorCode enumerates snapshot persistence failure causes.
type CartErrorCode string

const (
	// CartErrorUnknown represents an unspecified failure.
	CartErrorUnknown CartErrorCode = "cart_unknown"
	// CartErrorCorrupt indicates the stored snapshot could not be decoded.
	CartErrorCorrupt CartErrorCode = "cart_corrupt"
	// CartErrorUnavailable indicates the backing store could not be read or written.
	CartErrorUnavailable CartErrorCode = "cart_unavailable"
)

// CartError wraps snapshot failures with machine readable codes.
type CartError struct {
	Op      string
	Code    CartErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CartError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CartError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCartError constructs a typed cart snapshot error.
func NewCartError(op string, code CartErrorCode, message string, err error) *CartError {
	if message == "" {
		message = string(code)
	}
	return &CartError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCartCorrupt reports whether err signals an undecodable snapshot.
func IsCartCorrupt(err error) bool {
	var cartErr *CartError
	return errors.As(err, &cartErr) && cartErr.Code == CartErrorCorrupt
}
