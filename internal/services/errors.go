package services

import (
	"errors"

	"couple-sync-backend/internal/docstore"
)

// ErrorKind classifies domain failures for callers
type ErrorKind string

const (
	KindNotAuthenticated    ErrorKind = "NotAuthenticated"
	KindInvalidCode         ErrorKind = "InvalidCode"
	KindCodeExpired         ErrorKind = "CodeExpired"
	KindCodeAlreadyUsed     ErrorKind = "CodeAlreadyUsed"
	KindCannotUseSelf       ErrorKind = "CannotUseSelf"
	KindNotConnected        ErrorKind = "NotConnected"
	KindAlreadyConnected    ErrorKind = "AlreadyConnected"
	KindCompressionFailed   ErrorKind = "CompressionFailed"
	KindUploadFailed        ErrorKind = "UploadFailed"
	KindDownloadFailed      ErrorKind = "DownloadFailed"
	KindDeleteFailed        ErrorKind = "DeleteFailed"
	KindTransactionConflict ErrorKind = "TransactionConflict"
	KindSyncMomentExpired   ErrorKind = "SyncMomentExpired"
	KindNotFound            ErrorKind = "NotFound"
	KindInvalidArgument     ErrorKind = "InvalidArgument"
	KindUnknown             ErrorKind = "Unknown"
)

// Error is a domain error with a user-facing message
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrNotAuthenticated    = &Error{KindNotAuthenticated, "You must be signed in."}
	ErrInvalidCode         = &Error{KindInvalidCode, "This invite code is invalid. Please check and try again."}
	ErrCodeExpired         = &Error{KindCodeExpired, "This invite code has expired. Ask your partner for a new one."}
	ErrCodeAlreadyUsed     = &Error{KindCodeAlreadyUsed, "This invite code has already been used."}
	ErrCannotUseSelf       = &Error{KindCannotUseSelf, "You cannot use your own invite code."}
	ErrNotConnected        = &Error{KindNotConnected, "You are not connected to a partner."}
	ErrAlreadyConnected    = &Error{KindAlreadyConnected, "You are already connected to a partner."}
	ErrCompressionFailed   = &Error{KindCompressionFailed, "Failed to process the image."}
	ErrUploadFailed        = &Error{KindUploadFailed, "Failed to upload the photo. Please try again."}
	ErrDownloadFailed      = &Error{KindDownloadFailed, "Failed to load the photo."}
	ErrDeleteFailed        = &Error{KindDeleteFailed, "Failed to delete the photo."}
	ErrTransactionConflict = &Error{KindTransactionConflict, "Too many people are editing this right now. Please try again."}
	ErrSyncMomentExpired   = &Error{KindSyncMomentExpired, "This sync moment has expired."}
	ErrNotFound            = &Error{KindNotFound, "The requested item could not be found."}
	ErrInvalidArgument     = &Error{KindInvalidArgument, "The request is invalid."}
	ErrUnknown             = &Error{KindUnknown, "An unknown error occurred."}
)

// domainError pairs a domain error with the underlying cause so both stay
// reachable through errors.Is
type domainError struct {
	kind  *Error
	cause error
}

func (e *domainError) Error() string {
	return e.kind.Message + ": " + e.cause.Error()
}

func (e *domainError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// wrap attaches a domain error to cause
func wrap(kind *Error, cause error) error {
	if cause == nil {
		return kind
	}
	return &domainError{kind: kind, cause: cause}
}

// Kind reports the kind of err; nil yields an empty kind
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, docstore.ErrConflict):
		return KindTransactionConflict
	case errors.Is(err, docstore.ErrNotFound):
		return KindNotFound
	}
	return KindUnknown
}

// Message returns the user-facing message for err
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	switch Kind(err) {
	case KindTransactionConflict:
		return ErrTransactionConflict.Message
	case KindNotFound:
		return ErrNotFound.Message
	}
	return ErrUnknown.Message
}
