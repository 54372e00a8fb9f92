package common

import (
	"errors"
	"fmt"
)

// ReasonCode is the machine-readable failure code surfaced on a failed
// upload job.
type ReasonCode string

const (
	ReasonUnsupportedMedia     ReasonCode = "unsupported_media"
	ReasonCorruptMedia         ReasonCode = "corrupt_media"
	ReasonDetectionUnavailable ReasonCode = "detection_unavailable"
	ReasonPayloadTooLarge      ReasonCode = "payload_too_large"
	ReasonCancelled            ReasonCode = "cancelled"
	ReasonInternal             ReasonCode = "internal"
)

// ReasonError pairs a taxonomy code with a human-readable message. Job-level
// failures are surfaced verbatim to callers as code + message.
type ReasonError struct {
	Code    ReasonCode
	Message string
	Err     error
}

func (e *ReasonError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ReasonError) Unwrap() error { return e.Err }

// Is matches two ReasonErrors by code so errors.Is works with the
// constructors below.
func (e *ReasonError) Is(target error) bool {
	var other *ReasonError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func NewUnsupportedMedia(format string, err error) error {
	return &ReasonError{Code: ReasonUnsupportedMedia, Message: fmt.Sprintf("unsupported media format %q", format), Err: err}
}

func NewCorruptMedia(msg string, err error) error {
	return &ReasonError{Code: ReasonCorruptMedia, Message: msg, Err: err}
}

func NewDetectionUnavailable(msg string, err error) error {
	return &ReasonError{Code: ReasonDetectionUnavailable, Message: msg, Err: err}
}

func NewPayloadTooLarge(size, limit int64) error {
	return &ReasonError{Code: ReasonPayloadTooLarge, Message: fmt.Sprintf("file size %d exceeds limit %d", size, limit)}
}

func NewCancelled() error {
	return &ReasonError{Code: ReasonCancelled, Message: "job cancelled"}
}

// ReasonOf extracts the taxonomy code from an error chain, defaulting to
// ReasonInternal for errors that carry no code.
func ReasonOf(err error) ReasonCode {
	var re *ReasonError
	if errors.As(err, &re) {
		return re.Code
	}
	return ReasonInternal
}
