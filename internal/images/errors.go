package images

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrElementNotFound = errors.New("element not found")
	ErrMissingSource   = errors.New("element has no image source")
	ErrInvalidPayload  = errors.New("invalid inline payload")
)

// DownloadFailedError wraps any network or HTTP status failure for one remote image.
type DownloadFailedError struct {
	URL string
	Err error
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("failed to download %s: %v", e.URL, e.Err)
}

func (e *DownloadFailedError) Unwrap() error {
	return e.Err
}
