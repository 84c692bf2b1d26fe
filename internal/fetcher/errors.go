package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies a failed download
type Kind string

const (
	KindInvalidURL         Kind = "invalid_url"
	KindConnectionFailed   Kind = "connection_failed"
	KindHTTPError          Kind = "http_error"
	KindStorageWriteFailed Kind = "storage_write_failed"
)

var (
	ErrInvalidURL         = errors.New("invalid url")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrHTTPStatus         = errors.New("unexpected http status")
	ErrStorageWriteFailed = errors.New("storage write failed")
)

// Error is the failure half of an Outcome
type Error struct {
	Kind   Kind
	Status int // set for KindHTTPError
	URL    string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPError:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidURL:
		return ErrInvalidURL
	case KindConnectionFailed:
		return ErrConnectionFailed
	case KindHTTPError:
		return ErrHTTPStatus
	default:
		return ErrStorageWriteFailed
	}
}

func newError(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}
