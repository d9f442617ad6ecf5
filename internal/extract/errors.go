package extract

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInsufficientText       = errors.New("insufficient text in document text layer")
	ErrUnsupportedCombination = errors.New("unsupported ingest kind and mime type combination")
	ErrNoProviderAvailable    = errors.New("no extraction provider available")
	ErrEmptyText              = errors.New("provider returned no text")
	ErrUnsupportedMime        = errors.New("mime type not supported by provider")
)

// ErrorKind tells whether a provider failure might succeed on another try.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// ProviderError is a failure reported by one provider.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable provider failure.
func Transient(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: KindTransient, Err: err}
}

// Permanent wraps err as a provider failure that will not go away on retry.
func Permanent(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: KindPermanent, Err: err}
}

// asProviderError normalizes any provider failure into a *ProviderError.
// Deadline and cancellation errors are transient, anything else untyped is permanent.
func asProviderError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ProviderError{Provider: provider, Kind: KindTransient, Err: err}
	}
	return &ProviderError{Provider: provider, Kind: KindPermanent, Err: err}
}
