package fetcher

import (
	"fmt"
)

// UpstreamFetchError reports a failed call to the search API or a feed host.
// StatusCode is zero for transport failures.
type UpstreamFetchError struct {
	URI        string
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s returned status %d", e.URI, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.URI, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// SerializationError reports a payload that is not valid JSON text
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("invalid JSON payload: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
