package ingest

import "fmt"

const (
	ProviderLive       = "live"
	ProviderHistorical = "historical"
)

// FetchError wraps a network, timeout or status failure from a provider.
// It is never fatal: the cycle that produced it yields no updates.
type FetchError struct {
	Provider string
	Op       string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
