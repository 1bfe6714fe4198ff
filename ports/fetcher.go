package ports

import "context"

// FetcherPort downloads a remote resource in full
type FetcherPort interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
