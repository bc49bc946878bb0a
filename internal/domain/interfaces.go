package domain

import (
	"context"
	"time"
)

// ProviderResult is what an adapter returns for a completed dispatch.
type ProviderResult struct {
	Content string
	Usage   Usage
	Latency time.Duration
}

// Provider is the single capability interface every upstream model backend
// implements. The router stays vendor-agnostic: different call shapes live
// behind per-vendor adapters.
type Provider interface {
	// ID returns the provider's configured identifier.
	ID() string

	// Descriptor returns the provider's deployment configuration.
	Descriptor() ProviderDescriptor

	// Complete dispatches the prompt and blocks until the upstream
	// responds or ctx is done.
	Complete(ctx context.Context, req *GenerationRequest) (*ProviderResult, error)

	// Probe performs a lightweight health check against the upstream.
	Probe(ctx context.Context) error
}
