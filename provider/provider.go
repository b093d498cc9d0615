// Package provider defines the common contract between the router and the
// image generation backends.
//
// provider.go declares the Provider interface implemented by each backend
// adapter (comfyui, bfl, openaiimg).
package provider

import (
	"context"
)

// Provider is the interface every backend adapter implements.
//
// Generate never returns a Go error: all failures, including transport
// errors and backend-reported errors, are converted into a failure Result
// at the adapter boundary so callers see one uniform contract.
//
// Adapters are shared across concurrent requests. Their configured model
// and host are read-only after construction; per-call overrides travel in
// CallOptions.
type Provider interface {
	// Generate runs one image generation request to completion.
	Generate(ctx context.Context, req *Request, opts CallOptions) *Result

	// Name returns the registry name of this provider (e.g. "comfyui").
	Name() string

	// Model returns the default model this adapter is configured with.
	Model() string

	// Features returns the adapter's declared capability set.
	Features() Features
}
