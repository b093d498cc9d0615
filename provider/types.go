// Package provider defines the common contract between the router and the
// image generation backends.
//
// types.go contains the request/result data model shared by all adapters.
package provider

import (
	"fmt"
)

// Style is a generation style preset. Styles drive routing: each style maps
// to a preferred provider (and optionally a model) in the routing rules.
type Style string

const (
	StyleFastDraft   Style = "fast_draft"
	StylePhotoreal   Style = "photoreal"
	StyleBrandLayout Style = "brand_layout"
	StylePortrait    Style = "portrait"
	StyleProduct     Style = "product"
	StyleLogoText    Style = "logo_text"
	StyleArtistic    Style = "artistic"
	StyleCinematic   Style = "cinematic"
)

// knownStyles is the closed set of valid style tags.
var knownStyles = map[Style]bool{
	StyleFastDraft:   true,
	StylePhotoreal:   true,
	StyleBrandLayout: true,
	StylePortrait:    true,
	StyleProduct:     true,
	StyleLogoText:    true,
	StyleArtistic:    true,
	StyleCinematic:   true,
}

// ParseStyle validates a style tag. Empty input is valid and means
// "no style preference".
func ParseStyle(s string) (Style, error) {
	if s == "" {
		return "", nil
	}
	style := Style(s)
	if !knownStyles[style] {
		return "", fmt.Errorf("provider: unknown style %q", s)
	}
	return style, nil
}

// Request is a normalized image generation request. It is immutable per
// call: adapters must never modify it.
type Request struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int

	// Seed is optional; nil means let the backend pick.
	Seed *int64

	// Steps and GuidanceScale are optional; zero means backend default.
	Steps         int
	GuidanceScale float64

	Style Style

	// SourceImageRef enables img2img. Accepts an http(s) URL, a
	// data:image base64 payload, or a local file path.
	SourceImageRef string

	// MaskImageRef enables inpainting.
	MaskImageRef string

	// Strength is the img2img blend factor (0.0-1.0); nil means backend
	// default.
	Strength *float64

	NumImages int

	// Provider overrides routing when set. An unregistered name falls
	// through to the fallback chain.
	Provider string
}

// RequiresImg2Img reports whether the request needs image-edit capability.
func (r *Request) RequiresImg2Img() bool {
	return r.SourceImageRef != ""
}

// RequiresInpainting reports whether the request needs inpainting.
func (r *Request) RequiresInpainting() bool {
	return r.MaskImageRef != ""
}

// ImagePayload is one generated image. Either URL or Bytes is set,
// never required to be both.
type ImagePayload struct {
	URL   string
	Bytes []byte

	// Seed the backend reported for this image, when available.
	Seed *int64
}

// Result is a normalized generation outcome. Success is never partial:
// either Images holds the full set or it is empty and Error explains why.
// A Result is created once per adapter call and never mutated after return.
type Result struct {
	Success  bool
	Images   []ImagePayload
	Provider string
	Model    string
	Error    string
	Metadata map[string]interface{}
}

// Failure builds a failure Result from an error.
func Failure(providerName, model string, err error) *Result {
	return &Result{
		Success:  false,
		Provider: providerName,
		Model:    model,
		Error:    err.Error(),
	}
}

// Features declares which capabilities a provider supports, keyed by
// feature name (img2img, inpainting, seeds, negative_prompts, ...).
type Features map[string]bool

// Supports reports whether the named feature is declared and true.
func (f Features) Supports(name string) bool {
	return f[name]
}

// CallOptions carries per-call overrides. Routing rules may select a
// feature-specific model for a single call; the override travels here so
// shared adapter state is never touched.
type CallOptions struct {
	// Model overrides the adapter's configured model for this call only.
	// Empty means use the adapter default.
	Model string
}
