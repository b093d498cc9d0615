// Package bfl implements the hosted Flux model family backend (Black
// Forest Labs API).
//
// endpoints.go holds the model-to-endpoint mapping and the per-family
// alternative endpoint tables. The hosted API has renamed endpoints
// across versions without a discovery mechanism, so submission retries a
// fixed, versioned list of spellings when the primary path 404s.
package bfl

import "strings"

// DefaultBaseURL is the hosted API root.
const DefaultBaseURL = "https://api.bfl.ai"

// modelEndpoints maps requested model names onto the endpoint the API
// actually serves. Schnell variants are unavailable hosted and degrade
// to dev.
var modelEndpoints = map[string]string{
	"flux-schnell":     "flux-dev",
	"flux1.1-schnell":  "flux-dev",
	"flux-dev":         "flux-dev",
	"flux1.1-dev":      "flux-dev",
	"flux-pro":         "flux-pro",
	"flux1.1-pro":      "flux-pro",
	"flux-kontext":     "flux-kontext-pro",
	"flux-kontext-pro": "flux-kontext-pro",
	"flux-kontext-max": "flux-kontext-max",
}

// ResolveEndpoint maps a model name to its primary endpoint path.
// Unknown models default to flux-pro.
func ResolveEndpoint(model string) string {
	if ep, ok := modelEndpoints[model]; ok {
		return ep
	}
	return "flux-pro"
}

// AlternativeEndpoints returns the ordered fallback endpoint paths for
// the model family of the given primary endpoint. The list is a fixed,
// versioned table, not a retry-everything policy.
func AlternativeEndpoints(endpoint string) []string {
	lower := strings.ToLower(endpoint)
	switch {
	case strings.Contains(lower, "kontext"):
		return []string{
			"flux-kontext-pro",
			"flux-kontext-max",
			"v1/flux-kontext-pro",
		}
	case strings.Contains(lower, "pro"):
		return []string{
			"flux-pro-1.1",
			"flux-pro",
			"v1/flux-pro-1.1",
		}
	case strings.Contains(lower, "dev"):
		return []string{
			"flux-dev",
			"v1/flux-dev",
		}
	default:
		return nil
	}
}

// AspectRatio maps pixel dimensions onto the closest supported aspect
// ratio string. Ratios outside a 0.1 tolerance of every supported value
// map to 1:1.
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}
	ratio := float64(width) / float64(height)

	candidates := []struct {
		value float64
		name  string
	}{
		{1.0, "1:1"},
		{16.0 / 9.0, "16:9"},
		{9.0 / 16.0, "9:16"},
		{4.0 / 3.0, "4:3"},
		{3.0 / 4.0, "3:4"},
		{21.0 / 9.0, "21:9"},
	}
	for _, c := range candidates {
		diff := ratio - c.value
		if diff < 0 {
			diff = -diff
		}
		if diff < 0.1 {
			return c.name
		}
	}
	return "1:1"
}
