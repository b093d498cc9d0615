// Package provider defines the common contract between the router and the
// image generation backends.
//
// rules.go loads the routing rule table from a YAML file, falling back to
// a baked-in default table when the file is absent or unparsable. Rules
// are loaded once at startup and read-only during request handling.
package provider

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule maps a style tag or required feature to a provider, with an
// optional per-call model override.
type Rule struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
}

// RoutingRules is the full routing table.
type RoutingRules struct {
	DefaultProvider string          `yaml:"default_provider"`
	StyleRouting    map[string]Rule `yaml:"style_routing"`
	FeatureRouting  map[string]Rule `yaml:"feature_routing"`
	FallbackChain   []string        `yaml:"fallback_chain"`
}

// DefaultRoutingRules returns the built-in routing table: the local
// renderer handles most styles and all image-edit work, OpenAI takes the
// text-and-layout styles it renders better.
func DefaultRoutingRules() *RoutingRules {
	comfySDXL := Rule{Provider: "comfyui", Model: "sd_xl_base_1.0.safetensors", Priority: 1}
	return &RoutingRules{
		DefaultProvider: "comfyui",
		StyleRouting: map[string]Rule{
			string(StyleFastDraft):   comfySDXL,
			string(StylePhotoreal):   comfySDXL,
			string(StyleBrandLayout): {Provider: "openai", Priority: 1},
			string(StyleLogoText):    {Provider: "openai", Priority: 1},
			string(StylePortrait):    comfySDXL,
			string(StyleProduct):     {Provider: "openai", Priority: 1},
			string(StyleArtistic):    comfySDXL,
			string(StyleCinematic):   comfySDXL,
		},
		FeatureRouting: map[string]Rule{
			"img2img":    comfySDXL,
			"inpainting": comfySDXL,
		},
		FallbackChain: []string{"comfyui", "flux", "openai"},
	}
}

// LoadRoutingRules reads the routing table from path. A missing file
// yields the default table without error; a present but unparsable file
// is an error so a broken deployment is caught at startup rather than
// silently routing everything to defaults.
func LoadRoutingRules(path string) (*RoutingRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRoutingRules(), nil
		}
		return nil, fmt.Errorf("provider: failed to read routing rules %s: %w", path, err)
	}

	var rules RoutingRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("provider: failed to parse routing rules %s: %w", path, err)
	}

	// Fill gaps from defaults so a partial file stays usable.
	defaults := DefaultRoutingRules()
	if rules.DefaultProvider == "" {
		rules.DefaultProvider = defaults.DefaultProvider
	}
	if rules.StyleRouting == nil {
		rules.StyleRouting = defaults.StyleRouting
	}
	if rules.FeatureRouting == nil {
		rules.FeatureRouting = defaults.FeatureRouting
	}
	if len(rules.FallbackChain) == 0 {
		rules.FallbackChain = defaults.FallbackChain
	}

	return &rules, nil
}
