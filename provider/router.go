// Package provider defines the common contract between the router and the
// image generation backends.
//
// router.go implements rule-based provider selection: explicit override,
// then feature requirements, then style mapping, then the default provider,
// then an ordered fallback chain.
package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"imagerouter/core"
	"imagerouter/logging"
)

// Router selects a provider per request and dispatches generation to it.
// The registry and rule table are read-only after construction, so a
// single Router is safe for concurrent use.
type Router struct {
	registry *Registry
	rules    *RoutingRules
	logger   *logging.Logger
}

// NewRouter creates a Router over an initialized registry and rule table.
func NewRouter(registry *Registry, rules *RoutingRules, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	if rules == nil {
		rules = DefaultRoutingRules()
	}
	return &Router{
		registry: registry,
		rules:    rules,
		logger:   logger.Named("router"),
	}
}

// Selection is the outcome of routing one request: the chosen provider
// and the per-call options (model override) that travel with the call.
type Selection struct {
	Provider Provider
	Options  CallOptions

	// Reason records which rule matched, for logging and result metadata.
	Reason string
}

// Select resolves a provider for the request. The rules are evaluated in
// strict order, first match wins:
//
//  1. explicit provider override (unregistered names fall through to the
//     fallback chain, never a hard error)
//  2. feature requirement: img2img when a source image is present,
//     inpainting when a mask is present
//  3. style mapping
//  4. default provider, then the fallback chain in order
//
// Returns false only when no provider is registered at all (or the whole
// fallback chain is unregistered).
func (r *Router) Select(req *Request) (Selection, bool) {
	// 1. Explicit override, used verbatim with no feature or style checks.
	if req.Provider != "" {
		if p, ok := r.registry.Get(req.Provider); ok {
			return Selection{Provider: p, Reason: "override"}, true
		}
		r.logger.Warn("requested provider not registered, using fallback chain",
			zap.String("requested", req.Provider))
		return r.fallback()
	}

	// 2. Feature requirements take precedence over style.
	if req.RequiresImg2Img() {
		if sel, ok := r.matchRule(r.rules.FeatureRouting["img2img"], "feature:img2img"); ok {
			return sel, true
		}
	}
	if req.RequiresInpainting() {
		if sel, ok := r.matchRule(r.rules.FeatureRouting["inpainting"], "feature:inpainting"); ok {
			return sel, true
		}
	}

	// 3. Style mapping.
	if req.Style != "" {
		if rule, ok := r.rules.StyleRouting[string(req.Style)]; ok {
			if sel, ok := r.matchRule(rule, "style:"+string(req.Style)); ok {
				return sel, true
			}
		}
	}

	// 4. Default provider, then the fallback chain.
	if p, ok := r.registry.Get(r.rules.DefaultProvider); ok {
		return Selection{Provider: p, Reason: "default"}, true
	}
	return r.fallback()
}

// matchRule resolves a single rule against the registry. The rule's model
// override, if any, travels in CallOptions so the shared adapter is never
// mutated.
func (r *Router) matchRule(rule Rule, reason string) (Selection, bool) {
	if rule.Provider == "" {
		return Selection{}, false
	}
	p, ok := r.registry.Get(rule.Provider)
	if !ok {
		return Selection{}, false
	}
	sel := Selection{Provider: p, Reason: reason}
	if rule.Model != "" && rule.Model != p.Model() {
		sel.Options.Model = rule.Model
		r.logger.Info("applying per-call model override",
			zap.String("provider", rule.Provider),
			zap.String("model", rule.Model),
			zap.String("rule", reason))
	}
	return sel, true
}

// fallback walks the fallback chain and returns the first registered
// provider.
func (r *Router) fallback() (Selection, bool) {
	for _, name := range r.rules.FallbackChain {
		if p, ok := r.registry.Get(name); ok {
			r.logger.Warn("using fallback provider", zap.String("provider", name))
			return Selection{Provider: p, Reason: "fallback"}, true
		}
	}
	return Selection{}, false
}

// Generate routes the request and runs it on the selected provider.
// When no provider is available the failure is a well-formed Result, not
// an error.
func (r *Router) Generate(ctx context.Context, req *Request) *Result {
	sel, ok := r.Select(req)
	if !ok {
		err := core.NewNoProviderError()
		r.logger.Error("no available image providers", zap.Error(err))
		return Failure("unknown", "unknown", err)
	}

	model := sel.Provider.Model()
	if sel.Options.Model != "" {
		model = sel.Options.Model
	}
	r.logger.Info("dispatching generation",
		zap.String("provider", sel.Provider.Name()),
		zap.String("model", model),
		zap.String("rule", sel.Reason))

	start := time.Now()
	result := sel.Provider.Generate(ctx, req, sel.Options)
	elapsed := time.Since(start)

	if result.Metadata == nil {
		result.Metadata = make(map[string]interface{})
	}
	result.Metadata["routing_rule"] = sel.Reason
	result.Metadata["duration_ms"] = elapsed.Milliseconds()

	if result.Success {
		r.logger.Info("generation succeeded",
			zap.String("provider", result.Provider),
			zap.Int("images", len(result.Images)),
			zap.Duration("elapsed", elapsed))
	} else {
		r.logger.Error("generation failed",
			zap.String("provider", result.Provider),
			zap.String("error", result.Error),
			zap.Duration("elapsed", elapsed))
	}
	return result
}

// Available describes a registered provider for status surfaces.
type Available struct {
	Name     string   `json:"name"`
	Model    string   `json:"model"`
	Features Features `json:"features"`
}

// AvailableProviders lists the registered providers with their declared
// capabilities, in registration order.
func (r *Router) AvailableProviders() []Available {
	names := r.registry.Names()
	out := make([]Available, 0, len(names))
	for _, name := range names {
		p, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, Available{
			Name:     p.Name(),
			Model:    p.Model(),
			Features: p.Features(),
		})
	}
	return out
}
