// adapter.go exposes the hosted Flux backend as a provider. It builds
// the request payload, submits with endpoint fallback, polls to
// completion, and returns the sample URLs.
package bfl

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"imagerouter/core"
	"imagerouter/logging"
	"imagerouter/provider"
)

// DefaultModel is used when neither the adapter configuration nor the
// per-call options name a model.
const DefaultModel = "flux-pro"

const defaultImg2ImgStrength = 0.7

// Adapter implements provider.Provider against the hosted Flux API.
type Adapter struct {
	client *Client
	model  string
	logger *logging.Logger
}

// NewAdapter wraps a Client as a provider. An empty model selects
// DefaultModel.
func NewAdapter(client *Client, model string, logger *logging.Logger) *Adapter {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Adapter{
		client: client,
		model:  model,
		logger: logger.Named("flux"),
	}
}

func (a *Adapter) Name() string { return "flux" }

func (a *Adapter) Model() string { return a.model }

func (a *Adapter) Features() provider.Features {
	return provider.Features{
		"img2img":          true,
		"inpainting":       false,
		"upscaling":        false,
		"variations":       true,
		"seeds":            true,
		"negative_prompts": true,
		"control_net":      false,
	}
}

// Generate submits the request and polls until images are ready. A
// per-call model override is honored for this call only.
func (a *Adapter) Generate(ctx context.Context, req *provider.Request, opts provider.CallOptions) *provider.Result {
	model := a.model
	if opts.Model != "" {
		model = opts.Model
	}
	start := time.Now()

	payload, err := a.buildPayload(req)
	if err != nil {
		return provider.Failure(a.Name(), model, err)
	}

	job, err := a.client.Submit(ctx, model, payload)
	if err != nil {
		a.logger.Error("submission failed",
			zap.String("model", model), zap.Error(err))
		return provider.Failure(a.Name(), model, err)
	}

	urls, err := a.client.Poll(ctx, job)
	if err != nil {
		a.logger.Error("generation failed",
			zap.String("model", model),
			zap.String("endpoint", job.Endpoint),
			zap.Error(err))
		return provider.Failure(a.Name(), model, err)
	}

	images := make([]provider.ImagePayload, 0, len(urls))
	for _, u := range urls {
		images = append(images, provider.ImagePayload{URL: u, Seed: req.Seed})
	}

	a.logger.Info("generation complete",
		zap.String("model", model),
		zap.String("endpoint", job.Endpoint),
		zap.Int("images", len(images)),
		zap.Duration("duration", time.Since(start)))

	return &provider.Result{
		Success:  true,
		Images:   images,
		Provider: a.Name(),
		Model:    model,
		Metadata: map[string]interface{}{
			"endpoint":    job.Endpoint,
			"polling_url": job.PollingURL,
		},
	}
}

// buildPayload assembles the API request body. Optional fields are only
// present when the caller supplied them.
func (a *Adapter) buildPayload(req *provider.Request) (map[string]interface{}, error) {
	numImages := req.NumImages
	if numImages <= 0 {
		numImages = 1
	}
	payload := map[string]interface{}{
		"prompt":       req.Prompt,
		"num_images":   numImages,
		"aspect_ratio": AspectRatio(req.Width, req.Height),
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}
	if req.Steps > 0 {
		payload["num_inference_steps"] = req.Steps
	}
	if req.GuidanceScale > 0 {
		payload["guidance_scale"] = req.GuidanceScale
	}

	if req.SourceImageRef != "" {
		if err := a.attachSourceImage(payload, req.SourceImageRef); err != nil {
			return nil, err
		}
		strength := defaultImg2ImgStrength
		if req.Strength != nil {
			strength = *req.Strength
		}
		payload["strength"] = strength
	}
	return payload, nil
}

// attachSourceImage maps the reference onto the API's image fields:
// remote URLs pass through as image_url, data URLs and local files are
// sent inline as base64.
func (a *Adapter) attachSourceImage(payload map[string]interface{}, ref string) error {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		payload["image_url"] = ref
	case strings.HasPrefix(ref, "data:image"):
		idx := strings.Index(ref, "base64,")
		if idx < 0 {
			return core.NewUploadError("decode", errMalformedDataURL)
		}
		payload["image"] = ref[idx+len("base64,"):]
	default:
		data, err := os.ReadFile(ref)
		if err != nil {
			return core.NewUploadError("read", err)
		}
		payload["image"] = base64.StdEncoding.EncodeToString(data)
	}
	return nil
}

var errMalformedDataURL = errors.New("data URL has no base64 payload")

var _ provider.Provider = (*Adapter)(nil)
