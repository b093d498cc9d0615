// Package openaiimg exposes the OpenAI DALL-E image API as a provider.
//
// provider.go implements the synchronous adapter: one API call per
// request, URL payloads back. DALL-E 3 only generates one image per
// call at fixed sizes, so dimensions are clamped and num_images capped.
package openaiimg

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"imagerouter/core"
	"imagerouter/logging"
	"imagerouter/provider"
)

const defaultModel = "dall-e-3"

// supportedSize is the only generation size this adapter requests.
// DALL-E 3 also offers 1792x1024 / 1024x1792 but those trade quality
// for crop, so all dimension requests are clamped instead.
const supportedSize = "1024x1024"

// hdStyles get the "hd" quality tier. Everything else uses standard.
var hdStyles = map[provider.Style]bool{
	provider.StylePhotoreal:   true,
	provider.StyleBrandLayout: true,
}

// Adapter implements provider.Provider against the OpenAI image API.
// Safe for concurrent use.
type Adapter struct {
	client *openai.Client
	model  string
	logger *logging.Logger
}

// NewAdapter creates the OpenAI image adapter. An empty baseURL uses the
// public API; an empty model selects dall-e-3.
func NewAdapter(apiKey, baseURL, model string, logger *logging.Logger) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaiimg: API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = core.GetDefaultHTTPClient(nil)

	return &Adapter{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger.Named("openai"),
	}, nil
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Model() string { return a.model }

func (a *Adapter) Features() provider.Features {
	return provider.Features{
		"img2img":          false,
		"inpainting":       false,
		"upscaling":        false,
		"variations":       true,
		"seeds":            false,
		"negative_prompts": false,
		"control_net":      false,
	}
}

// Generate performs one synchronous image API call. Dimensions other
// than 1024x1024 are clamped with a warning; num_images is capped at 1.
func (a *Adapter) Generate(ctx context.Context, req *provider.Request, opts provider.CallOptions) *provider.Result {
	model := a.model
	if opts.Model != "" {
		model = opts.Model
	}
	start := time.Now()

	if (req.Width != 0 && req.Width != 1024) || (req.Height != 0 && req.Height != 1024) {
		a.logger.Warn("requested dimensions unsupported, clamping",
			zap.Int("width", req.Width),
			zap.Int("height", req.Height),
			zap.String("size", supportedSize))
	}
	if req.NumImages > 1 {
		a.logger.Warn("model generates one image per call, capping",
			zap.Int("requested", req.NumImages))
	}

	quality := openai.CreateImageQualityStandard
	if hdStyles[req.Style] {
		quality = openai.CreateImageQualityHD
	}

	resp, err := a.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		Size:           supportedSize,
		Quality:        quality,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		a.logger.Error("image API call failed", zap.Error(err))
		return provider.Failure(a.Name(), model, core.NewBackendExecutionError(a.Name(), err.Error()))
	}
	if len(resp.Data) == 0 {
		return provider.Failure(a.Name(), model,
			core.NewBackendExecutionError(a.Name(), "empty response data"))
	}

	images := make([]provider.ImagePayload, 0, len(resp.Data))
	metadata := map[string]interface{}{
		"quality": string(quality),
		"size":    supportedSize,
	}
	for _, d := range resp.Data {
		images = append(images, provider.ImagePayload{URL: d.URL})
		if d.RevisedPrompt != "" {
			metadata["revised_prompt"] = d.RevisedPrompt
		}
	}

	a.logger.Info("generation complete",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)))

	return &provider.Result{
		Success:  true,
		Images:   images,
		Provider: a.Name(),
		Model:    model,
		Metadata: metadata,
	}
}

var _ provider.Provider = (*Adapter)(nil)
