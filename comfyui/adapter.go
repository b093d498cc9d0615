// Package comfyui implements the local node-graph renderer backend.
//
// adapter.go is the provider.Provider implementation: it picks a workflow
// template, validates its model against the discovery catalog, uploads a
// reference image when present, injects the request parameters, submits
// the job, and waits for completion.
package comfyui

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imagerouter/core"
	"imagerouter/imageref"
	"imagerouter/logging"
	"imagerouter/provider"
)

// Default workflow template filenames inside the workflow directory.
const (
	TextToImageWorkflow  = "t2i_flux.json"
	ImageToImageWorkflow = "i2i_flux.json"
)

const (
	defaultSteps = 28
	defaultCFG   = 3.5
)

// Adapter runs generation requests on a local renderer server.
//
// The adapter's configuration is read-only after construction and the
// composed client and waiter are concurrency-safe, so one Adapter serves
// concurrent requests. Per-call model overrides are not supported: the
// model is determined by the workflow template, so CallOptions.Model is
// recorded in metadata but does not change behavior.
type Adapter struct {
	client      *Client
	waiter      *Waiter
	injector    *Injector
	normalizer  *imageref.Normalizer
	workflowDir string
	logger      *logging.Logger
}

// NewAdapter assembles a renderer adapter.
func NewAdapter(client *Client, waiter *Waiter, normalizer *imageref.Normalizer, workflowDir string, logger *logging.Logger) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("comfyui: client cannot be nil")
	}
	if waiter == nil {
		return nil, fmt.Errorf("comfyui: waiter cannot be nil")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("comfyui: normalizer cannot be nil")
	}
	if workflowDir == "" {
		workflowDir = filepath.Join("workflows", "comfyui")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Adapter{
		client:      client,
		waiter:      waiter,
		injector:    NewInjector(logger),
		normalizer:  normalizer,
		workflowDir: workflowDir,
		logger:      logger.Named("comfyui"),
	}, nil
}

// Name implements provider.Provider.
func (a *Adapter) Name() string { return "comfyui" }

// Model implements provider.Provider. The effective model comes from the
// selected workflow template, not adapter configuration.
func (a *Adapter) Model() string { return "comfyui-local" }

// Features implements provider.Provider. Several capabilities depend on
// what the installed workflow templates wire up.
func (a *Adapter) Features() provider.Features {
	return provider.Features{
		"img2img":          true,
		"inpainting":       true,
		"upscaling":        true,
		"variations":       true,
		"seeds":            true,
		"negative_prompts": true,
		"control_net":      true,
		"custom_nodes":     true,
	}
}

// Generate implements provider.Provider. All failures are converted to a
// failure Result at this boundary.
func (a *Adapter) Generate(ctx context.Context, req *provider.Request, opts provider.CallOptions) *provider.Result {
	correlationID := uuid.NewString()
	log := a.logger.With(zap.String("correlation_id", correlationID))

	isEdit := req.RequiresImg2Img()
	workflowName := TextToImageWorkflow
	if isEdit {
		workflowName = ImageToImageWorkflow
	}
	workflowPath := filepath.Join(a.workflowDir, workflowName)

	graph, err := LoadGraph(workflowPath)
	if err != nil {
		log.Error("workflow template load failed", zap.Error(err))
		return provider.Failure(a.Name(), a.Model(), err)
	}

	if err := a.validateModel(ctx, graph, log); err != nil {
		return provider.Failure(a.Name(), a.Model(), err)
	}

	// Upload the reference image before injection so the workflow can
	// point at the backend-local handle.
	uploadedName := ""
	if isEdit {
		uploadedName, err = a.uploadReference(ctx, req.SourceImageRef, log)
		if err != nil {
			return provider.Failure(a.Name(), a.Model(), err)
		}
	}

	working := graph.Clone()
	params := a.buildParams(req, uploadedName, isEdit)
	a.injector.Inject(working, params)

	if remaining, qErr := a.client.QueueRemaining(ctx); qErr == nil {
		log.Debug("backend queue depth", zap.Int("queue_remaining", remaining))
	}

	promptID, err := a.client.QueuePrompt(ctx, working)
	if err != nil {
		log.Error("job submission failed", zap.Error(err))
		return provider.Failure(a.Name(), a.Model(), err)
	}
	log = log.With(zap.String("prompt_id", promptID))
	log.Info("job submitted", zap.String("workflow", workflowName))

	images, err := a.waiter.Wait(ctx, promptID)
	if err != nil {
		log.Error("wait failed", zap.Error(err))
		return provider.Failure(a.Name(), a.Model(), err)
	}
	if len(images) == 0 {
		return provider.Failure(a.Name(), a.Model(),
			core.NewBackendExecutionError(a.Name(), "no images generated"))
	}

	payloads := make([]provider.ImagePayload, len(images))
	for i, data := range images {
		payloads[i] = provider.ImagePayload{Bytes: data}
	}

	result := &provider.Result{
		Success:  true,
		Images:   payloads,
		Provider: a.Name(),
		Model:    a.Model(),
		Metadata: map[string]interface{}{
			"prompt_id": promptID,
			"workflow":  workflowName,
			"width":     req.Width,
			"height":    req.Height,
			"steps":     params.Steps,
			"cfg":       params.CFG,
		},
	}
	if req.Seed != nil {
		result.Metadata["seed"] = *req.Seed
	}
	if opts.Model != "" {
		result.Metadata["requested_model"] = opts.Model
	}
	log.Info("generation complete", zap.Int("images", len(images)))
	return result
}

// buildParams maps a provider request onto injector params, applying the
// renderer defaults when the request leaves fields unset.
func (a *Adapter) buildParams(req *provider.Request, uploadedName string, isEdit bool) Params {
	steps := req.Steps
	if steps <= 0 {
		steps = defaultSteps
	}
	cfg := req.GuidanceScale
	if cfg <= 0 {
		cfg = defaultCFG
	}
	mode := ModeTextToImage
	if isEdit {
		mode = ModeImageToImage
	}
	return Params{
		PositivePrompt: req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		Steps:          steps,
		CFG:            cfg,
		Width:          req.Width,
		Height:         req.Height,
		UploadedImage:  uploadedName,
		Denoise:        req.Strength,
		ModeToken:      mode,
	}
}

// validateModel checks the template's model against the backend's
// discovery catalog. An empty catalog (discovery unavailable) skips
// validation rather than blocking generation.
func (a *Adapter) validateModel(ctx context.Context, g *Graph, log *logging.Logger) error {
	modelName := g.ModelName()
	if modelName == "" {
		return nil
	}

	available, err := a.client.AvailableModels(ctx)
	if err != nil || len(available) == 0 {
		log.Warn("model discovery unavailable, skipping validation", zap.Error(err))
		return nil
	}

	for _, m := range available {
		if m == modelName {
			log.Debug("workflow model validated", zap.String("model", modelName))
			return nil
		}
	}
	return core.NewValidationError(modelName, available)
}

// uploadReference normalizes and uploads the request's reference image,
// returning the backend-local filename.
func (a *Adapter) uploadReference(ctx context.Context, ref string, log *logging.Logger) (string, error) {
	data, err := a.normalizer.Normalize(ctx, ref)
	if err != nil {
		log.Error("reference image normalization failed", zap.Error(err))
		return "", err
	}

	name := fmt.Sprintf("upload_%s.png", uuid.NewString()[:8])
	uploaded, err := a.client.UploadImage(ctx, name, data)
	if err != nil {
		log.Error("reference image upload failed", zap.Error(err))
		return "", err
	}
	log.Debug("reference image uploaded", zap.String("name", uploaded))
	return uploaded, nil
}

// Probe reports whether the backend is reachable, used at registry
// initialization.
func (a *Adapter) Probe(ctx context.Context) bool {
	return a.client.Probe(ctx)
}

var _ provider.Provider = (*Adapter)(nil)
