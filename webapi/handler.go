// handler.go implements the HTTP handlers for generation, provider
// listing, history, and health.
package webapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"imagerouter/db"
	"imagerouter/logging"
	"imagerouter/provider"
)

// HistoryStore is the narrow persistence surface the handlers need.
type HistoryStore interface {
	InsertGeneration(ctx context.Context, rec db.GenerationRecord) (int64, error)
	RecentGenerations(ctx context.Context, limit int) ([]db.GenerationRecord, error)
}

// Handler holds the routing engine and its collaborators.
type Handler struct {
	router  *provider.Router
	history HistoryStore
	logger  *logging.Logger
}

// NewHandler creates the HTTP handler set. history may be nil, in which
// case completed requests are not recorded.
func NewHandler(router *provider.Router, history HistoryStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		router:  router,
		history: history,
		logger:  logger.Named("webapi"),
	}
}

// GenerateRequest is the POST /api/generate body.
type GenerateRequest struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	Seed           *int64   `json:"seed"`
	Steps          int      `json:"steps"`
	GuidanceScale  float64  `json:"guidance_scale"`
	Style          string   `json:"style"`
	SourceImage    string   `json:"source_image"`
	MaskImage      string   `json:"mask_image"`
	Strength       *float64 `json:"strength"`
	NumImages      int      `json:"num_images"`
	Provider       string   `json:"provider"`
}

// imageJSON is one generated image in the response. Backends that return
// bytes are base64-encoded; URL backends pass the URL through.
type imageJSON struct {
	URL  string `json:"url,omitempty"`
	B64  string `json:"b64,omitempty"`
	Seed *int64 `json:"seed,omitempty"`
}

// generateResponse is the data payload for a completed generation.
type generateResponse struct {
	Provider string                 `json:"provider"`
	Model    string                 `json:"model"`
	Images   []imageJSON            `json:"images"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// GenerateHandler routes one generation request and records the outcome.
func (h *Handler) GenerateHandler(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, Fail("missing prompt"))
		return
	}
	style, err := provider.ParseStyle(req.Style)
	if err != nil {
		c.JSON(http.StatusBadRequest, Fail(err.Error()))
		return
	}

	genReq := &provider.Request{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		Style:          style,
		SourceImageRef: req.SourceImage,
		MaskImageRef:   req.MaskImage,
		Strength:       req.Strength,
		NumImages:      req.NumImages,
		Provider:       req.Provider,
	}

	correlationID := uuid.New().String()
	h.logger.Info("generation request",
		zap.String("correlation_id", correlationID),
		zap.String("style", req.Style),
		zap.String("provider_override", req.Provider))

	start := time.Now()
	result := h.router.Generate(c.Request.Context(), genReq)
	h.record(c.Request.Context(), correlationID, genReq, result, time.Since(start))

	if !result.Success {
		c.JSON(http.StatusInternalServerError, Fail(result.Error))
		return
	}

	images := make([]imageJSON, 0, len(result.Images))
	for _, img := range result.Images {
		out := imageJSON{URL: img.URL, Seed: img.Seed}
		if len(img.Bytes) > 0 {
			out.B64 = base64.StdEncoding.EncodeToString(img.Bytes)
		}
		images = append(images, out)
	}

	c.JSON(http.StatusOK, Success(generateResponse{
		Provider: result.Provider,
		Model:    result.Model,
		Images:   images,
		Metadata: result.Metadata,
	}))
}

// record writes the history row. Persistence failure is logged, never
// surfaced to the client.
func (h *Handler) record(ctx context.Context, correlationID string, req *provider.Request, result *provider.Result, elapsed time.Duration) {
	if h.history == nil {
		return
	}

	_, err := h.history.InsertGeneration(ctx, db.GenerationRecord{
		CorrelationID: correlationID,
		Provider:      result.Provider,
		Model:         result.Model,
		PromptPreview: db.TruncatePrompt(req.Prompt),
		Style:         string(req.Style),
		Success:       result.Success,
		ErrorMessage:  result.Error,
		DurationMS:    int(elapsed.Milliseconds()),
		ImageCount:    len(result.Images),
	})
	if err != nil {
		h.logger.Error("failed to record generation", zap.Error(err))
	}
}

// ProvidersHandler lists registered providers with their feature sets.
func (h *Handler) ProvidersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, Success(h.router.AvailableProviders()))
}

// HistoryHandler returns recent generation records.
func (h *Handler) HistoryHandler(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, Success([]db.GenerationRecord{}))
		return
	}

	records, err := h.history.RecentGenerations(c.Request.Context(), 50)
	if err != nil {
		h.logger.Error("failed to query history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Fail("failed to query history"))
		return
	}
	if records == nil {
		records = []db.GenerationRecord{}
	}
	c.JSON(http.StatusOK, Success(records))
}

// HealthzHandler reports liveness.
func (h *Handler) HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, Success(gin.H{"status": "ok"}))
}
