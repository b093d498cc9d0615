// Package comfyui implements the local node-graph renderer backend.
//
// client.go is the HTTP client for the renderer's API surface: prompt
// submission, history lookup, artifact retrieval, reference-image upload,
// model discovery, and the startup reachability probe.
package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imagerouter/core"
	"imagerouter/logging"
)

// ArtifactRef identifies one output artifact on the backend.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the per-node output block of a history entry.
type NodeOutput struct {
	Images []ArtifactRef `json:"images"`
}

// HistoryStatus is the status block of a history entry.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// HistoryEntry is one job's record from the history endpoint.
type HistoryEntry struct {
	Status  HistoryStatus         `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs"`
}

// Failed reports whether the backend recorded a terminal error for the
// job.
func (h *HistoryEntry) Failed() bool {
	return h.Status.StatusStr == "error"
}

// Client talks to one renderer server. Safe for concurrent use; the model
// catalog is fetched once and cached.
type Client struct {
	serverAddress string
	clientID      string
	httpClient    *http.Client
	probeTimeout  time.Duration
	logger        *logging.Logger

	modelsMu sync.Mutex
	models   []string
}

// NewClient creates a renderer client.
//
// serverAddress is host:port (e.g. "127.0.0.1:8188"). An empty clientID
// gets a generated uuid; the same id must be used for prompt submission
// and the event channel so completion events can be correlated.
func NewClient(serverAddress, clientID string, httpClient *http.Client, probeTimeout time.Duration, logger *logging.Logger) *Client {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if httpClient == nil {
		httpClient = core.GetDefaultHTTPClient(nil)
	}
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		serverAddress: serverAddress,
		clientID:      clientID,
		httpClient:    httpClient,
		probeTimeout:  probeTimeout,
		logger:        logger.Named("comfyui-client"),
	}
}

// ServerAddress returns the configured host:port.
func (c *Client) ServerAddress() string { return c.serverAddress }

// ClientID returns the client identifier used on /prompt and /ws.
func (c *Client) ClientID() string { return c.clientID }

func (c *Client) baseURL() string {
	return "http://" + c.serverAddress
}

// QueuePrompt submits a prepared workflow graph for execution. Returns
// the prompt id the job is tracked under.
func (c *Client) QueuePrompt(ctx context.Context, g *Graph) (string, error) {
	promptID := uuid.NewString()
	payload := map[string]interface{}{
		"prompt":    g,
		"client_id": c.clientID,
		"prompt_id": promptID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", core.NewSubmissionError(c.serverAddress, err)
	}

	endpoint := c.baseURL() + "/prompt"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", core.NewSubmissionError(endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", core.NewSubmissionError(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", core.NewSubmissionError(endpoint,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(detail)))
	}

	c.logger.Debug("prompt queued",
		zap.String("prompt_id", promptID),
		zap.Int("nodes", g.Len()))
	return promptID, nil
}

// History fetches the job record for a prompt id. The second return is
// false when the job has not appeared in history yet, which is normal
// shortly after submission and not an error.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	endpoint := c.baseURL() + "/history/" + url.PathEscape(promptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("comfyui: history returned status %d", resp.StatusCode)
	}

	var history map[string]*HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, false, fmt.Errorf("comfyui: failed to decode history: %w", err)
	}

	entry, ok := history[promptID]
	if !ok {
		return nil, false, nil
	}
	return entry, true, nil
}

// FetchImage retrieves the raw bytes of one output artifact.
func (c *Client) FetchImage(ctx context.Context, ref ArtifactRef) ([]byte, error) {
	folderType := ref.Type
	if folderType == "" {
		folderType = "output"
	}
	params := url.Values{}
	params.Set("filename", ref.Filename)
	params.Set("subfolder", ref.Subfolder)
	params.Set("type", folderType)

	endpoint := c.baseURL() + "/view?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfyui: view returned status %d for %s", resp.StatusCode, ref.Filename)
	}
	return io.ReadAll(resp.Body)
}

// UploadImage pushes reference-image bytes to the backend's input store
// and returns the backend-local filename to reference in the workflow.
func (c *Client) UploadImage(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return "", core.NewUploadError("multipart", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", core.NewUploadError("multipart", err)
	}
	if err := writer.WriteField("overwrite", "true"); err != nil {
		return "", core.NewUploadError("multipart", err)
	}
	if err := writer.Close(); err != nil {
		return "", core.NewUploadError("multipart", err)
	}

	endpoint := c.baseURL() + "/upload/image"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", core.NewUploadError("upload", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", core.NewUploadError("upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", core.NewUploadError("upload",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var result struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", core.NewUploadError("upload", err)
	}
	if result.Name == "" {
		return name, nil
	}
	return result.Name, nil
}

// AvailableModels returns the deployable model catalog: the union of
// CheckpointLoaderSimple checkpoints and UNETLoader models, deduplicated
// in discovery order. Cached after the first successful call.
func (c *Client) AvailableModels(ctx context.Context) ([]string, error) {
	c.modelsMu.Lock()
	defer c.modelsMu.Unlock()
	if c.models != nil {
		return c.models, nil
	}

	endpoint := c.baseURL() + "/object_info"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfyui: object_info returned status %d", resp.StatusCode)
	}

	var objectInfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&objectInfo); err != nil {
		return nil, fmt.Errorf("comfyui: failed to decode object_info: %w", err)
	}

	var models []string
	models = append(models, loaderModelList(objectInfo, "CheckpointLoaderSimple", "ckpt_name")...)
	models = append(models, loaderModelList(objectInfo, "UNETLoader", "unet_name")...)

	seen := make(map[string]bool, len(models))
	unique := make([]string, 0, len(models))
	for _, m := range models {
		if !seen[m] {
			seen[m] = true
			unique = append(unique, m)
		}
	}

	c.models = unique
	c.logger.Info("discovered available models",
		zap.Int("count", len(unique)),
		zap.Strings("models", unique))
	return unique, nil
}

// loaderModelList digs the model list out of one loader node's input
// schema. The catalog appears either as ["m1", "m2"] or nested as
// [["m1", "m2"], {...}] depending on backend version.
func loaderModelList(objectInfo map[string]interface{}, loaderType, field string) []string {
	loader, ok := objectInfo[loaderType].(map[string]interface{})
	if !ok {
		return nil
	}
	input, ok := loader["input"].(map[string]interface{})
	if !ok {
		return nil
	}
	required, ok := input["required"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := required[field].([]interface{})
	if !ok || len(raw) == 0 {
		return nil
	}

	if nested, ok := raw[0].([]interface{}); ok {
		return stringList(nested)
	}
	return stringList(raw)
}

func stringList(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Probe checks whether the backend is reachable. Several endpoints are
// tried because older server versions lack /system_stats; the backend is
// reachable iff any probe succeeds within its timeout.
func (c *Client) Probe(ctx context.Context) bool {
	probes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/system_stats"},
		{http.MethodGet, "/prompt"},
		{http.MethodHead, "/"},
	}

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		req, err := http.NewRequestWithContext(probeCtx, p.method, c.baseURL()+p.path, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := c.httpClient.Do(req)
		cancel()
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 500 {
			c.logger.Info("server reachable",
				zap.String("server", c.serverAddress),
				zap.String("probe", p.path))
			return true
		}
	}
	return false
}

// QueueRemaining reports how many jobs the backend has queued. Used for
// logging and result metadata only.
func (c *Client) QueueRemaining(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/prompt", nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("comfyui: prompt returned status %d", resp.StatusCode)
	}

	var payload struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, err
	}
	return payload.ExecInfo.QueueRemaining, nil
}
