// Package bfl implements the hosted Flux model family backend.
//
// client.go submits generation jobs and polls their status. A submission
// that 404s on the primary endpoint walks the family's alternative
// endpoint table in order; the first non-404 answer fixes the endpoint
// for the rest of the job's lifecycle. Any other error class surfaces
// immediately without retry.
package bfl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"imagerouter/core"
	"imagerouter/logging"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultPollTimeout  = 60 * time.Second
)

// Job tracks one in-flight hosted submission: the polling locator the
// API returned and the endpoint that accepted the job.
type Job struct {
	ID         string
	PollingURL string
	Endpoint   string
}

// Client talks to the hosted API. Safe for concurrent use.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *logging.Logger
}

// ClientConfig configures a hosted API client.
type ClientConfig struct {
	APIKey  string
	BaseURL string

	// PollInterval between status queries. Default 500ms.
	PollInterval time.Duration

	// PollTimeout is the wall-clock deadline for one job. Default 60s.
	PollTimeout time.Duration

	HTTPClient *http.Client
}

// NewClient creates a hosted API client. The API key is required.
func NewClient(cfg ClientConfig, logger *logging.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("bfl: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = core.GetDefaultHTTPClient(nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		httpClient:   cfg.HTTPClient,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		logger:       logger.Named("bfl-client"),
	}, nil
}

type submitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

// Submit sends the payload to the model's primary endpoint, walking the
// alternative endpoint table on 404. Returns the job locator including
// the endpoint that finally accepted the submission.
func (c *Client) Submit(ctx context.Context, model string, payload map[string]interface{}) (*Job, error) {
	primary := ResolveEndpoint(model)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewSubmissionError(primary, err)
	}

	resp, endpoint, err := c.post(ctx, primary, body)
	if err != nil {
		return nil, core.NewSubmissionError(c.endpointURL(primary), err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		resp, endpoint, err = c.tryAlternatives(ctx, primary, body)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, core.NewSubmissionError(c.endpointURL(endpoint),
			fmt.Errorf("status %d: %s", resp.StatusCode, string(detail)))
	}

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, core.NewSubmissionError(c.endpointURL(endpoint), err)
	}
	if sub.PollingURL == "" {
		return nil, core.NewSubmissionError(c.endpointURL(endpoint),
			fmt.Errorf("no polling_url in submission response"))
	}

	c.logger.Info("job submitted",
		zap.String("endpoint", endpoint),
		zap.String("job_id", sub.ID))
	return &Job{ID: sub.ID, PollingURL: sub.PollingURL, Endpoint: endpoint}, nil
}

// tryAlternatives walks the family's alternative endpoint list in order.
// The first non-404 answer wins, whatever its status; the caller decides
// whether that status is a success. Exhausting the list is a submission
// error.
func (c *Client) tryAlternatives(ctx context.Context, primary string, body []byte) (*http.Response, string, error) {
	alternatives := AlternativeEndpoints(primary)
	for _, alt := range alternatives {
		if alt == primary {
			continue
		}
		c.logger.Info("trying alternative endpoint", zap.String("endpoint", alt))

		resp, _, err := c.post(ctx, alt, body)
		if err != nil {
			c.logger.Debug("alternative endpoint unreachable",
				zap.String("endpoint", alt), zap.Error(err))
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			continue
		}
		c.logger.Info("alternative endpoint answered",
			zap.String("endpoint", alt), zap.Int("status", resp.StatusCode))
		return resp, alt, nil
	}
	return nil, "", core.NewSubmissionError(c.endpointURL(primary),
		fmt.Errorf("endpoint not found and %d alternatives exhausted", len(alternatives)))
}

func (c *Client) endpointURL(endpoint string) string {
	return c.baseURL + "/" + endpoint
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, endpoint, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	return resp, endpoint, err
}

type pollResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		Sample json.RawMessage `json:"sample"`
	} `json:"result"`
}

// Poll queries the job's polling locator until a terminal status or the
// deadline. Ready yields the sample URL(s); Error or Failed is a backend
// execution error; the deadline is a distinct timeout error.
func (c *Client) Poll(ctx context.Context, job *Job) ([]string, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return nil, core.NewTimeoutError(job.ID, c.pollTimeout.Seconds())
		}

		status, err := c.fetchStatus(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("status poll error, retrying", zap.Error(err))
			continue
		}

		switch status.Status {
		case "Ready":
			return decodeSamples(status.Result.Sample)
		case "Error", "Failed":
			msg := status.Error
			if msg == "" {
				msg = "generation failed"
			}
			return nil, core.NewBackendExecutionError("flux", msg)
		}
		// Pending/Processing: keep polling.
	}
}

// fetchStatus performs one status query against the job's polling
// locator. The locator already points at whichever endpoint accepted the
// submission.
func (c *Client) fetchStatus(ctx context.Context, job *Job) (*pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.PollingURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bfl: poll returned status %d", resp.StatusCode)
	}

	var status pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// decodeSamples handles the two sample shapes the API emits: a single
// URL string or a list of URL strings.
func decodeSamples(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, core.NewBackendExecutionError("flux", "ready status without sample")
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	return nil, core.NewBackendExecutionError("flux", "unrecognized sample payload")
}
