// Package comfyui implements the local node-graph renderer backend.
//
// waiter.go blocks until a submitted job reaches a terminal state. Push
// mode (the WebSocket event channel) is attempted first; any error there
// downgrades the wait to fixed-interval history polling for the remainder
// of the job. The downgrade happens at most once, is logged, and never
// surfaces to the caller as a failure.
package comfyui

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"imagerouter/core"
	"imagerouter/logging"
)

// Waiter drives one job from submission acknowledgement to terminal
// status and resolves its output artifacts to bytes. One Waiter instance
// is shared; each Wait call owns its own job state.
type Waiter struct {
	client       *Client
	dialer       wsDialer
	pollInterval time.Duration
	timeout      time.Duration
	disablePush  bool
	logger       *logging.Logger
}

// WaiterConfig tunes the wait strategy.
type WaiterConfig struct {
	// PollInterval between history queries in poll mode. Default 500ms.
	PollInterval time.Duration

	// Timeout is the wall-clock deadline for one wait. Default 300s.
	Timeout time.Duration

	// DisablePush skips the event channel and polls from the start.
	DisablePush bool
}

// DefaultWaiterConfig returns the documented defaults: poll every 0.5s,
// give up after 300s.
func DefaultWaiterConfig() WaiterConfig {
	return WaiterConfig{
		PollInterval: 500 * time.Millisecond,
		Timeout:      300 * time.Second,
	}
}

// NewWaiter creates a Waiter over the given client.
func NewWaiter(client *Client, cfg WaiterConfig, logger *logging.Logger) *Waiter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Waiter{
		client:       client,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		disablePush:  cfg.DisablePush,
		logger:       logger.Named("waiter"),
	}
}

// Wait blocks until the job reaches a terminal state and returns the
// bytes of every output artifact.
//
// Terminal handling:
//   - outputs present: every artifact is fetched, one retrieval call per
//     artifact
//   - backend-reported error: BackendExecutionError, no artifact fetch
//   - deadline exceeded: TimeoutError, distinct from backend errors
//
// Transient poll errors (including the job not having appeared in
// history yet) are retried silently until the deadline.
func (w *Waiter) Wait(ctx context.Context, promptID string) ([][]byte, error) {
	deadline := time.Now().Add(w.timeout)
	log := w.logger.With(zap.String("prompt_id", promptID))

	if !w.disablePush {
		err := awaitExecuted(ctx, w.dialer, w.client.ServerAddress(), w.client.ClientID(), promptID, deadline)
		if err == nil {
			log.Debug("completion event received")
			return w.collect(ctx, promptID, deadline, log)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Downgrade once; never revert to push for this job.
		log.Warn("event channel failed, falling back to polling", zap.Error(err))
	}

	return w.poll(ctx, promptID, deadline, log)
}

// poll queries history on a fixed interval until a terminal state or the
// deadline.
func (w *Waiter) poll(ctx context.Context, promptID string, deadline time.Time, log *logging.Logger) ([][]byte, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return nil, core.NewTimeoutError(promptID, w.timeout.Seconds())
		}

		entry, found, err := w.client.History(ctx, promptID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug("history poll error, retrying", zap.Error(err))
			continue
		}
		if !found {
			// Job record not visible yet, keep waiting.
			continue
		}

		if entry.Failed() {
			return nil, core.NewBackendExecutionError("comfyui", entry.Status.StatusStr)
		}
		if len(entry.Outputs) > 0 {
			return w.fetchArtifacts(ctx, entry)
		}
	}
}

// collect fetches the final outputs after a push-mode completion event.
// If the history record lags the event, it falls into the polling loop
// for the remaining deadline rather than failing.
func (w *Waiter) collect(ctx context.Context, promptID string, deadline time.Time, log *logging.Logger) ([][]byte, error) {
	entry, found, err := w.client.History(ctx, promptID)
	if err != nil || !found {
		log.Debug("history not ready after completion event, polling",
			zap.Error(err))
		return w.poll(ctx, promptID, deadline, log)
	}
	if entry.Failed() {
		return nil, core.NewBackendExecutionError("comfyui", entry.Status.StatusStr)
	}
	if len(entry.Outputs) == 0 {
		return w.poll(ctx, promptID, deadline, log)
	}
	return w.fetchArtifacts(ctx, entry)
}

// fetchArtifacts resolves every artifact descriptor to bytes, one
// retrieval call per artifact, in deterministic node-id order.
func (w *Waiter) fetchArtifacts(ctx context.Context, entry *HistoryEntry) ([][]byte, error) {
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool {
		return nodeIDLess(nodeIDs[i], nodeIDs[j])
	})

	var images [][]byte
	for _, id := range nodeIDs {
		for _, ref := range entry.Outputs[id].Images {
			data, err := w.client.FetchImage(ctx, ref)
			if err != nil {
				return nil, core.NewBackendExecutionError("comfyui",
					"artifact retrieval failed: "+err.Error())
			}
			images = append(images, data)
		}
	}
	return images, nil
}
