// Package comfyui implements the local node-graph renderer backend.
//
// wsclient.go is the event-channel consumer for push-mode completion
// waiting. The backend emits JSON messages on a persistent WebSocket;
// an "executing" message with a null node and matching prompt id signals
// that the job finished.
package comfyui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// executingMessage is the shape of the completion event. Node is a
// pointer: null marks the end of execution, a value names the node
// currently running.
type executingMessage struct {
	Type string `json:"type"`
	Data struct {
		Node     *string `json:"node"`
		PromptID string  `json:"prompt_id"`
	} `json:"data"`
}

// wsDialer abstracts the dial so tests can point at an httptest server.
type wsDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// awaitExecuted connects to the event channel and blocks until the
// completion event for promptID arrives or the deadline passes. Binary
// frames (preview images) and unrelated messages are ignored. Any dial or
// read error is returned so the caller can downgrade to polling.
func awaitExecuted(ctx context.Context, dialer wsDialer, serverAddress, clientID, promptID string, deadline time.Time) error {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	wsURL := url.URL{
		Scheme:   "ws",
		Host:     serverAddress,
		Path:     "/ws",
		RawQuery: "clientId=" + url.QueryEscape(clientID),
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("comfyui: websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("comfyui: websocket read failed: %w", err)
		}
		if msgType != websocket.TextMessage {
			// Binary preview frames, skip.
			continue
		}

		var msg executingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Unrelated or malformed message, not an error.
			continue
		}
		if msg.Type == "executing" && msg.Data.Node == nil && msg.Data.PromptID == promptID {
			return nil
		}
	}
}
