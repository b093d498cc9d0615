package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"imagerouter/db"
	"imagerouter/logging"
	"imagerouter/provider"
)

type stubProvider struct {
	name    string
	result  *provider.Result
	lastReq *provider.Request
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Model() string { return "stub-model" }

func (s *stubProvider) Features() provider.Features {
	return provider.Features{"img2img": true}
}

func (s *stubProvider) Generate(ctx context.Context, req *provider.Request, opts provider.CallOptions) *provider.Result {
	s.lastReq = req
	return s.result
}

type memoryHistory struct {
	records []db.GenerationRecord
	err     error
}

func (m *memoryHistory) InsertGeneration(ctx context.Context, rec db.GenerationRecord) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.records = append(m.records, rec)
	return int64(len(m.records)), nil
}

func (m *memoryHistory) RecentGenerations(ctx context.Context, limit int) ([]db.GenerationRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func successResult(name string) *provider.Result {
	return &provider.Result{
		Success:  true,
		Images:   []provider.ImagePayload{{URL: "http://img.example/out.png"}},
		Provider: name,
		Model:    "stub-model",
	}
}

func newTestEngine(t *testing.T, p provider.Provider, history HistoryStore) *gin.Engine {
	t.Helper()
	registry := provider.NewRegistry()
	registry.Register(p)
	rules := provider.DefaultRoutingRules()
	rules.DefaultProvider = p.Name()
	rules.FallbackChain = []string{p.Name()}

	router := provider.NewRouter(registry, rules, logging.NewNop())
	return NewEngine(NewHandler(router, history, logging.NewNop()), false)
}

func postJSON(t *testing.T, engine *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, engine *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return resp
}

func TestGenerateHandler_Success(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: successResult("comfyui")}
	history := &memoryHistory{}
	engine := newTestEngine(t, stub, history)

	w := postJSON(t, engine, "/api/generate", map[string]interface{}{
		"prompt": "a lighthouse",
		"style":  "photoreal",
		"width":  1024,
		"height": 1024,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeEnvelope(t, w)
	if resp.Code != 0 || resp.Msg != "success" {
		t.Errorf("envelope = %+v", resp)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data type = %T", resp.Data)
	}
	if data["provider"] != "comfyui" {
		t.Errorf("provider = %v", data["provider"])
	}
	images, ok := data["images"].([]interface{})
	if !ok || len(images) != 1 {
		t.Fatalf("images = %v", data["images"])
	}

	if stub.lastReq == nil || stub.lastReq.Style != provider.StylePhotoreal {
		t.Errorf("provider request = %+v", stub.lastReq)
	}
	if len(history.records) != 1 {
		t.Fatalf("history records = %d, want 1", len(history.records))
	}
	rec := history.records[0]
	if !rec.Success || rec.Provider != "comfyui" || rec.ImageCount != 1 {
		t.Errorf("record = %+v", rec)
	}
	if rec.CorrelationID == "" {
		t.Error("record has no correlation id")
	}
}

func TestGenerateHandler_BytesEncodedAsBase64(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: &provider.Result{
		Success:  true,
		Images:   []provider.ImagePayload{{Bytes: []byte("raw-image")}},
		Provider: "comfyui",
		Model:    "stub-model",
	}}
	engine := newTestEngine(t, stub, nil)

	w := postJSON(t, engine, "/api/generate", map[string]interface{}{"prompt": "x"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"b64":`) {
		t.Errorf("body missing b64 image: %s", w.Body.String())
	}
}

func TestGenerateHandler_ValidationErrors(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: successResult("comfyui")}
	engine := newTestEngine(t, stub, nil)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing prompt", map[string]interface{}{"style": "photoreal"}},
		{"unknown style", map[string]interface{}{"prompt": "x", "style": "noir"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, engine, "/api/generate", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if resp := decodeEnvelope(t, w); resp.Code != -1 {
				t.Errorf("envelope code = %d, want -1", resp.Code)
			}
		})
	}
}

func TestGenerateHandler_ProviderFailure(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: &provider.Result{
		Success:  false,
		Provider: "comfyui",
		Model:    "stub-model",
		Error:    "backend execution failed",
	}}
	history := &memoryHistory{}
	engine := newTestEngine(t, stub, history)

	w := postJSON(t, engine, "/api/generate", map[string]interface{}{"prompt": "x"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	resp := decodeEnvelope(t, w)
	if resp.Code != -1 || resp.Msg != "backend execution failed" {
		t.Errorf("envelope = %+v", resp)
	}

	// Failures are still recorded.
	if len(history.records) != 1 || history.records[0].Success {
		t.Errorf("history records = %+v", history.records)
	}
}

func TestGenerateHandler_HistoryWriteFailureNotSurfaced(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: successResult("comfyui")}
	engine := newTestEngine(t, stub, &memoryHistory{err: errors.New("disk full")})

	w := postJSON(t, engine, "/api/generate", map[string]interface{}{"prompt": "x"})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite history failure", w.Code)
	}
}

func TestProvidersHandler(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: successResult("comfyui")}
	engine := newTestEngine(t, stub, nil)

	w := getJSON(t, engine, "/api/providers")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeEnvelope(t, w)
	providers, ok := resp.Data.([]interface{})
	if !ok || len(providers) != 1 {
		t.Fatalf("data = %v", resp.Data)
	}
	entry := providers[0].(map[string]interface{})
	if entry["name"] != "comfyui" || entry["model"] != "stub-model" {
		t.Errorf("entry = %v", entry)
	}
}

func TestHistoryHandler(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: successResult("comfyui")}
	history := &memoryHistory{records: []db.GenerationRecord{
		{CorrelationID: "corr-1", Provider: "comfyui", Success: true},
	}}
	engine := newTestEngine(t, stub, history)

	w := getJSON(t, engine, "/api/history")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeEnvelope(t, w)
	records, ok := resp.Data.([]interface{})
	if !ok || len(records) != 1 {
		t.Fatalf("data = %v", resp.Data)
	}
}

func TestHistoryHandler_NilStore(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: successResult("comfyui")}
	engine := newTestEngine(t, stub, nil)

	w := getJSON(t, engine, "/api/history")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealthzHandler(t *testing.T) {
	stub := &stubProvider{name: "comfyui", result: successResult("comfyui")}
	engine := newTestEngine(t, stub, nil)

	w := getJSON(t, engine, "/api/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeEnvelope(t, w); resp.Code != 0 {
		t.Errorf("envelope code = %d, want 0", resp.Code)
	}
}
