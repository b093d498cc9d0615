package openaiimg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"imagerouter/logging"
	"imagerouter/provider"
)

// imageAPI fakes the images/generations endpoint and records the last
// request body.
func imageAPI(t *testing.T, respond func(w http.ResponseWriter)) (*httptest.Server, func() map[string]interface{}) {
	t.Helper()
	var mu sync.Mutex
	var body map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		respond(w)
	}))
	t.Cleanup(srv.Close)

	return srv, func() map[string]interface{} {
		mu.Lock()
		defer mu.Unlock()
		return body
	}
}

func okResponse(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"created": 1700000000,
		"data": []map[string]interface{}{
			{
				"url":            "http://img.example/dalle.png",
				"revised_prompt": "a richly detailed lighthouse",
			},
		},
	})
}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	adapter, err := NewAdapter("test-key", srv.URL, "", logging.NewNop())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return adapter
}

func TestNewAdapter_RequiresAPIKey(t *testing.T) {
	if _, err := NewAdapter("", "", "", nil); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestGenerate_Success(t *testing.T) {
	srv, body := imageAPI(t, okResponse)
	adapter := newTestAdapter(t, srv)

	res := adapter.Generate(context.Background(), &provider.Request{
		Prompt: "a lighthouse",
	}, provider.CallOptions{})

	if !res.Success {
		t.Fatalf("Generate failed: %v", res.Error)
	}
	if len(res.Images) != 1 || res.Images[0].URL != "http://img.example/dalle.png" {
		t.Errorf("images = %+v", res.Images)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %q, want openai", res.Provider)
	}
	if res.Metadata["revised_prompt"] != "a richly detailed lighthouse" {
		t.Errorf("revised_prompt = %v", res.Metadata["revised_prompt"])
	}

	req := body()
	if req["model"] != "dall-e-3" {
		t.Errorf("model = %v, want dall-e-3", req["model"])
	}
	if req["size"] != "1024x1024" {
		t.Errorf("size = %v, want 1024x1024", req["size"])
	}
	if req["n"] != float64(1) {
		t.Errorf("n = %v, want 1", req["n"])
	}
}

func TestGenerate_QualityByStyle(t *testing.T) {
	tests := []struct {
		style provider.Style
		want  string
	}{
		{provider.StylePhotoreal, "hd"},
		{provider.StyleBrandLayout, "hd"},
		{provider.StyleFastDraft, "standard"},
		{"", "standard"},
	}

	for _, tt := range tests {
		t.Run(string(tt.style), func(t *testing.T) {
			srv, body := imageAPI(t, okResponse)
			adapter := newTestAdapter(t, srv)

			res := adapter.Generate(context.Background(), &provider.Request{
				Prompt: "x",
				Style:  tt.style,
			}, provider.CallOptions{})
			if !res.Success {
				t.Fatalf("Generate failed: %v", res.Error)
			}
			if got := body()["quality"]; got != tt.want {
				t.Errorf("quality = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerate_DimensionsClamped(t *testing.T) {
	srv, body := imageAPI(t, okResponse)
	adapter := newTestAdapter(t, srv)

	res := adapter.Generate(context.Background(), &provider.Request{
		Prompt: "x",
		Width:  1920,
		Height: 1080,
	}, provider.CallOptions{})
	if !res.Success {
		t.Fatalf("Generate failed: %v", res.Error)
	}
	if got := body()["size"]; got != "1024x1024" {
		t.Errorf("size = %v, want 1024x1024", got)
	}
}

func TestGenerate_NumImagesCapped(t *testing.T) {
	srv, body := imageAPI(t, okResponse)
	adapter := newTestAdapter(t, srv)

	res := adapter.Generate(context.Background(), &provider.Request{
		Prompt:    "x",
		NumImages: 4,
	}, provider.CallOptions{})
	if !res.Success {
		t.Fatalf("Generate failed: %v", res.Error)
	}
	if got := body()["n"]; got != float64(1) {
		t.Errorf("n = %v, want 1", got)
	}
}

func TestGenerate_APIErrorBecomesFailureResult(t *testing.T) {
	srv, _ := imageAPI(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "boom", "type": "server_error"},
		})
	})
	adapter := newTestAdapter(t, srv)

	res := adapter.Generate(context.Background(), &provider.Request{Prompt: "x"}, provider.CallOptions{})
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.Error == "" {
		t.Fatal("expected error message on failed result")
	}
}

func TestGenerate_ModelOverride(t *testing.T) {
	srv, body := imageAPI(t, okResponse)
	adapter := newTestAdapter(t, srv)

	res := adapter.Generate(context.Background(), &provider.Request{Prompt: "x"},
		provider.CallOptions{Model: "dall-e-2"})
	if !res.Success {
		t.Fatalf("Generate failed: %v", res.Error)
	}
	if got := body()["model"]; got != "dall-e-2" {
		t.Errorf("model = %v, want dall-e-2", got)
	}
	if adapter.Model() != "dall-e-3" {
		t.Errorf("adapter model = %q, want dall-e-3", adapter.Model())
	}
}

func TestFeatures(t *testing.T) {
	srv, _ := imageAPI(t, okResponse)
	adapter := newTestAdapter(t, srv)

	features := adapter.Features()
	if features.Supports("img2img") {
		t.Error("img2img should not be supported")
	}
	if features.Supports("seeds") {
		t.Error("seeds should not be supported")
	}
	if !features.Supports("variations") {
		t.Error("variations should be supported")
	}
}
