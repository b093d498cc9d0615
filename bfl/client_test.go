package bfl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"imagerouter/core"
	"imagerouter/logging"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  500 * time.Millisecond,
		HTTPClient:   srv.Client(),
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient(ClientConfig{}, nil); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestSubmit_PrimaryEndpoint(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-key")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{
			"id":          "job-1",
			"polling_url": "http://poll.example/job-1",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	job, err := client.Submit(context.Background(), "flux-pro", map[string]interface{}{"prompt": "a cat"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if gotPath != "/flux-pro" {
		t.Errorf("path = %q, want /flux-pro", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("x-key header = %q, want test-key", gotKey)
	}
	if gotBody["prompt"] != "a cat" {
		t.Errorf("prompt = %v, want a cat", gotBody["prompt"])
	}
	if job.PollingURL != "http://poll.example/job-1" {
		t.Errorf("PollingURL = %q", job.PollingURL)
	}
	if job.Endpoint != "flux-pro" {
		t.Errorf("Endpoint = %q, want flux-pro", job.Endpoint)
	}
}

func TestSubmit_404WalksAlternativesInOrder(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		// Primary and first alternative are gone; the second answers.
		if r.URL.Path == "/flux-pro" || r.URL.Path == "/flux-pro-1.1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":          "job-2",
			"polling_url": "http://poll.example/job-2",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	job, err := client.Submit(context.Background(), "flux-pro", map[string]interface{}{"prompt": "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// The duplicate primary in the alternatives table is skipped.
	want := []string{"/flux-pro", "/flux-pro-1.1", "/v1/flux-pro-1.1"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("request paths = %v, want %v", paths, want)
	}
	if job.Endpoint != "v1/flux-pro-1.1" {
		t.Errorf("Endpoint = %q, want v1/flux-pro-1.1", job.Endpoint)
	}
}

func TestSubmit_AlternativeErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/flux-dev" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		// First non-404 answer wins even when it is an error status.
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Submit(context.Background(), "flux-dev", map[string]interface{}{"prompt": "x"})
	if err == nil {
		t.Fatal("expected submission error")
	}
	if core.ErrorCode(err) != core.ErrCodeSubmission {
		t.Errorf("error code = %q, want %q", core.ErrorCode(err), core.ErrCodeSubmission)
	}
}

func TestSubmit_NonNotFoundErrorIsImmediate(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Submit(context.Background(), "flux-pro", map[string]interface{}{"prompt": "x"})
	if err == nil {
		t.Fatal("expected submission error")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no fallback on non-404)", calls)
	}
}

func TestSubmit_AllEndpointsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Submit(context.Background(), "flux-pro", map[string]interface{}{"prompt": "x"})
	if err == nil {
		t.Fatal("expected submission error")
	}
	if core.ErrorCode(err) != core.ErrCodeSubmission {
		t.Errorf("error code = %q, want %q", core.ErrorCode(err), core.ErrCodeSubmission)
	}
}

func TestSubmit_MissingPollingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-3"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Submit(context.Background(), "flux-pro", map[string]interface{}{"prompt": "x"})
	if err == nil {
		t.Fatal("expected submission error for missing polling_url")
	}
}

func TestPoll_ReadySingleSample(t *testing.T) {
	var polls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		if n < 3 {
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "Pending"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "Ready",
			"result": map[string]interface{}{"sample": "http://img.example/out.png"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	urls, err := client.Poll(context.Background(), &Job{ID: "job-1", PollingURL: srv.URL + "/poll"})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(urls) != 1 || urls[0] != "http://img.example/out.png" {
		t.Errorf("urls = %v", urls)
	}
}

func TestPoll_ReadySampleList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "Ready",
			"result": map[string]interface{}{
				"sample": []string{"http://img.example/a.png", "http://img.example/b.png"},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	urls, err := client.Poll(context.Background(), &Job{ID: "job-1", PollingURL: srv.URL})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("len(urls) = %d, want 2", len(urls))
	}
	if urls[1] != "http://img.example/b.png" {
		t.Errorf("urls[1] = %q", urls[1])
	}
}

func TestPoll_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "Error",
			"error":  "content policy violation",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Poll(context.Background(), &Job{ID: "job-1", PollingURL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	if core.ErrorCode(err) != core.ErrCodeBackendExecution {
		t.Errorf("error code = %q, want %q", core.ErrorCode(err), core.ErrCodeBackendExecution)
	}
}

func TestPoll_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "Pending"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	client.pollTimeout = 50 * time.Millisecond

	_, err := client.Poll(context.Background(), &Job{ID: "job-1", PollingURL: srv.URL})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !core.IsTimeout(err) {
		t.Errorf("IsTimeout = false for %v", err)
	}
}

func TestPoll_TransientErrorRetried(t *testing.T) {
	var polls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "Ready",
			"result": map[string]interface{}{"sample": "http://img.example/out.png"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	urls, err := client.Poll(context.Background(), &Job{ID: "job-1", PollingURL: srv.URL})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(urls) != 1 {
		t.Errorf("len(urls) = %d, want 1", len(urls))
	}
}
