package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPResolverCompletes(t *testing.T) {
	var polls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/jobs":
			var req jobRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode job request: %v", err)
			}
			if req.Mode != ModeAudio || req.Quality != "128k" {
				t.Errorf("unexpected job request: %+v", req)
			}
			json.NewEncoder(w).Encode(jobStatus{ID: "job-1", State: "queued"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/job-1":
			n := polls.Add(1)
			status := jobStatus{ID: "job-1", State: "running", Phase: PhaseFetching, BytesDone: n * 500, BytesTotal: 1500}
			if n >= 3 {
				status.State = "completed"
				status.FilePath = "/tmp/out.mp3"
				status.Title = "Track"
				status.SizeBytes = 1500
				status.DurationSeconds = 212
			}
			json.NewEncoder(w).Encode(status)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	resolver, err := NewHTTPResolver(HTTPResolverConfig{BaseURL: server.URL, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPResolver: %v", err)
	}

	var reports []Progress
	result, err := resolver.Resolve(context.Background(), Request{URL: "https://example.com/x", Mode: ModeAudio, Quality: "128k"}, func(p Progress) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result.FilePath != "/tmp/out.mp3" || result.Title != "Track" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Duration != 212*time.Second {
		t.Fatalf("duration = %v, want 212s", result.Duration)
	}
	if len(reports) == 0 {
		t.Fatalf("expected progress reports")
	}
}

func TestHTTPResolverFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(jobStatus{ID: "job-2", State: "queued"})
		default:
			json.NewEncoder(w).Encode(jobStatus{ID: "job-2", State: "failed", Error: "geo restricted"})
		}
	}))
	defer server.Close()

	resolver, err := NewHTTPResolver(HTTPResolverConfig{BaseURL: server.URL, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPResolver: %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), Request{URL: "https://example.com/x", Mode: ModeVideo}, nil); err == nil || err.Error() != "geo restricted" {
		t.Fatalf("error = %v, want geo restricted", err)
	}
}

func TestHTTPResolverContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jobStatus{ID: "job-3", State: "running"})
	}))
	defer server.Close()

	resolver, err := NewHTTPResolver(HTTPResolverConfig{BaseURL: server.URL, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPResolver: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	if _, err := resolver.Resolve(ctx, Request{URL: "https://example.com/x", Mode: ModeVideo}, nil); err != context.Canceled {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
