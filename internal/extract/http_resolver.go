package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPResolverConfig points the resolver at an extraction sidecar that
// exposes a submit/poll job API.
type HTTPResolverConfig struct {
	BaseURL      string
	Token        string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

// HTTPResolver drives a remote extraction service. Resolve submits a job and
// polls it until the artifact is ready, forwarding byte counters to the
// progress callback on every poll.
type HTTPResolver struct {
	config HTTPResolverConfig
}

// NewHTTPResolver validates the sidecar location and returns a resolver.
func NewHTTPResolver(cfg HTTPResolverConfig) (*HTTPResolver, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("extractor base URL is required")
	}
	return &HTTPResolver{config: cfg}, nil
}

type jobRequest struct {
	URL     string `json:"url"`
	Mode    Mode   `json:"mode"`
	Quality string `json:"quality"`
}

type jobStatus struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Phase      Phase  `json:"phase,omitempty"`
	BytesDone  int64  `json:"bytesDone"`
	BytesTotal int64  `json:"bytesTotal"`
	Error      string `json:"error,omitempty"`

	FilePath        string `json:"filePath,omitempty"`
	Title           string `json:"title,omitempty"`
	Artist          string `json:"artist,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	SizeBytes       int64  `json:"sizeBytes,omitempty"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	if strings.TrimSpace(req.URL) == "" {
		return Result{}, errors.New("url is required")
	}

	var submitted jobStatus
	if err := r.post(ctx, "/v1/jobs", jobRequest{URL: req.URL, Mode: req.Mode, Quality: req.Quality}, &submitted); err != nil {
		return Result{}, fmt.Errorf("submit extraction job: %w", err)
	}
	if submitted.ID == "" {
		return Result{}, errors.New("extractor returned no job id")
	}

	interval := r.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		var status jobStatus
		if err := r.get(ctx, "/v1/jobs/"+submitted.ID, &status); err != nil {
			return Result{}, fmt.Errorf("poll extraction job: %w", err)
		}
		if progress != nil {
			progress(Progress{Phase: status.Phase, BytesDone: status.BytesDone, BytesTotal: status.BytesTotal})
		}
		switch strings.ToLower(status.State) {
		case "completed":
			if status.FilePath == "" {
				return Result{}, errors.New("extractor reported completion without an output file")
			}
			return Result{
				FilePath:  status.FilePath,
				Title:     status.Title,
				Artist:    status.Artist,
				Duration:  time.Duration(status.DurationSeconds) * time.Second,
				SizeBytes: status.SizeBytes,
			}, nil
		case "failed":
			message := status.Error
			if message == "" {
				message = "extraction failed"
			}
			return Result{}, errors.New(message)
		}
	}
}

func (r *HTTPResolver) post(ctx context.Context, path string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, target)
}

func (r *HTTPResolver) get(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(path), nil)
	if err != nil {
		return err
	}
	return r.do(req, target)
}

func (r *HTTPResolver) do(req *http.Request, target any) error {
	if r.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.Token)
	}
	client := r.config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("extractor responded %s", resp.Status)
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func (r *HTTPResolver) endpoint(path string) string {
	return strings.TrimRight(r.config.BaseURL, "/") + path
}

// NoopResolver rejects every request. It stands in when no extraction sidecar
// is configured.
type NoopResolver struct{}

func (NoopResolver) Resolve(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	return Result{}, errors.New("no extraction service configured")
}
