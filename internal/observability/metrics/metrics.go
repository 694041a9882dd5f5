// Package metrics collects process counters for the bot and its admin HTTP
// surface and renders them in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates counters. The zero value is not usable; construct with
// New or use the package-level Default recorder.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	commandCount    map[string]uint64
	downloadCount   map[string]uint64
	quotaRejections uint64
	broadcastSent   uint64
	broadcastFailed uint64

	activeDownloads atomic.Int64
}

var defaultRecorder = New()

func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		commandCount:    make(map[string]uint64),
		downloadCount:   make(map[string]uint64),
	}
}

// Default returns the process-wide recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records one handled HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{method: method, path: path, status: strconv.Itoa(status)}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveCommand records one dispatched bot command by name.
func (r *Recorder) ObserveCommand(name string) {
	r.mu.Lock()
	r.commandCount[name]++
	r.mu.Unlock()
}

// DownloadStarted marks a session entering the worker pool.
func (r *Recorder) DownloadStarted() {
	r.activeDownloads.Add(1)
	r.recordDownloadEvent("started")
}

// DownloadFinished marks a session reaching the given terminal outcome.
func (r *Recorder) DownloadFinished(outcome string) {
	r.decrementGauge(&r.activeDownloads)
	r.recordDownloadEvent(outcome)
}

func (r *Recorder) recordDownloadEvent(event string) {
	r.mu.Lock()
	r.downloadCount[event]++
	r.mu.Unlock()
}

// ObserveQuotaRejection counts a download refused by the daily limit.
func (r *Recorder) ObserveQuotaRejection() {
	r.mu.Lock()
	r.quotaRejections++
	r.mu.Unlock()
}

// ObserveBroadcast folds one fan-out's delivery counters in.
func (r *Recorder) ObserveBroadcast(sent, failed int) {
	r.mu.Lock()
	r.broadcastSent += uint64(sent)
	r.broadcastFailed += uint64(failed)
	r.mu.Unlock()
}

// ActiveDownloads reports the number of sessions currently in flight.
func (r *Recorder) ActiveDownloads() int64 {
	return r.activeDownloads.Load()
}

// Snapshot is a JSON-friendly view of the counters for the ops endpoint.
type Snapshot struct {
	Commands        map[string]uint64 `json:"commands"`
	Downloads       map[string]uint64 `json:"downloads"`
	ActiveDownloads int64             `json:"activeDownloads"`
	QuotaRejections uint64            `json:"quotaRejections"`
	BroadcastSent   uint64            `json:"broadcastSent"`
	BroadcastFailed uint64            `json:"broadcastFailed"`
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := Snapshot{
		Commands:        make(map[string]uint64, len(r.commandCount)),
		Downloads:       make(map[string]uint64, len(r.downloadCount)),
		ActiveDownloads: r.activeDownloads.Load(),
		QuotaRejections: r.quotaRejections,
		BroadcastSent:   r.broadcastSent,
		BroadcastFailed: r.broadcastFailed,
	}
	for name, count := range r.commandCount {
		snapshot.Commands[name] = count
	}
	for event, count := range r.downloadCount {
		snapshot.Downloads[event] = count
	}
	return snapshot
}

// Reset clears every counter. Intended for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.commandCount = make(map[string]uint64)
	r.downloadCount = make(map[string]uint64)
	r.quotaRejections = 0
	r.broadcastSent = 0
	r.broadcastFailed = 0
	r.mu.Unlock()
	r.activeDownloads.Store(0)
}

// Handler serves the Prometheus text exposition.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics with sorted label sets so scrapes and tests see
// stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	commands := sortedKeys(r.commandCount)
	downloads := sortedKeys(r.downloadCount)

	fmt.Fprintln(w, "# HELP mediafetch_http_requests_total Total number of HTTP requests handled by the admin surface")
	fmt.Fprintln(w, "# TYPE mediafetch_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediafetch_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n",
			label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP mediafetch_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediafetch_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediafetch_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n",
			label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP mediafetch_commands_total Bot commands dispatched by name")
	fmt.Fprintln(w, "# TYPE mediafetch_commands_total counter")
	for _, name := range commands {
		fmt.Fprintf(w, "mediafetch_commands_total{command=\"%s\"} %d\n", name, r.commandCount[name])
	}

	fmt.Fprintln(w, "# HELP mediafetch_downloads_total Download session events by outcome")
	fmt.Fprintln(w, "# TYPE mediafetch_downloads_total counter")
	for _, event := range downloads {
		fmt.Fprintf(w, "mediafetch_downloads_total{event=\"%s\"} %d\n", event, r.downloadCount[event])
	}

	fmt.Fprintln(w, "# HELP mediafetch_active_downloads Current number of sessions in the worker pool")
	fmt.Fprintln(w, "# TYPE mediafetch_active_downloads gauge")
	fmt.Fprintf(w, "mediafetch_active_downloads %d\n", r.activeDownloads.Load())

	fmt.Fprintln(w, "# HELP mediafetch_quota_rejections_total Downloads refused by the daily limit")
	fmt.Fprintln(w, "# TYPE mediafetch_quota_rejections_total counter")
	fmt.Fprintf(w, "mediafetch_quota_rejections_total %d\n", r.quotaRejections)

	fmt.Fprintln(w, "# HELP mediafetch_broadcast_messages_total Broadcast deliveries by result")
	fmt.Fprintln(w, "# TYPE mediafetch_broadcast_messages_total counter")
	fmt.Fprintf(w, "mediafetch_broadcast_messages_total{result=\"sent\"} %d\n", r.broadcastSent)
	fmt.Fprintf(w, "mediafetch_broadcast_messages_total{result=\"failed\"} %d\n", r.broadcastFailed)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(values map[string]uint64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// decrementGauge floors the gauge at zero so late terminal events cannot push
// it negative.
func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Package-level helpers targeting the default recorder.

func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

func ObserveCommand(name string) {
	defaultRecorder.ObserveCommand(name)
}

func DownloadStarted() {
	defaultRecorder.DownloadStarted()
}

func DownloadFinished(outcome string) {
	defaultRecorder.DownloadFinished(outcome)
}

func Handler() http.Handler {
	return defaultRecorder.Handler()
}
