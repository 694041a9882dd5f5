// Package extract defines the boundary to the media-extraction collaborator.
// Given a URL and a mode/quality request the collaborator produces a local
// media artifact with metadata; everything between those two points is opaque
// to this process.
package extract

import (
	"context"
	"time"
)

// Mode selects the kind of artifact the resolver should produce.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

// Request describes one fetch handed to the resolver.
type Request struct {
	// URL is the source page or media URL supplied by the user.
	URL string

	// Mode selects audio or video output.
	Mode Mode

	// Quality is the tier-clamped quality label (e.g. "360p", "128k").
	Quality string
}

// Result summarizes a completed extraction.
type Result struct {
	// FilePath points at the finished artifact on local disk.
	FilePath string `json:"filePath"`

	Title     string        `json:"title"`
	Artist    string        `json:"artist,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	SizeBytes int64         `json:"sizeBytes"`
}

// Phase names the extraction sub-stage a progress event belongs to. The
// resolver drives these; the session layer treats them as opaque labels.
type Phase string

const (
	PhaseFetching   Phase = "fetching"
	PhaseConverting Phase = "converting"
	PhaseUploading  Phase = "uploading"
)

// Progress is one raw byte-level progress report from the resolver. Reports
// arrive on the resolver's own goroutine and may be very frequent; throttling
// is the caller's concern.
type Progress struct {
	Phase      Phase
	BytesDone  int64
	BytesTotal int64
}

// ProgressFunc receives raw progress reports. Implementations must be safe to
// call from the resolver's goroutine.
type ProgressFunc func(Progress)

// Resolver converts a media URL into a local artifact. Resolve blocks until
// the artifact is ready, the context is cancelled, or the extraction fails.
type Resolver interface {
	Resolve(ctx context.Context, req Request, progress ProgressFunc) (Result, error)
}
