// Package media defines the collaborator contracts the pipelines consume:
// video fetching, transcription, clip selection, and cutting. The engine
// depends only on the interfaces; the exec-backed implementations live
// alongside them and are wired up in cmd.
package media

import "context"

// Segment is one transcribed span of the source video
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Clip describes one selected clip as a list of source fragments
type Clip struct {
	Title     string    `json:"title"`
	Fragments []Segment `json:"fragments"`
}

// FetchResult is what a Fetcher produces for a source URL
type FetchResult struct {
	VideoID   string
	Title     string
	LocalPath string
}

// Fetcher downloads a source video to local storage
type Fetcher interface {
	Fetch(ctx context.Context, url, destDir string) (*FetchResult, error)
}

// Transcriber produces an ordered transcript for a local media file
type Transcriber interface {
	Transcribe(ctx context.Context, localPath string) ([]Segment, error)
}

// ClipSelector chooses clips from a transcript. An empty result means "no
// clips to cut", not a failure.
type ClipSelector interface {
	SelectClips(ctx context.Context, transcript []Segment) ([]Clip, error)
}

// Cutter produces clip files from a source video
type Cutter interface {
	// Cut renders every clip into outDir and returns the produced paths
	Cut(ctx context.Context, localPath string, clips []Clip, outDir string) ([]string, error)
	// Trim renders a single start/end excerpt into outDir
	Trim(ctx context.Context, localPath, outDir string, start, end float64) (string, error)
}
