package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// YTDLPFetcher downloads videos with the yt-dlp CLI
type YTDLPFetcher struct {
	// Binary overrides the yt-dlp executable name
	Binary string
}

// NewYTDLPFetcher creates a fetcher using the yt-dlp binary on PATH
func NewYTDLPFetcher() *YTDLPFetcher {
	return &YTDLPFetcher{Binary: "yt-dlp"}
}

// Fetch downloads the video into destDir named by its id and returns the
// video id, original title, and absolute local path
func (f *YTDLPFetcher) Fetch(ctx context.Context, url, destDir string) (*FetchResult, error) {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	// One invocation downloads and prints the fields we need, line by line
	args := []string{
		"--no-progress", "--quiet", "--no-warnings",
		"--merge-output-format", "mp4",
		"-o", filepath.Join(destDir, "%(id)s.%(ext)s"),
		"--print", "after_move:%(id)s",
		"--print", "after_move:%(title)s",
		"--print", "after_move:filepath",
		"--no-simulate",
		url,
	}
	// #nosec G204 -- url is caller input to a download tool, not a shell
	out, err := exec.CommandContext(ctx, f.Binary, args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("yt-dlp failed: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("yt-dlp failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("unexpected yt-dlp output: %q", string(out))
	}
	path, err := filepath.Abs(strings.TrimSpace(lines[len(lines)-1]))
	if err != nil {
		return nil, err
	}
	return &FetchResult{
		VideoID:   strings.TrimSpace(lines[len(lines)-3]),
		Title:     strings.TrimSpace(lines[len(lines)-2]),
		LocalPath: path,
	}, nil
}
