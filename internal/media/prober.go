package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Prober verifies that a local media file is readable as a stream
type Prober interface {
	Probe(ctx context.Context, localPath string) error
}

// FFprobeProber probes files with the ffprobe CLI
type FFprobeProber struct {
	Binary string
}

// NewFFprobeProber creates a prober using ffprobe on PATH
func NewFFprobeProber() *FFprobeProber {
	return &FFprobeProber{Binary: "ffprobe"}
}

// Probe runs ffprobe against the file and fails if it cannot be opened
func (p *FFprobeProber) Probe(ctx context.Context, localPath string) error {
	// #nosec G204 -- arguments are fixed flags plus a managed file path
	out, err := exec.CommandContext(ctx, p.Binary, "-v", "error", localPath).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = "ffprobe failed"
		}
		return fmt.Errorf("probe %s: %s", localPath, msg)
	}
	return nil
}
