package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WhisperTranscriber runs a whisper CLI that emits segment JSON
type WhisperTranscriber struct {
	Binary string
	// Model is the whisper model size, e.g. "small"
	Model string
}

// NewWhisperTranscriber creates a transcriber for the given model size
func NewWhisperTranscriber(model string) *WhisperTranscriber {
	if model == "" {
		model = "small"
	}
	return &WhisperTranscriber{Binary: "whisper", Model: model}
}

type whisperOutput struct {
	Segments []Segment `json:"segments"`
}

// Transcribe runs whisper over the file and returns its ordered segments
func (t *WhisperTranscriber) Transcribe(ctx context.Context, localPath string) ([]Segment, error) {
	outDir, err := os.MkdirTemp("", "transcribe-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	args := []string{
		localPath,
		"--model", t.Model,
		"--language", "en",
		"--output_format", "json",
		"--output_dir", outDir,
	}
	// #nosec G204 -- arguments are fixed flags plus a managed file path
	out, err := exec.CommandContext(ctx, t.Binary, args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("whisper failed: %s", strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json")) // #nosec G304 -- path derived from managed temp dir
	if err != nil {
		return nil, fmt.Errorf("whisper output missing: %w", err)
	}
	var parsed whisperOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse whisper output: %w", err)
	}
	return parsed.Segments, nil
}
