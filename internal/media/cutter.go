package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/clipforge/clipforge/internal/logger"
)

// FFmpegCutter renders clips with the ffmpeg CLI
type FFmpegCutter struct {
	Binary string
}

// NewFFmpegCutter creates a cutter using ffmpeg on PATH
func NewFFmpegCutter() *FFmpegCutter {
	return &FFmpegCutter{Binary: "ffmpeg"}
}

func timemark(seconds float64) string {
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := seconds - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}

func safeTitle(title string, fallback string) string {
	if title == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}

func (c *FFmpegCutter) run(ctx context.Context, args ...string) error {
	// #nosec G204 -- arguments are fixed flags plus managed file paths
	out, err := exec.CommandContext(ctx, c.Binary, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = "ffmpeg failed"
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func (c *FFmpegCutter) extract(ctx context.Context, src string, frag Segment, dest string) error {
	return c.run(ctx,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-ss", timemark(frag.Start), "-to", timemark(frag.End),
		"-c:v", "libx264", "-c:a", "aac",
		"-crf", "18", "-preset", "medium", "-b:a", "192k",
		"-avoid_negative_ts", "make_zero", "-fflags", "+genpts",
		dest,
	)
}

// Cut renders every clip into outDir. Clips whose render fails are skipped,
// not fatal; the returned list holds only the files that exist.
func (c *FFmpegCutter) Cut(ctx context.Context, localPath string, clips []Clip, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, err
	}

	var created []string
	for i, clip := range clips {
		if len(clip.Fragments) == 0 {
			continue
		}
		outFile := filepath.Join(outDir, fmt.Sprintf("clip_%d_%s.mp4", i+1, safeTitle(clip.Title, fmt.Sprintf("clip%d", i+1))))

		if len(clip.Fragments) == 1 {
			if err := c.extract(ctx, localPath, clip.Fragments[0], outFile); err != nil {
				logger.Warnf("failed to render clip %d: %v", i+1, err)
				continue
			}
			created = append(created, outFile)
			continue
		}

		if err := c.concat(ctx, localPath, clip.Fragments, outDir, i+1, outFile); err != nil {
			logger.Warnf("failed to render clip %d: %v", i+1, err)
			continue
		}
		created = append(created, outFile)
	}
	return created, nil
}

// concat extracts each fragment to a temp file and joins them with the
// concat filter
func (c *FFmpegCutter) concat(ctx context.Context, src string, frags []Segment, outDir string, clipNum int, outFile string) error {
	var temps []string
	defer func() {
		for _, t := range temps {
			_ = os.Remove(t)
		}
	}()

	for j, frag := range frags {
		temp := filepath.Join(outDir, fmt.Sprintf("temp_clip_%d_%d.mp4", clipNum, j))
		if err := c.extract(ctx, src, frag, temp); err != nil {
			return err
		}
		temps = append(temps, temp)
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	var inputs strings.Builder
	for idx, temp := range temps {
		args = append(args, "-i", temp)
		fmt.Fprintf(&inputs, "[%d:v][%d:a]", idx, idx)
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=1:a=1[outv][outa]", inputs.String(), len(temps))
	args = append(args,
		"-filter_complex", filter,
		"-map", "[outv]", "-map", "[outa]",
		"-c:v", "libx264", "-c:a", "aac",
		"-crf", "18", "-preset", "medium", "-b:a", "192k",
		outFile,
	)
	return c.run(ctx, args...)
}

// Trim renders a single excerpt of the source. Zero start and end copy the
// streams unchanged.
func (c *FFmpegCutter) Trim(ctx context.Context, localPath, outDir string, start, end float64) (string, error) {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
	outFile := filepath.Join(outDir, base+"_cut.mp4")

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", localPath}
	if start > 0 {
		args = append(args, "-ss", timemark(start))
	}
	if end > 0 {
		args = append(args, "-to", timemark(end))
	}
	if start > 0 || end > 0 {
		args = append(args, "-c:v", "libx264", "-c:a", "aac")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, outFile)

	if err := c.run(ctx, args...); err != nil {
		return "", err
	}
	return filepath.Abs(outFile)
}
