// Package video turns a finished recording plus a still image or video clip
// into an encoded video file by shelling out to ffmpeg.
package video

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/soundlab/tapedeck/internal/faults"
	"github.com/soundlab/tapedeck/internal/resilience"
)

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".webm": true,
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true,
}

// IsVideoFile reports whether path looks like a video by extension.
func IsVideoFile(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// IsImageFile reports whether path looks like a still image by extension.
func IsImageFile(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Creator runs ffmpeg and ffprobe from configured paths, so packaged
// installs can point at bundled binaries. A breaker trips after repeated
// tool failures, typically a missing or broken binary, so requests fail
// fast instead of spawning a doomed process each time.
type Creator struct {
	FFmpeg  string
	FFprobe string
	breaker *resilience.Breaker
}

// New returns a Creator using the given binary paths.
func New(ffmpeg, ffprobe string) *Creator {
	return &Creator{
		FFmpeg:  ffmpeg,
		FFprobe: ffprobe,
		breaker: resilience.NewBreaker(resilience.ToolBreakerConfig()),
	}
}

// Resolution is a named output size.
type Resolution struct {
	Width, Height int
}

var resolutions = map[string]Resolution{
	"480p":  {854, 480},
	"720p":  {1280, 720},
	"1080p": {1920, 1080},
}

// resolve maps a resolution name to a size, defaulting to 1080p.
func resolve(name string) Resolution {
	if r, ok := resolutions[name]; ok {
		return r
	}
	return resolutions["1080p"]
}

// scaleFilter builds the scale-and-pad filter that letterboxes arbitrary
// input into the target size without distortion.
func scaleFilter(r Resolution) string {
	w, h := strconv.Itoa(r.Width), strconv.Itoa(r.Height)
	return "scale=" + w + ":" + h + ":force_original_aspect_ratio=decrease," +
		"pad=" + w + ":" + h + ":(ow-iw)/2:(oh-ih)/2"
}

// buildArgs assembles the ffmpeg argument list for one of three shapes:
// a looped still image, a looped (shorter) video clip, or a video clip at
// least as long as the audio. The audio track always decides the duration.
func buildArgs(mediaPath, audioPath, outPath, resName string, loopClip bool) []string {
	res := resolve(resName)
	args := []string{"-y"}

	switch {
	case IsImageFile(mediaPath):
		args = append(args, "-loop", "1", "-i", mediaPath)
	case loopClip:
		args = append(args, "-stream_loop", "-1", "-i", mediaPath)
	default:
		args = append(args, "-i", mediaPath)
	}

	args = append(args,
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-vf", scaleFilter(res),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
	)
	if IsImageFile(mediaPath) {
		args = append(args, "-tune", "stillimage")
	}
	args = append(args,
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "+faststart",
		"-shortest",
		outPath,
	)
	return args
}

// Create renders audioPath over mediaPath into outPath. A video clip
// shorter than the audio is looped; a still image is held for the whole
// duration. ffmpeg's stderr tail is folded into the error on failure.
func (c *Creator) Create(ctx context.Context, mediaPath, audioPath, outPath, resolution string) error {
	if !IsVideoFile(mediaPath) && !IsImageFile(mediaPath) {
		return faults.Newf(faults.Encode, "unsupported media file %q", filepath.Base(mediaPath))
	}
	return c.breaker.Execute(func() error {
		return c.create(ctx, mediaPath, audioPath, outPath, resolution)
	})
}

func (c *Creator) create(ctx context.Context, mediaPath, audioPath, outPath, resolution string) error {
	loopClip := false
	if IsVideoFile(mediaPath) {
		audioDur, err := c.probeDuration(ctx, audioPath)
		if err != nil {
			return err
		}
		clipDur, err := c.probeDuration(ctx, mediaPath)
		if err != nil {
			return err
		}
		loopClip = clipDur < audioDur
	}

	args := buildArgs(mediaPath, audioPath, outPath, resolution, loopClip)
	slog.Info("creating video", "media", mediaPath, "audio", audioPath,
		"out", outPath, "loop", loopClip)

	cmd := exec.CommandContext(ctx, c.FFmpeg, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return faults.Wrapf(err, faults.Encode, "ffmpeg failed: %s", tail(out, 400))
	}
	return nil
}

// probeDuration asks ffprobe for a file's duration in seconds.
func (c *Creator) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, c.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, faults.Wrapf(err, faults.Encode, "ffprobe %s", filepath.Base(path))
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, faults.Wrapf(err, faults.Encode, "ffprobe output for %s", filepath.Base(path))
	}
	return dur, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
