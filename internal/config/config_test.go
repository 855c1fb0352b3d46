package config

import (
	"os"
	"testing"
	"time"

	"github.com/soundlab/tapedeck/internal/faults"
)

func TestLoad(t *testing.T) {
	envVars := []string{
		"HTTP_ADDR", "SETTINGS_PATH", "OUTPUT_DIR", "LOG_FILE",
		"RING_CAPACITY", "FFMPEG_PATH", "FFPROBE_PATH",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.HTTPAddr != ":8722" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8722")
	}
	if cfg.RingCapacity != 16 {
		t.Errorf("RingCapacity = %d, want 16", cfg.RingCapacity)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want %q", cfg.FFmpegPath, "ffmpeg")
	}
}

func TestLoadWithEnv(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9100")
	os.Setenv("RING_CAPACITY", "32")
	defer os.Unsetenv("HTTP_ADDR")
	defer os.Unsetenv("RING_CAPACITY")

	cfg := Load()

	if cfg.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9100")
	}
	if cfg.RingCapacity != 32 {
		t.Errorf("RingCapacity = %d, want 32", cfg.RingCapacity)
	}
}

func TestRecorderConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RecorderConfig)
		ok     bool
	}{
		{"defaults", func(*RecorderConfig) {}, true},
		{"16-bit mono", func(c *RecorderConfig) { c.BitDepth = 16; c.Channels = 1 }, true},
		{"zero sample rate", func(c *RecorderConfig) { c.SampleRate = 0 }, false},
		{"odd bit depth", func(c *RecorderConfig) { c.BitDepth = 20 }, false},
		{"five channels", func(c *RecorderConfig) { c.Channels = 5 }, false},
		{"tiny block", func(c *RecorderConfig) { c.BlockSize = 16 }, false},
		{"positive threshold", func(c *RecorderConfig) { c.SilenceThresholdDB = 3 }, false},
		{"threshold below floor", func(c *RecorderConfig) { c.SilenceThresholdDB = -120 }, false},
		{"zero silence duration", func(c *RecorderConfig) { c.SilenceDuration = 0 }, false},
		{"negative min duration", func(c *RecorderConfig) { c.MinRecordingDur = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRecorder()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !faults.IsCode(err, faults.Config) {
					t.Errorf("error code = %v, want Config", faults.CodeOf(err))
				}
			}
		})
	}
}

func TestTrimConfigValidate(t *testing.T) {
	cfg := DefaultTrim()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default trim config invalid: %v", err)
	}

	cfg.ThresholdDB = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero threshold should be rejected")
	}
}

func TestBlockPeriod(t *testing.T) {
	cfg := DefaultRecorder()
	// 2048 frames at 44.1kHz is ~46.4ms.
	got := cfg.BlockPeriod()
	frames := float64(2048)
	want := time.Duration(frames / 44100 * float64(time.Second))
	if got != want {
		t.Errorf("BlockPeriod() = %v, want %v", got, want)
	}

	cfg.SampleRate = 0
	if cfg.BlockPeriod() != 0 {
		t.Error("BlockPeriod with zero sample rate should be 0")
	}
}
