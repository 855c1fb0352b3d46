// Package config handles service configuration
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/soundlab/tapedeck/internal/faults"
)

// Config is the process-level configuration, loaded once at startup from the
// environment. Recording parameters that the user can change at runtime live
// in RecorderConfig and TrimConfig and flow through the settings store.
type Config struct {
	HTTPAddr     string
	SettingsPath string
	OutputDir    string
	LogFile      string // rotating log sink; empty logs to stdout only
	RingCapacity int    // capture ring size in blocks
	FFmpegPath   string
	FFprobePath  string
}

// RecorderConfig holds the capture format and the auto-record gate. It is
// treated as an immutable snapshot per session; updates replace the whole
// value after validation.
type RecorderConfig struct {
	SampleRate int `json:"sample_rate" validate:"gt=0"`
	BitDepth   int `json:"bit_depth" validate:"oneof=16 24"`
	Channels   int `json:"channels" validate:"oneof=1 2"`
	// BlockSize is frames per capture block (2048 ~ 46ms at 44.1kHz).
	BlockSize          int     `json:"block_size" validate:"gte=64,lte=16384"`
	SilenceThresholdDB float64 `json:"silence_threshold_db" validate:"lt=0,gte=-96"`
	SilenceDuration    float64 `json:"silence_duration_s" validate:"gte=0.1,lte=30"`
	MinRecordingDur    float64 `json:"min_recording_duration_s" validate:"gte=0,lte=60"`
}

// TrimConfig controls post-capture silence removal. Its threshold is
// independent of the auto-record gate and is typically stricter (lower).
type TrimConfig struct {
	TrimStart   bool    `json:"trim_start"`
	TrimEnd     bool    `json:"trim_end"`
	ThresholdDB float64 `json:"trim_threshold_db" validate:"lt=0,gte=-96"`
}

var validate = validator.New()

// Validate checks the recorder configuration, returning a Config fault on
// rejection so the caller keeps the previous valid snapshot.
func (c RecorderConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return faults.Wrap(err, faults.Config, "invalid recorder config")
	}
	return nil
}

// Validate checks the trim configuration.
func (c TrimConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return faults.Wrap(err, faults.Config, "invalid trim config")
	}
	return nil
}

// BlockPeriod is the wall-clock duration of one capture block.
func (c RecorderConfig) BlockPeriod() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.BlockSize) / float64(c.SampleRate) * float64(time.Second))
}

// SilenceFor is SilenceDuration as a time.Duration.
func (c RecorderConfig) SilenceFor() time.Duration {
	return time.Duration(c.SilenceDuration * float64(time.Second))
}

// MinRecording is MinRecordingDur as a time.Duration.
func (c RecorderConfig) MinRecording() time.Duration {
	return time.Duration(c.MinRecordingDur * float64(time.Second))
}

// DefaultRecorder returns the recording defaults: 44.1kHz 24-bit stereo,
// -40dB gate held for 2s, 1s minimum keepable recording.
func DefaultRecorder() RecorderConfig {
	return RecorderConfig{
		SampleRate:         44100,
		BitDepth:           24,
		Channels:           2,
		BlockSize:          2048,
		SilenceThresholdDB: -40.0,
		SilenceDuration:    2.0,
		MinRecordingDur:    1.0,
	}
}

// DefaultTrim returns the trim defaults: both ends, -50dB.
func DefaultTrim() TrimConfig {
	return TrimConfig{TrimStart: true, TrimEnd: true, ThresholdDB: -50.0}
}

// Load reads the process configuration from the environment.
func Load() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8722"),
		SettingsPath: getEnv("SETTINGS_PATH", home+"/.tapedeck/settings.json"),
		OutputDir:    getEnv("OUTPUT_DIR", home+"/Recordings"),
		LogFile:      getEnv("LOG_FILE", ""),
		RingCapacity: getEnvInt("RING_CAPACITY", 16),
		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:  getEnv("FFPROBE_PATH", "ffprobe"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
