// Package settings persists user-adjustable state between runs.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/soundlab/tapedeck/internal/config"
	"github.com/soundlab/tapedeck/internal/faults"
)

// Settings is everything restored on startup. The live-monitor arm is
// deliberately absent: open speakers next to an open microphone feed back,
// so monitoring always starts disarmed and the user re-enables it.
type Settings struct {
	InputDeviceID  string `json:"input_device_id"`
	OutputDeviceID string `json:"output_device_id"`

	OutputDir  string `json:"output_dir"`
	FilePrefix string `json:"file_prefix"`
	// Counter numbers recordings; it is bumped on every successful save.
	Counter int `json:"counter"`

	AutoRecord    bool    `json:"auto_record"`
	MonitorVolume float64 `json:"monitor_volume"`

	Recorder config.RecorderConfig `json:"recorder"`
	Trim     config.TrimConfig     `json:"trim"`

	VideoFolder     string `json:"video_folder"`
	VideoResolution string `json:"video_resolution"`
}

// Defaults returns the settings used when no file exists yet.
func Defaults(outputDir string) Settings {
	return Settings{
		OutputDir:       outputDir,
		FilePrefix:      "recording",
		Counter:         1,
		MonitorVolume:   0.7,
		Recorder:        config.DefaultRecorder(),
		Trim:            config.DefaultTrim(),
		VideoResolution: "1080p",
	}
}

// Store is a mutex-guarded settings file. Every Update writes through to
// disk so a crash loses at most the change in flight.
type Store struct {
	path string

	mu sync.Mutex
	s  Settings
}

// Open loads the settings file, falling back to defaults when it does not
// exist. A file that exists but cannot be parsed is an error rather than a
// silent reset.
func Open(path string, defaults Settings) (*Store, error) {
	st := &Store{path: path, s: defaults}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, faults.Wrap(err, faults.IO, "read settings")
	}
	if err := json.Unmarshal(raw, &st.s); err != nil {
		return nil, faults.Wrap(err, faults.Config, "parse settings")
	}
	return st, nil
}

// Get returns the current settings snapshot.
func (st *Store) Get() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Update applies fn under the lock and persists the result. The in-memory
// settings keep the new value even if the write fails, so the change stays
// live for this run.
func (st *Store) Update(fn func(*Settings)) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
	return st.flush()
}

// flush writes the settings through a temp file and rename, keeping the
// previous file intact on failure. Callers hold st.mu.
func (st *Store) flush() error {
	raw, err := json.MarshalIndent(st.s, "", "  ")
	if err != nil {
		return faults.Wrap(err, faults.IO, "encode settings")
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return faults.Wrap(err, faults.IO, "create settings directory")
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return faults.Wrap(err, faults.IO, "create settings temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return faults.Wrap(err, faults.IO, "write settings")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(err, faults.IO, "flush settings")
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(err, faults.IO, "replace settings file")
	}
	return nil
}
