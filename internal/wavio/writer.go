// Package wavio serializes finished recordings to RIFF/WAVE PCM containers.
package wavio

import (
	"math"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/soundlab/tapedeck/internal/audio"
	"github.com/soundlab/tapedeck/internal/faults"
)

// Write serializes blocks to path as little-endian PCM at the configured
// format. The container is built in a temporary sibling file and renamed
// into place only after the encoder has patched the RIFF and data chunk
// sizes, so a failed write never leaves a plausible-looking header over
// missing payload. A zero-length buffer still produces a valid container.
func Write(path string, blocks []audio.SampleBlock, sampleRate, bitDepth, channels int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return faults.Wrap(err, faults.IO, "create output directory")
	}

	tmp, err := os.CreateTemp(dir, ".tapedeck-*.wav")
	if err != nil {
		return faults.Wrap(err, faults.IO, "create temp file")
	}
	tmpName := tmp.Name()

	discard := func(cause error, msg string) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return faults.Wrap(cause, faults.IO, msg)
	}

	enc := wav.NewEncoder(tmp, sampleRate, bitDepth, channels, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
	}

	for _, b := range blocks {
		buf.Data = quantize(b.Samples, bitDepth, buf.Data)
		if err := enc.Write(buf); err != nil {
			return discard(err, "encode block")
		}
	}

	// Close patches the header chunk sizes to match the payload.
	if err := enc.Close(); err != nil {
		return discard(err, "finalize container")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(err, faults.IO, "flush temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(err, faults.IO, "move recording into place")
	}
	return nil
}

// quantize converts float samples in [-1, 1] to signed PCM integers,
// clamping out-of-range values. dst is reused when large enough.
func quantize(samples []float32, bitDepth int, dst []int) []int {
	fullScale := float64(int(1)<<(bitDepth-1) - 1)
	if cap(dst) < len(samples) {
		dst = make([]int, len(samples))
	}
	dst = dst[:len(samples)]
	for i, s := range samples {
		v := math.Round(float64(s) * fullScale)
		if v > fullScale {
			v = fullScale
		}
		if v < -fullScale-1 {
			v = -fullScale - 1
		}
		dst[i] = int(v)
	}
	return dst
}
