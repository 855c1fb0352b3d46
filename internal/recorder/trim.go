package recorder

import (
	"time"

	"github.com/soundlab/tapedeck/internal/audio"
	"github.com/soundlab/tapedeck/internal/config"
)

// TrimReport describes what trimming removed. Reporting only; it never
// feeds back into decisions.
type TrimReport struct {
	Original time.Duration
	Final    time.Duration
	Trimmed  time.Duration
	Leading  int // blocks removed from the start
	Trailing int // blocks removed from the end
}

// Trim removes leading and/or trailing silent blocks from a finished
// recording. A block is silent when its louder channel measures below the
// trim threshold. Only a contiguous prefix and suffix are removed, at block
// granularity; the audio is never reordered or resampled. An all-silent
// buffer trims to empty.
func Trim(blocks []audio.SampleBlock, trim config.TrimConfig, rec config.RecorderConfig) ([]audio.SampleBlock, TrimReport) {
	report := TrimReport{
		Original: audio.BlocksDuration(blocks, rec.SampleRate, rec.Channels),
	}

	silent := func(b audio.SampleBlock) bool {
		return audio.Measure(b, rec.Channels).Max() < trim.ThresholdDB
	}

	start, end := 0, len(blocks)

	if trim.TrimStart {
		for start < end && silent(blocks[start]) {
			start++
		}
	}
	if trim.TrimEnd {
		for end > start && silent(blocks[end-1]) {
			end--
		}
	}

	trimmed := blocks[start:end]
	report.Leading = start
	report.Trailing = len(blocks) - end
	report.Final = audio.BlocksDuration(trimmed, rec.SampleRate, rec.Channels)
	report.Trimmed = report.Original - report.Final
	return trimmed, report
}
