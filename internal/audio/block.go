// Package audio implements the real-time capture pipeline: the device
// abstraction, level metering, the capture ring buffer, and low-latency
// monitor playback.
package audio

import "time"

// SampleBlock is one capture callback's worth of interleaved stereo samples.
// Blocks are immutable once produced. Seq increases by one per block for the
// lifetime of a stream so consumers can detect dropped audio.
type SampleBlock struct {
	Seq     uint64
	Time    time.Time
	Samples []float32 // interleaved L/R for stereo, len = Frames()*channels
}

// Frames returns the frame count for the given channel count.
func (b SampleBlock) Frames(channels int) int {
	if channels <= 0 {
		return 0
	}
	return len(b.Samples) / channels
}

// Duration returns the block's play time at the given format.
func (b SampleBlock) Duration(sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames(channels)) / float64(sampleRate) * float64(time.Second))
}

// BlocksDuration sums the play time of a block sequence.
func BlocksDuration(blocks []SampleBlock, sampleRate, channels int) time.Duration {
	var frames int
	for _, b := range blocks {
		frames += b.Frames(channels)
	}
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}
