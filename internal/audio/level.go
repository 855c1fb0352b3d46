package audio

import "math"

// LevelFloorDB is the silence floor: a block with zero energy measures this
// instead of -inf.
const LevelFloorDB = -96.0

// sineCalibration makes a full-scale sine wave read 0 dBFS (RMS of a
// full-scale sine is 1/sqrt2).
var sineCalibration = math.Sqrt2

// ChannelLevel is the measured level of one block, in dBFS per channel.
type ChannelLevel struct {
	Left  float64 `json:"left_db"`
	Right float64 `json:"right_db"`
}

// Max returns the louder channel, the value used for silence gating.
func (l ChannelLevel) Max() float64 {
	return math.Max(l.Left, l.Right)
}

// Measure computes the RMS level of each channel in dBFS. Pure function:
// a malformed block length is a caller contract violation, not an error.
// For mono blocks both channels report the same level.
func Measure(b SampleBlock, channels int) ChannelLevel {
	if channels < 2 {
		db := channelDB(b.Samples, 1, 0)
		return ChannelLevel{Left: db, Right: db}
	}
	return ChannelLevel{
		Left:  channelDB(b.Samples, 2, 0),
		Right: channelDB(b.Samples, 2, 1),
	}
}

func channelDB(samples []float32, stride, offset int) float64 {
	var sum float64
	var n int
	for i := offset; i < len(samples); i += stride {
		s := float64(samples[i])
		sum += s * s
		n++
	}
	if n == 0 {
		return LevelFloorDB
	}
	rms := math.Sqrt(sum / float64(n))
	if rms <= 0 {
		return LevelFloorDB
	}
	db := 20 * math.Log10(rms*sineCalibration)
	if db < LevelFloorDB {
		return LevelFloorDB
	}
	return db
}
