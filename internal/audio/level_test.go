package audio

import (
	"math"
	"testing"
)

func sineBlock(frames, channels int, amp float64) SampleBlock {
	samples := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		// 8 complete cycles so the RMS is exactly amp/sqrt2.
		v := float32(amp * math.Sin(2*math.Pi*8*float64(i)/float64(frames)))
		for ch := 0; ch < channels; ch++ {
			samples[i*channels+ch] = v
		}
	}
	return SampleBlock{Samples: samples}
}

func TestMeasureSilence(t *testing.T) {
	b := SampleBlock{Samples: make([]float32, 2048*2)}
	lvl := Measure(b, 2)

	if lvl.Left != LevelFloorDB {
		t.Errorf("Left = %f, want floor %f", lvl.Left, LevelFloorDB)
	}
	if lvl.Right != LevelFloorDB {
		t.Errorf("Right = %f, want floor %f", lvl.Right, LevelFloorDB)
	}
	if math.IsInf(lvl.Max(), -1) {
		t.Error("level must clamp to floor, not -inf")
	}
}

func TestMeasureFullScaleSine(t *testing.T) {
	lvl := Measure(sineBlock(1024, 2, 1.0), 2)

	if math.Abs(lvl.Left) > 0.01 {
		t.Errorf("full-scale sine Left = %f dB, want ~0", lvl.Left)
	}
	if math.Abs(lvl.Right) > 0.01 {
		t.Errorf("full-scale sine Right = %f dB, want ~0", lvl.Right)
	}
}

func TestMeasureHalfScaleSine(t *testing.T) {
	lvl := Measure(sineBlock(1024, 2, 0.5), 2)

	want := 20 * math.Log10(0.5) // -6.02 dB
	if math.Abs(lvl.Max()-want) > 0.01 {
		t.Errorf("half-scale sine = %f dB, want %f", lvl.Max(), want)
	}
}

func TestMeasureIndependentChannels(t *testing.T) {
	// Left silent, right full-scale sine.
	frames := 1024
	samples := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		samples[i*2+1] = float32(math.Sin(2 * math.Pi * 8 * float64(i) / float64(frames)))
	}
	lvl := Measure(SampleBlock{Samples: samples}, 2)

	if lvl.Left != LevelFloorDB {
		t.Errorf("silent Left = %f, want floor", lvl.Left)
	}
	if math.Abs(lvl.Right) > 0.01 {
		t.Errorf("sine Right = %f dB, want ~0", lvl.Right)
	}
	if lvl.Max() != lvl.Right {
		t.Errorf("Max() = %f, want the louder channel %f", lvl.Max(), lvl.Right)
	}
}

func TestMeasureMono(t *testing.T) {
	lvl := Measure(sineBlock(1024, 1, 1.0), 1)
	if lvl.Left != lvl.Right {
		t.Errorf("mono block should report equal channels: %f vs %f", lvl.Left, lvl.Right)
	}
	if math.Abs(lvl.Left) > 0.01 {
		t.Errorf("mono sine = %f dB, want ~0", lvl.Left)
	}
}

func TestMeasureEmptyBlock(t *testing.T) {
	lvl := Measure(SampleBlock{}, 2)
	if lvl.Left != LevelFloorDB || lvl.Right != LevelFloorDB {
		t.Errorf("empty block = %+v, want floor on both channels", lvl)
	}
}
