package recorder

import (
	"testing"
	"time"

	"github.com/soundlab/tapedeck/internal/faults"
)

const blockPeriod = 10 * time.Millisecond

func at(base time.Time, i int) time.Time {
	return base.Add(time.Duration(i) * blockPeriod)
}

// Auto-record walkthrough: three silent blocks while waiting, signal starts
// a session, then sustained silence stops it exactly when the gate duration
// elapses.
func TestTransportAutoRecordTiming(t *testing.T) {
	base := time.Now()
	tr := NewTransport(-40, 2*blockPeriod)
	tr.SetAuto(true, base)

	levels := []float64{-60, -60, -60, -10, -10, -60, -60, -60, -60}

	var startedAt, stoppedAt = -1, -1
	for i, lv := range levels {
		eff := tr.Observe(lv, at(base, i))
		if eff.Start {
			if startedAt >= 0 {
				t.Fatalf("second start at block %d", i)
			}
			startedAt = i
		}
		if eff.Finalize {
			if stoppedAt >= 0 {
				t.Fatalf("second stop at block %d", i)
			}
			stoppedAt = i
		}
	}

	if startedAt != 3 {
		t.Errorf("started at block %d, want 3", startedAt)
	}
	// Silence begins at block 5; two block-periods later is block 7.
	if stoppedAt != 7 {
		t.Errorf("stopped at block %d, want 7", stoppedAt)
	}
	if tr.State() != StateStopping {
		t.Errorf("state = %v, want stopping", tr.State())
	}

	tr.FinishStop()
	if tr.State() != StateWaiting {
		t.Errorf("after FinishStop state = %v, want waiting", tr.State())
	}
}

func TestTransportThresholdTieIsSignal(t *testing.T) {
	base := time.Now()
	tr := NewTransport(-40, 2*blockPeriod)
	tr.SetAuto(true, base)

	if eff := tr.Observe(-40, base); !eff.Start {
		t.Error("level exactly at the threshold must start recording")
	}
	// And while recording, a tie resets the silence countdown.
	tr.Observe(-60, at(base, 1))
	tr.Observe(-40, at(base, 2))
	if eff := tr.Observe(-60, at(base, 3)); eff.Finalize {
		t.Error("countdown was not reset by at-threshold signal")
	}
}

func TestTransportSignalResetsCountdown(t *testing.T) {
	base := time.Now()
	tr := NewTransport(-40, 2*blockPeriod)
	tr.SetAuto(true, base)
	tr.Observe(-10, base)

	// Silence never accumulates two full periods in a row.
	levels := []float64{-60, -10, -60, -10, -60}
	for i, lv := range levels {
		if eff := tr.Observe(lv, at(base, i+1)); eff.Finalize {
			t.Fatalf("stopped at block %d despite interleaved signal", i+1)
		}
	}
	if tr.State() != StateRecording {
		t.Errorf("state = %v, want recording", tr.State())
	}
}

func TestTransportManualLifecycle(t *testing.T) {
	now := time.Now()
	tr := NewTransport(-40, 2*blockPeriod)

	eff, err := tr.StartManual(now)
	if err != nil || !eff.Start || eff.Finalize {
		t.Fatalf("StartManual = %+v, %v", eff, err)
	}
	if tr.State() != StateManualRecording || !tr.RecordingActive() {
		t.Fatalf("state = %v", tr.State())
	}

	// Double start is rejected.
	if _, err := tr.StartManual(now); !faults.IsCode(err, faults.Config) {
		t.Errorf("second StartManual error = %v, want Config fault", err)
	}

	// Gating levels are ignored during manual recording.
	if eff := tr.Observe(-90, now.Add(10*blockPeriod)); eff.Finalize {
		t.Error("silence must not stop a manual recording")
	}

	eff, err = tr.StopManual()
	if err != nil || !eff.Finalize {
		t.Fatalf("StopManual = %+v, %v", eff, err)
	}
	if tr.State() != StateIdle {
		t.Errorf("state = %v, want idle", tr.State())
	}

	if _, err := tr.StopManual(); !faults.IsCode(err, faults.Config) {
		t.Errorf("StopManual when idle error = %v, want Config fault", err)
	}
}

// Only one mode can hold a session: engaging one disengages the other,
// finalizing whatever was active.
func TestTransportModesAreExclusive(t *testing.T) {
	base := time.Now()

	// Manual start while auto-record is mid-session.
	tr := NewTransport(-40, 2*blockPeriod)
	tr.SetAuto(true, base)
	tr.Observe(-10, base)
	if tr.State() != StateRecording {
		t.Fatalf("setup: state = %v", tr.State())
	}
	eff, err := tr.StartManual(at(base, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !eff.Finalize || !eff.Start {
		t.Errorf("manual start over auto session = %+v, want finalize+start", eff)
	}
	if tr.AutoEnabled() {
		t.Error("auto-record still enabled after manual takeover")
	}

	// Enabling auto while manual is recording.
	tr2 := NewTransport(-40, 2*blockPeriod)
	tr2.StartManual(base)
	eff = tr2.SetAuto(true, at(base, 1))
	if !eff.Finalize {
		t.Errorf("SetAuto over manual session = %+v, want finalize", eff)
	}
	if tr2.State() != StateWaiting {
		t.Errorf("state = %v, want waiting", tr2.State())
	}
}

func TestTransportDisableAutoMidRecording(t *testing.T) {
	base := time.Now()
	tr := NewTransport(-40, 2*blockPeriod)
	tr.SetAuto(true, base)
	tr.Observe(-10, base)

	eff := tr.SetAuto(false, at(base, 1))
	if !eff.Finalize {
		t.Errorf("disable mid-recording = %+v, want finalize", eff)
	}
	if tr.State() != StateIdle {
		t.Errorf("state = %v, want idle", tr.State())
	}

	// Disabling when only waiting finalizes nothing.
	tr.SetAuto(true, at(base, 2))
	if eff := tr.SetAuto(false, at(base, 3)); eff.Finalize {
		t.Error("disable while waiting must not finalize")
	}
}

func TestTransportForceIdle(t *testing.T) {
	base := time.Now()
	tr := NewTransport(-40, 2*blockPeriod)
	tr.SetAuto(true, base)
	tr.Observe(-10, base)

	tr.ForceIdle()
	if tr.State() != StateIdle || tr.AutoEnabled() {
		t.Errorf("state = %v after ForceIdle", tr.State())
	}
	// Levels are inert once idle.
	if eff := tr.Observe(-10, at(base, 1)); eff.Start {
		t.Error("idle transport must ignore levels")
	}
}

func TestTransportGateUpdate(t *testing.T) {
	base := time.Now()
	tr := NewTransport(-40, 10*blockPeriod)
	tr.SetAuto(true, base)
	tr.Observe(-10, base)
	tr.Observe(-60, at(base, 1)) // countdown starts

	// Shortening the gate applies to the countdown already in flight.
	tr.SetGate(-40, 2*blockPeriod)
	if eff := tr.Observe(-60, at(base, 3)); !eff.Finalize {
		t.Error("shortened gate did not take effect")
	}
}
