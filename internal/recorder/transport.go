package recorder

import (
	"time"

	"github.com/soundlab/tapedeck/internal/faults"
)

// State is the single top-level transport state. Manual recording and the
// auto-record arm live in the same enum, so "both modes active" cannot be
// represented.
type State int

const (
	// StateIdle: no mode engaged.
	StateIdle State = iota
	// StateManualRecording: explicit start/stop session in progress.
	StateManualRecording
	// StateWaiting: auto-record armed, listening for signal.
	StateWaiting
	// StateRecording: auto-record session in progress.
	StateRecording
	// StateStopping: sustained silence observed, session being finalized.
	StateStopping
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateManualRecording: "manual_recording",
	StateWaiting:         "waiting",
	StateRecording:       "recording",
	StateStopping:        "stopping",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Effect tells the engine what a transition requires of the session layer.
type Effect struct {
	Finalize bool // finalize the active session first
	Start    bool // then start a new session
}

// Transport drives recording state from level observations and user
// commands. It is not goroutine safe; the engine serializes access.
type Transport struct {
	state       State
	thresholdDB float64
	silenceFor  time.Duration

	silenceSince time.Time // zero while signal is present
	signalSince  time.Time
}

// NewTransport creates an idle transport with the given gate.
func NewTransport(thresholdDB float64, silenceFor time.Duration) *Transport {
	return &Transport{thresholdDB: thresholdDB, silenceFor: silenceFor}
}

// State returns the current transport state.
func (t *Transport) State() State { return t.state }

// AutoEnabled reports whether the auto-record arm is engaged.
func (t *Transport) AutoEnabled() bool {
	return t.state == StateWaiting || t.state == StateRecording || t.state == StateStopping
}

// RecordingActive reports whether a session is currently accepting blocks.
func (t *Transport) RecordingActive() bool {
	return t.state == StateManualRecording || t.state == StateRecording || t.state == StateStopping
}

// SetGate replaces the silence gate. Takes effect on the next observation;
// an in-flight silence countdown keeps its start time.
func (t *Transport) SetGate(thresholdDB float64, silenceFor time.Duration) {
	t.thresholdDB = thresholdDB
	t.silenceFor = silenceFor
}

// StartManual begins a manual session. Starting while a manual recording is
// active is rejected; if auto-record is engaged it is disengaged first,
// finalizing any active auto session.
func (t *Transport) StartManual(now time.Time) (Effect, error) {
	switch t.state {
	case StateManualRecording:
		return Effect{}, faults.New(faults.Config, "recording already in progress")
	case StateRecording, StateStopping:
		t.state = StateManualRecording
		t.signalSince = time.Time{}
		t.silenceSince = time.Time{}
		return Effect{Finalize: true, Start: true}, nil
	default: // Idle, Waiting
		t.state = StateManualRecording
		return Effect{Start: true}, nil
	}
}

// StopManual ends the manual session.
func (t *Transport) StopManual() (Effect, error) {
	if t.state != StateManualRecording {
		return Effect{}, faults.New(faults.Config, "no manual recording active")
	}
	t.state = StateIdle
	return Effect{Finalize: true}, nil
}

// SetAuto engages or disengages auto-record. Engaging while a manual
// recording is active atomically stops and finalizes it first. Disengaging
// mid-recording finalizes the active auto session.
func (t *Transport) SetAuto(enabled bool, now time.Time) Effect {
	if enabled {
		switch t.state {
		case StateWaiting, StateRecording, StateStopping:
			return Effect{} // already engaged
		case StateManualRecording:
			t.state = StateWaiting
			return Effect{Finalize: true}
		default:
			t.state = StateWaiting
			return Effect{}
		}
	}

	switch t.state {
	case StateRecording, StateStopping:
		t.state = StateIdle
		t.silenceSince = time.Time{}
		return Effect{Finalize: true}
	case StateWaiting:
		t.state = StateIdle
	}
	return Effect{}
}

// Observe feeds one gating level (the louder channel of a block) into the
// machine. Level exactly at the threshold counts as signal: the threshold
// is the floor of audible content.
func (t *Transport) Observe(level float64, now time.Time) Effect {
	switch t.state {
	case StateWaiting:
		if level >= t.thresholdDB {
			t.state = StateRecording
			t.signalSince = now
			t.silenceSince = time.Time{}
			return Effect{Start: true}
		}

	case StateRecording:
		if level >= t.thresholdDB {
			t.silenceSince = time.Time{}
			return Effect{}
		}
		if t.silenceSince.IsZero() {
			t.silenceSince = now
		}
		if now.Sub(t.silenceSince) >= t.silenceFor {
			t.state = StateStopping
			t.silenceSince = time.Time{}
			return Effect{Finalize: true}
		}
	}
	return Effect{}
}

// FinishStop completes a silence-triggered stop: the transport returns to
// listening, since reaching Stopping implies auto-record is still engaged.
func (t *Transport) FinishStop() {
	if t.state == StateStopping {
		t.state = StateWaiting
	}
}

// ForceIdle drops any engaged mode, used when the input device is lost.
// The caller finalizes the active session first.
func (t *Transport) ForceIdle() {
	t.state = StateIdle
	t.silenceSince = time.Time{}
	t.signalSince = time.Time{}
}
