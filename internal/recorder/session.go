// Package recorder implements the recording control layer: sessions, the
// silence-gated transport state machine, post-capture trimming, and the
// engine that ties them to the capture pipeline.
package recorder

import (
	"log/slog"
	"time"

	"github.com/soundlab/tapedeck/internal/audio"
	"github.com/soundlab/tapedeck/internal/config"
)

// Session accumulates accepted blocks for one recording. Only one session
// is active at a time; the engine enforces that. After Finalize the block
// sequence is immutable and owned by the trimmer.
type Session struct {
	cfg       config.RecorderConfig
	started   time.Time
	blocks    []audio.SampleBlock
	lastSeq   uint64
	haveFirst bool
	gaps      uint64
	finalized bool
}

// NewSession starts a session at the given instant.
func NewSession(cfg config.RecorderConfig, started time.Time) *Session {
	return &Session{cfg: cfg, started: started}
}

// Append adds a captured block. Sequence numbers must be strictly
// increasing; a jump means the ring evicted audio, which is surfaced as a
// warning and counted, never silently ignored.
func (s *Session) Append(b audio.SampleBlock) {
	if s.finalized {
		return
	}
	if s.haveFirst {
		if b.Seq <= s.lastSeq {
			// Out-of-order delivery would mean a producer bug; drop it.
			slog.Warn("out-of-order block dropped", "seq", b.Seq, "last", s.lastSeq)
			return
		}
		if missed := b.Seq - s.lastSeq - 1; missed > 0 {
			s.gaps += missed
			slog.Warn("recording has a gap", "missed_blocks", missed, "seq", b.Seq)
		}
	}
	s.haveFirst = true
	s.lastSeq = b.Seq
	s.blocks = append(s.blocks, b)
}

// Gaps returns how many blocks went missing inside this recording.
func (s *Session) Gaps() uint64 { return s.gaps }

// Started returns the session start time.
func (s *Session) Started() time.Time { return s.started }

// Len returns the number of accepted blocks.
func (s *Session) Len() int { return len(s.blocks) }

// Duration returns the recorded audio length.
func (s *Session) Duration() time.Duration {
	return audio.BlocksDuration(s.blocks, s.cfg.SampleRate, s.cfg.Channels)
}

// Finalize ends the session and hands over the block sequence. Further
// Appends are ignored.
func (s *Session) Finalize() []audio.SampleBlock {
	s.finalized = true
	return s.blocks
}
