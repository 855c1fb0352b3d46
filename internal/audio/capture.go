package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundlab/tapedeck/internal/faults"
)

// LevelUpdate pairs a block's measured level with its sequence number, so
// the gating logic can tie decisions back to specific blocks.
type LevelUpdate struct {
	Seq   uint64
	Time  time.Time
	Level ChannelLevel
}

// Capture owns the input stream lifecycle. Every delivered block is level-
// metered, pushed into the ring, and forwarded to the monitor when armed.
// The reader goroutine touches only the ring, the monitor queue, and
// atomics; it never takes a control-layer lock.
type Capture struct {
	backend Backend
	ring    *Ring
	monitor *Monitor

	levels chan LevelUpdate
	lost   chan error

	armed atomic.Bool
	seq   atomic.Uint64

	mu     sync.Mutex
	stream InputStream
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewCapture creates a capture engine over the given backend. monitor may be
// nil when live monitoring is not wired up.
func NewCapture(backend Backend, ring *Ring, monitor *Monitor) *Capture {
	return &Capture{
		backend: backend,
		ring:    ring,
		monitor: monitor,
		levels:  make(chan LevelUpdate, 64),
		lost:    make(chan error, 1),
	}
}

// Levels returns the per-block level stream. Updates are dropped rather
// than blocking the reader when the consumer lags.
func (c *Capture) Levels() <-chan LevelUpdate { return c.levels }

// Lost delivers mid-stream device loss events.
func (c *Capture) Lost() <-chan error { return c.lost }

// SetArmed enables or disables monitor forwarding. Takes effect on the next
// block.
func (c *Capture) SetArmed(on bool) { c.armed.Store(on) }

// Armed reports whether monitor forwarding is enabled.
func (c *Capture) Armed() bool { return c.armed.Load() }

// Running reports whether an input stream is open.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Start opens the input device and begins the reader goroutine.
func (c *Capture) Start(deviceID string, cfg StreamConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return faults.New(faults.DeviceOpen, "capture already running")
	}

	stream, err := c.backend.OpenInput(deviceID, cfg)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	c.stream = stream
	c.done = done

	c.wg.Add(1)
	go c.readLoop(stream, cfg, done)

	slog.Info("capture started", "device", deviceID,
		"sample_rate", cfg.SampleRate, "block_size", cfg.BlockSize)
	return nil
}

// Stop closes the input stream. The device handle is released before Stop
// returns. Safe to call when not running.
func (c *Capture) Stop() {
	c.mu.Lock()
	stream, done := c.stream, c.done
	c.stream, c.done = nil, nil
	c.mu.Unlock()

	if stream != nil {
		close(done)
		_ = stream.Close() // unblocks a pending ReadBlock
	}
	c.wg.Wait()
}

func (c *Capture) readLoop(stream InputStream, cfg StreamConfig, done chan struct{}) {
	defer c.wg.Done()
	// A fault inside the capture path must never cross the goroutine
	// boundary as a panic: convert it to a device-lost shutdown.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("capture fault", "panic", r)
			c.handleLost(stream, faults.Newf(faults.DeviceLost, "capture fault: %v", r))
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		buf, err := stream.ReadBlock()
		if err != nil {
			select {
			case <-done:
				return // expected: Stop closed the stream under us
			default:
			}
			c.handleLost(stream, err)
			return
		}

		block := SampleBlock{
			Seq:     c.seq.Add(1) - 1,
			Time:    time.Now(),
			Samples: append([]float32(nil), buf...),
		}
		level := Measure(block, cfg.Channels)

		select {
		case c.levels <- LevelUpdate{Seq: block.Seq, Time: block.Time, Level: level}:
		default:
		}

		c.ring.Push(block)

		if c.monitor != nil && c.armed.Load() {
			c.monitor.Submit(block.Samples)
		}
	}
}

// handleLost shuts the stream down after a mid-stream failure and notifies
// the control layer.
func (c *Capture) handleLost(stream InputStream, err error) {
	c.mu.Lock()
	owned := c.stream == stream
	if owned {
		c.stream, c.done = nil, nil
	}
	c.mu.Unlock()

	if owned {
		_ = stream.Close()
	}

	if !faults.IsCode(err, faults.DeviceLost) {
		err = faults.Wrap(err, faults.DeviceLost, "input device lost")
	}
	slog.Error("capture stopped", "error", err)

	select {
	case c.lost <- err:
	default:
	}
}
