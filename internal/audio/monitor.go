package audio

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/soundlab/tapedeck/internal/faults"
)

// monitorQueueDepth bounds the monitor's added latency to a few blocks.
// Deliberately separate from the recording ring so a monitor underrun never
// touches recording correctness.
const monitorQueueDepth = 4

// Monitor owns the output stream and plays gain-scaled copies of captured
// blocks. When its queue is empty at write time it emits silence for that
// block period: an audible dropout, not a failure.
type Monitor struct {
	backend Backend

	queue chan []float32
	gain  atomic.Uint64 // math.Float64bits of the linear gain

	underruns atomic.Uint64
	drops     atomic.Uint64

	mu     sync.Mutex
	stream OutputStream
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor over the given backend.
func NewMonitor(backend Backend) *Monitor {
	m := &Monitor{
		backend: backend,
		queue:   make(chan []float32, monitorQueueDepth),
	}
	m.SetGain(0.7)
	return m
}

// SetGain sets the linear monitor gain (0.0 mutes; values above 1.0 boost).
func (m *Monitor) SetGain(g float64) {
	if g < 0 {
		g = 0
	}
	m.gain.Store(math.Float64bits(g))
}

// Gain returns the current linear gain.
func (m *Monitor) Gain() float64 {
	return math.Float64frombits(m.gain.Load())
}

// Underruns returns how many block periods were filled with silence.
func (m *Monitor) Underruns() uint64 { return m.underruns.Load() }

// Drops returns how many queued blocks were discarded to bound latency.
func (m *Monitor) Drops() uint64 { return m.drops.Load() }

// Submit queues a block for playback without blocking. When the queue is
// full the oldest queued block is discarded, keeping latency bounded.
// The samples are not mutated; gain is applied into a scratch buffer.
func (m *Monitor) Submit(samples []float32) {
	for {
		select {
		case m.queue <- samples:
			return
		default:
			select {
			case <-m.queue:
				m.drops.Add(1)
			default:
			}
		}
	}
}

// Running reports whether an output stream is open.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// Start opens the output device and begins the writer goroutine.
func (m *Monitor) Start(deviceID string, cfg StreamConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return faults.New(faults.DeviceOpen, "monitor already running")
	}

	stream, err := m.backend.OpenOutput(deviceID, cfg)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	m.stream = stream
	m.done = done

	m.wg.Add(1)
	go m.writeLoop(stream, cfg, done)

	slog.Info("monitor started", "device", deviceID, "gain", m.Gain())
	return nil
}

// Stop closes the output stream; the device handle is released before Stop
// returns. Safe to call when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stream, done := m.stream, m.done
	m.stream, m.done = nil, nil
	m.mu.Unlock()

	if stream != nil {
		close(done)
		_ = stream.Close()
	}
	m.wg.Wait()

	// Flush anything queued so a later Start doesn't replay stale audio.
	for {
		select {
		case <-m.queue:
		default:
			return
		}
	}
}

func (m *Monitor) writeLoop(stream OutputStream, cfg StreamConfig, done chan struct{}) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor fault", "panic", r)
			m.handleLost(stream)
		}
	}()

	scratch := make([]float32, cfg.samplesPerBlock())
	silence := make([]float32, cfg.samplesPerBlock())

	for {
		out := silence
		select {
		case <-done:
			return
		case samples := <-m.queue:
			g := float32(m.Gain())
			n := len(samples)
			if n > len(scratch) {
				n = len(scratch)
			}
			for i := 0; i < n; i++ {
				scratch[i] = samples[i] * g
			}
			out = scratch[:n]
		default:
			m.underruns.Add(1)
		}

		if err := stream.WriteBlock(out); err != nil {
			select {
			case <-done:
				return
			default:
			}
			slog.Error("monitor stopped", "error", err)
			m.handleLost(stream)
			return
		}
	}
}

func (m *Monitor) handleLost(stream OutputStream) {
	m.mu.Lock()
	owned := m.stream == stream
	if owned {
		m.stream, m.done = nil, nil
	}
	m.mu.Unlock()
	if owned {
		_ = stream.Close()
	}
}
