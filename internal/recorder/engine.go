package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/soundlab/tapedeck/internal/audio"
	"github.com/soundlab/tapedeck/internal/config"
	"github.com/soundlab/tapedeck/internal/faults"
	"github.com/soundlab/tapedeck/internal/resilience"
	"github.com/soundlab/tapedeck/internal/settings"
	"github.com/soundlab/tapedeck/internal/syncx"
	"github.com/soundlab/tapedeck/internal/video"
	"github.com/soundlab/tapedeck/internal/wavio"
)

// levelEmitPeriod throttles level events to roughly 25Hz; meters don't need
// every block.
const levelEmitPeriod = 40 * time.Millisecond

// pendingSave holds a finalized recording whose write failed. The audio
// stays in memory until a retry succeeds or the process exits.
type pendingSave struct {
	blocks []audio.SampleBlock
	rec    config.RecorderConfig
	path   string
}

// Engine ties the capture pipeline to the transport state machine and the
// persistence layers. All transport and session mutation happens under mu,
// whether driven by the run loop or by an API call.
type Engine struct {
	cfg     *config.Config
	backend audio.Backend
	ring    *audio.Ring
	capture *audio.Capture
	monitor *audio.Monitor
	store   *settings.Store
	creator *video.Creator

	recCfg  *syncx.Snapshot[config.RecorderConfig]
	trimCfg *syncx.Snapshot[config.TrimConfig]

	events chan Event

	deviceGate syncx.Gate
	saveMu     sync.Mutex
	saveWg     sync.WaitGroup

	mu        sync.Mutex
	transport *Transport
	session   *Session
	startSeq  uint64
	seqGated  bool
	pending   *pendingSave

	lastLevelEmit time.Time
	lastDropped   uint64
}

// New assembles an engine from loaded configuration and settings. Nothing
// is opened until Start.
func New(cfg *config.Config, backend audio.Backend, store *settings.Store) *Engine {
	s := store.Get()
	ring := audio.NewRing(cfg.RingCapacity)
	monitor := audio.NewMonitor(backend)
	monitor.SetGain(s.MonitorVolume)

	return &Engine{
		cfg:       cfg,
		backend:   backend,
		ring:      ring,
		capture:   audio.NewCapture(backend, ring, monitor),
		monitor:   monitor,
		store:     store,
		creator:   video.New(cfg.FFmpegPath, cfg.FFprobePath),
		recCfg:    syncx.NewSnapshot(s.Recorder),
		trimCfg:   syncx.NewSnapshot(s.Trim),
		events:    make(chan Event, 256),
		transport: NewTransport(s.Recorder.SilenceThresholdDB, s.Recorder.SilenceFor()),
	}
}

// Events returns the engine's notification stream. Events are dropped, not
// blocked on, when the consumer lags.
func (e *Engine) Events() <-chan Event { return e.events }

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case e.events <- ev:
	default:
	}
}

// Start opens the input device and restores persisted auto-record state.
// Device open failures are reported but not fatal: the service stays up so
// the user can pick another device.
func (e *Engine) Start() error {
	s := e.store.Get()

	deviceID, err := e.resolveInput(s.InputDeviceID)
	if err != nil {
		return err
	}
	if err := e.openInput(deviceID); err != nil {
		slog.Error("input device unavailable at startup", "device", deviceID, "error", err)
		e.emit(Event{Type: EventError, Message: err.Error()})
	} else if deviceID != s.InputDeviceID {
		_ = e.store.Update(func(s *settings.Settings) { s.InputDeviceID = deviceID })
	}

	if s.AutoRecord {
		e.mu.Lock()
		e.transport.SetAuto(true, time.Now())
		e.mu.Unlock()
	}
	e.emitState()
	return nil
}

// resolveInput maps an empty or stale persisted device ID to a present one.
func (e *Engine) resolveInput(id string) (string, error) {
	devices, err := e.backend.InputDevices()
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", faults.New(faults.DeviceOpen, "no input devices present")
	}
	for _, d := range devices {
		if d.ID == id {
			return id, nil
		}
	}
	return devices[0].ID, nil
}

func (e *Engine) streamConfig() audio.StreamConfig {
	rc := e.recCfg.Load()
	return audio.StreamConfig{
		SampleRate: rc.SampleRate,
		Channels:   rc.Channels,
		BlockSize:  rc.BlockSize,
	}
}

func (e *Engine) openInput(deviceID string) error {
	cfg := e.streamConfig()
	return resilience.Retry(context.Background(), resilience.DeviceOpenRetryConfig(), func() error {
		return e.capture.Start(deviceID, cfg)
	})
}

// Run drives the engine until ctx is cancelled. It consumes level updates,
// device-loss notifications, and a ticker that drains the ring even when
// level updates are dropped.
func (e *Engine) Run(ctx context.Context) {
	period := e.recCfg.Load().BlockPeriod()
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case lu := <-e.capture.Levels():
			e.onLevel(lu)
		case err := <-e.capture.Lost():
			e.onDeviceLost(err)
		case <-ticker.C:
			e.mu.Lock()
			e.drainLocked()
			e.mu.Unlock()
			e.checkOverruns()
		}
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.finalizeLocked("shutdown")
	e.mu.Unlock()
	e.capture.Stop()
	e.monitor.Stop()
	// A recording finalized on the way out must still reach disk.
	e.saveWg.Wait()
}

// onLevel is the hot path: meter display plus silence gating.
func (e *Engine) onLevel(lu audio.LevelUpdate) {
	if lu.Time.Sub(e.lastLevelEmit) >= levelEmitPeriod {
		e.lastLevelEmit = lu.Time
		e.emit(levelEvent(lu))
	}

	e.mu.Lock()
	e.drainLocked()
	eff := e.transport.Observe(lu.Level.Max(), lu.Time)
	changed := eff.Finalize || eff.Start
	if eff.Finalize {
		e.finalizeLocked("silence")
		e.transport.FinishStop()
	}
	if eff.Start {
		// Include the block that tripped the gate even though it reached
		// the ring after this level update.
		e.startSessionLocked(lu.Time, lu.Seq, true)
	}
	e.mu.Unlock()

	if changed {
		e.emitState()
	}
}

func (e *Engine) onDeviceLost(err error) {
	slog.Error("input device lost", "error", err)
	e.emit(Event{Type: EventError, Message: err.Error()})

	e.mu.Lock()
	e.finalizeLocked("device lost")
	e.transport.ForceIdle()
	e.mu.Unlock()

	e.capture.SetArmed(false)
	e.monitor.Stop()
	e.emitState()
}

// drainLocked moves ring contents into the active session. Callers hold e.mu.
func (e *Engine) drainLocked() {
	if e.session == nil {
		return
	}
	for _, b := range e.ring.PopAll() {
		if e.seqGated && b.Seq < e.startSeq {
			continue
		}
		e.session.Append(b)
	}
}

// startSessionLocked begins a new session. With seqGated set, ring blocks
// older than startSeq are excluded; otherwise the ring is flushed first so
// the recording starts from the present. Callers hold e.mu.
func (e *Engine) startSessionLocked(now time.Time, startSeq uint64, seqGated bool) {
	if !seqGated {
		e.ring.PopAll()
	}
	e.session = NewSession(e.recCfg.Load(), now)
	e.startSeq = startSeq
	e.seqGated = seqGated
	slog.Info("recording started", "state", e.transport.State().String())
}

// finalizeLocked ends the active session: drain, trim, apply the minimum
// duration rule, then hand off to an async save. Callers hold e.mu.
func (e *Engine) finalizeLocked(reason string) {
	if e.session == nil {
		return
	}
	e.drainLocked()
	s := e.session
	e.session = nil
	blocks := s.Finalize()

	rec := e.recCfg.Load()
	trimmed, report := Trim(blocks, e.trimCfg.Load(), rec)
	slog.Info("recording finalized", "reason", reason,
		"duration", report.Final, "trimmed", report.Trimmed, "gaps", s.Gaps())

	if report.Final < rec.MinRecording() {
		e.emit(Event{
			Type: EventWarning,
			Message: fmt.Sprintf("recording discarded: %.2fs after trim, minimum is %.2fs",
				report.Final.Seconds(), rec.MinRecording().Seconds()),
		})
		return
	}

	path := e.nextRecordingPath()
	e.saveWg.Add(1)
	go func() {
		defer e.saveWg.Done()
		e.save(trimmed, rec, path, report)
	}()
}

// nextRecordingPath builds prefix_counter_timestamp.wav under the output
// directory. The counter advances only on successful save.
func (e *Engine) nextRecordingPath() string {
	s := e.store.Get()
	dir := s.OutputDir
	if dir == "" {
		dir = e.cfg.OutputDir
	}
	name := fmt.Sprintf("%s_%04d_%s.wav",
		s.FilePrefix, s.Counter, time.Now().Format("20060102_150405"))
	return filepath.Join(dir, name)
}

// save writes a finalized recording to disk. On failure the audio is kept
// as a pending save that RetrySave can attempt again.
func (e *Engine) save(blocks []audio.SampleBlock, rec config.RecorderConfig, path string, report TrimReport) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if err := wavio.Write(path, blocks, rec.SampleRate, rec.BitDepth, rec.Channels); err != nil {
		slog.Error("recording save failed", "path", path, "error", err)
		e.mu.Lock()
		e.pending = &pendingSave{blocks: blocks, rec: rec, path: path}
		e.mu.Unlock()
		e.emit(Event{Type: EventError, Path: path,
			Message: "save failed, recording held in memory: " + err.Error()})
		return
	}

	if err := e.store.Update(func(s *settings.Settings) { s.Counter++ }); err != nil {
		slog.Warn("counter persist failed", "error", err)
	}

	slog.Info("recording saved", "path", path, "duration", report.Final)
	e.emit(Event{
		Type:      EventSaved,
		Path:      path,
		DurationS: report.Final.Seconds(),
		TrimmedS:  report.Trimmed.Seconds(),
	})
}

// RetrySave re-attempts the last failed write, to the same path.
func (e *Engine) RetrySave() error {
	e.mu.Lock()
	p := e.pending
	e.pending = nil
	e.mu.Unlock()

	if p == nil {
		return faults.New(faults.Config, "nothing to retry")
	}
	e.saveWg.Add(1)
	go func() {
		defer e.saveWg.Done()
		e.save(p.blocks, p.rec, p.path, TrimReport{
			Final: audio.BlocksDuration(p.blocks, p.rec.SampleRate, p.rec.Channels),
		})
	}()
	return nil
}

// StartManual begins a manual recording, disengaging auto-record first if
// it is active.
func (e *Engine) StartManual() error {
	if !e.capture.Running() {
		return faults.New(faults.DeviceOpen, "no input device open")
	}

	now := time.Now()
	e.mu.Lock()
	eff, err := e.transport.StartManual(now)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if eff.Finalize {
		e.finalizeLocked("manual start")
	}
	if eff.Start {
		e.startSessionLocked(now, 0, false)
	}
	auto := e.transport.AutoEnabled()
	e.mu.Unlock()

	e.persistAuto(auto)
	e.emitState()
	return nil
}

// StopManual ends the manual recording and finalizes it.
func (e *Engine) StopManual() error {
	e.mu.Lock()
	eff, err := e.transport.StopManual()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if eff.Finalize {
		e.finalizeLocked("manual stop")
	}
	e.mu.Unlock()

	e.emitState()
	return nil
}

// SetAutoRecord engages or disengages silence-gated recording. Engaging it
// while a manual recording runs stops and finalizes that recording first.
func (e *Engine) SetAutoRecord(enabled bool) error {
	if enabled && !e.capture.Running() {
		return faults.New(faults.DeviceOpen, "no input device open")
	}

	e.mu.Lock()
	eff := e.transport.SetAuto(enabled, time.Now())
	if eff.Finalize {
		e.finalizeLocked("auto toggle")
	}
	e.mu.Unlock()

	e.persistAuto(enabled)
	e.emitState()
	return nil
}

func (e *Engine) persistAuto(enabled bool) {
	if err := e.store.Update(func(s *settings.Settings) { s.AutoRecord = enabled }); err != nil {
		slog.Warn("settings persist failed", "error", err)
	}
}

// SetArm starts or stops live monitoring. The armed flag itself is never
// persisted; every process start begins disarmed.
func (e *Engine) SetArm(on bool) error {
	if !on {
		e.capture.SetArmed(false)
		e.monitor.Stop()
		e.emitState()
		return nil
	}

	s := e.store.Get()
	deviceID := s.OutputDeviceID
	if deviceID == "" {
		devices, err := e.backend.OutputDevices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return faults.New(faults.DeviceOpen, "no output devices present")
		}
		deviceID = devices[0].ID
	}

	cfg := e.streamConfig()
	err := resilience.Retry(context.Background(), resilience.DeviceOpenRetryConfig(), func() error {
		return e.monitor.Start(deviceID, cfg)
	})
	if err != nil {
		return err
	}
	e.capture.SetArmed(true)
	e.emitState()
	return nil
}

// SetMonitorVolume sets and persists the monitor gain.
func (e *Engine) SetMonitorVolume(v float64) error {
	if v < 0 || v > 2 {
		return faults.Newf(faults.Config, "monitor volume %.2f out of range [0, 2]", v)
	}
	e.monitor.SetGain(v)
	return e.store.Update(func(s *settings.Settings) { s.MonitorVolume = v })
}

// RecorderConfig returns the active recording configuration.
func (e *Engine) RecorderConfig() config.RecorderConfig { return e.recCfg.Load() }

// TrimConfig returns the active trim configuration.
func (e *Engine) TrimConfig() config.TrimConfig { return e.trimCfg.Load() }

// UpdateRecorderConfig validates and installs a new recording configuration.
// Gate changes apply from the next observed block. Format changes are
// rejected while a recording is active, and otherwise restart the input
// stream.
func (e *Engine) UpdateRecorderConfig(rc config.RecorderConfig) error {
	if err := rc.Validate(); err != nil {
		return err
	}

	old := e.recCfg.Load()
	formatChanged := rc.SampleRate != old.SampleRate ||
		rc.BitDepth != old.BitDepth ||
		rc.Channels != old.Channels ||
		rc.BlockSize != old.BlockSize

	e.mu.Lock()
	if formatChanged && e.transport.RecordingActive() {
		e.mu.Unlock()
		return faults.New(faults.Config, "cannot change audio format while recording")
	}
	e.recCfg.Store(rc)
	e.transport.SetGate(rc.SilenceThresholdDB, rc.SilenceFor())
	e.mu.Unlock()

	if err := e.store.Update(func(s *settings.Settings) { s.Recorder = rc }); err != nil {
		return err
	}

	if formatChanged && e.capture.Running() {
		return e.reopenInput()
	}
	return nil
}

// UpdateTrimConfig validates and installs a new trim configuration. Applies
// to the next finalize.
func (e *Engine) UpdateTrimConfig(tc config.TrimConfig) error {
	if err := tc.Validate(); err != nil {
		return err
	}
	e.trimCfg.Store(tc)
	return e.store.Update(func(s *settings.Settings) { s.Trim = tc })
}

// InputDevices lists capture-capable devices.
func (e *Engine) InputDevices() ([]audio.Device, error) { return e.backend.InputDevices() }

// OutputDevices lists playback-capable devices.
func (e *Engine) OutputDevices() ([]audio.Device, error) { return e.backend.OutputDevices() }

// SelectInput switches the capture device. An active recording is finalized
// first; concurrent device operations are rejected rather than queued.
func (e *Engine) SelectInput(deviceID string) error {
	err := e.deviceGate.Do(func() error {
		e.mu.Lock()
		e.finalizeLocked("device switch")
		e.mu.Unlock()

		e.capture.Stop()
		if err := e.openInput(deviceID); err != nil {
			return err
		}
		return e.store.Update(func(s *settings.Settings) { s.InputDeviceID = deviceID })
	})
	if err == syncx.ErrBusy {
		return faults.New(faults.DeviceOpen, "device operation already in progress")
	}
	if err == nil {
		e.emitState()
	}
	return err
}

// SelectOutput switches the monitor device, restarting playback if the
// monitor is live.
func (e *Engine) SelectOutput(deviceID string) error {
	err := e.deviceGate.Do(func() error {
		wasLive := e.monitor.Running()
		if wasLive {
			e.monitor.Stop()
		}
		if err := e.store.Update(func(s *settings.Settings) { s.OutputDeviceID = deviceID }); err != nil {
			return err
		}
		if !wasLive {
			return nil
		}
		cfg := e.streamConfig()
		return resilience.Retry(context.Background(), resilience.DeviceOpenRetryConfig(), func() error {
			return e.monitor.Start(deviceID, cfg)
		})
	})
	if err == syncx.ErrBusy {
		return faults.New(faults.DeviceOpen, "device operation already in progress")
	}
	return err
}

// reopenInput restarts the capture stream on the current device with the
// current format.
func (e *Engine) reopenInput() error {
	return e.deviceGate.Do(func() error {
		e.capture.Stop()
		return e.openInput(e.store.Get().InputDeviceID)
	})
}

// CreateVideo renders the given recording over a still image or clip in the
// background, reporting completion through the event stream.
func (e *Engine) CreateVideo(mediaPath, audioPath, outPath string) error {
	if mediaPath == "" || audioPath == "" || outPath == "" {
		return faults.New(faults.Config, "media, audio and output paths are required")
	}
	res := e.store.Get().VideoResolution

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := e.creator.Create(ctx, mediaPath, audioPath, outPath, res); err != nil {
			e.emit(Event{Type: EventError, Path: outPath, Message: err.Error()})
			return
		}
		e.emit(Event{Type: EventVideo, Path: outPath, Message: "video created"})
	}()
	return nil
}

// checkOverruns surfaces ring evictions that happened since the last check.
func (e *Engine) checkOverruns() {
	d := e.ring.Dropped()
	if d == e.lastDropped {
		return
	}
	n := d - e.lastDropped
	e.lastDropped = d

	e.mu.Lock()
	recording := e.session != nil
	e.mu.Unlock()
	if !recording {
		return // idle eviction is the ring doing its job
	}

	slog.Warn("capture ring overrun during recording", "evicted_blocks", n)
	e.emit(Event{Type: EventWarning,
		Message: fmt.Sprintf("audio overrun: %d blocks evicted while recording", n)})
}

// Status is the control-surface snapshot served over REST.
type Status struct {
	State         string                `json:"state"`
	AutoRecord    bool                  `json:"auto_record"`
	MonitorArmed  bool                  `json:"monitor_armed"`
	MonitorVolume float64               `json:"monitor_volume"`
	CaptureOpen   bool                  `json:"capture_open"`
	PendingSave   bool                  `json:"pending_save"`
	RingDropped   uint64                `json:"ring_dropped"`
	Recorder      config.RecorderConfig `json:"recorder"`
	Trim          config.TrimConfig     `json:"trim"`
}

// Status returns the current control-surface snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.transport.State().String()
	auto := e.transport.AutoEnabled()
	pending := e.pending != nil
	e.mu.Unlock()

	return Status{
		State:         state,
		AutoRecord:    auto,
		MonitorArmed:  e.capture.Armed(),
		MonitorVolume: e.monitor.Gain(),
		CaptureOpen:   e.capture.Running(),
		PendingSave:   pending,
		RingDropped:   e.ring.Dropped(),
		Recorder:      e.recCfg.Load(),
		Trim:          e.trimCfg.Load(),
	}
}

func (e *Engine) emitState() {
	st := e.Status()
	e.emit(Event{
		Type:       EventState,
		State:      st.State,
		AutoRecord: &st.AutoRecord,
		MonitorArm: &st.MonitorArmed,
	})
}
