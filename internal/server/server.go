// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/soundlab/tapedeck/internal/audio"
	"github.com/soundlab/tapedeck/internal/config"
	"github.com/soundlab/tapedeck/internal/faults"
	"github.com/soundlab/tapedeck/internal/recorder"
)

// Controller is the engine surface the server drives.
type Controller interface {
	StartManual() error
	StopManual() error
	SetAutoRecord(enabled bool) error
	SetArm(on bool) error
	SetMonitorVolume(v float64) error
	RetrySave() error

	RecorderConfig() config.RecorderConfig
	TrimConfig() config.TrimConfig
	UpdateRecorderConfig(config.RecorderConfig) error
	UpdateTrimConfig(config.TrimConfig) error

	InputDevices() ([]audio.Device, error)
	OutputDevices() ([]audio.Device, error)
	SelectInput(deviceID string) error
	SelectOutput(deviceID string) error

	CreateVideo(mediaPath, audioPath, outPath string) error

	Status() recorder.Status
	Events() <-chan recorder.Event
}

// Inbound message types.
type Message struct {
	Type string `json:"type"`
}

type VolumeMessage struct {
	Type   string  `json:"type"`
	Volume float64 `json:"volume"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	engine     Controller
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server and starts the event broadcaster.
func New(engine Controller) *Server {
	s := &Server{
		engine:     engine,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /api/recording/auto", s.handleAutoRecord)
	mux.HandleFunc("POST /api/recording/retry-save", s.handleRetrySave)
	mux.HandleFunc("POST /api/monitor/arm", s.handleArm)
	mux.HandleFunc("POST /api/monitor/volume", s.handleVolume)
	mux.HandleFunc("GET /api/config", s.handleConfigGet)
	mux.HandleFunc("PUT /api/config/recorder", s.handleRecorderConfigPut)
	mux.HandleFunc("PUT /api/config/trim", s.handleTrimConfigPut)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/devices/input", s.handleSelectInput)
	mux.HandleFunc("POST /api/devices/output", s.handleSelectOutput)
	mux.HandleFunc("POST /api/video", s.handleVideo)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// httpStatus maps fault codes onto HTTP statuses.
func httpStatus(err error) int {
	switch faults.CodeOf(err) {
	case faults.Config:
		return http.StatusBadRequest
	case faults.DeviceOpen, faults.DeviceLost:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  faults.CodeOf(err).String(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return faults.Wrap(err, faults.Config, "invalid request body")
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// New clients get the current state up front.
	st := s.engine.Status()
	_ = wsjson.Write(ctx, conn, recorder.Event{
		Type:       recorder.EventState,
		Time:       time.Now(),
		State:      st.State,
		AutoRecord: &st.AutoRecord,
		MonitorArm: &st.MonitorArmed,
	})

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			slog.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			slog.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, RateLimitedMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "monitor_volume":
			// Volume rides the websocket so slider drags stay smooth.
			var vol VolumeMessage
			if err := json.Unmarshal(msg, &vol); err != nil {
				continue
			}
			if err := s.engine.SetMonitorVolume(vol.Volume); err != nil {
				_ = wsjson.Write(ctx, conn, RateLimitedMessage{Type: "error", Message: err.Error()})
			}
		}
	}
}

// broadcastEvents fans engine events out to every connected client.
func (s *Server) broadcastEvents() {
	for evt := range s.engine.Events() {
		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn) {
				ctx, cancel := context.WithTimeout(context.Background(), BroadcastTimeout)
				defer cancel()
				_ = wsjson.Write(ctx, c, evt)
			}(conn)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Status())
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartManual(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "recording_started"})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StopManual(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "recording_stopped"})
}

func (s *Server) handleAutoRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SetAutoRecord(req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"auto_record": req.Enabled})
}

func (s *Server) handleRetrySave(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RetrySave(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "retrying"})
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Armed bool `json:"armed"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SetArm(req.Armed); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"monitor_armed": req.Armed})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SetMonitorVolume(req.Volume); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]float64{"monitor_volume": req.Volume})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"recorder": s.engine.RecorderConfig(),
		"trim":     s.engine.TrimConfig(),
	})
}

func (s *Server) handleRecorderConfigPut(w http.ResponseWriter, r *http.Request) {
	var rc config.RecorderConfig
	if err := decode(r, &rc); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.UpdateRecorderConfig(rc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rc)
}

func (s *Server) handleTrimConfigPut(w http.ResponseWriter, r *http.Request) {
	var tc config.TrimConfig
	if err := decode(r, &tc); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.UpdateTrimConfig(tc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, tc)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	inputs, err := s.engine.InputDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	outputs, err := s.engine.OutputDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string][]audio.Device{
		"inputs":  inputs,
		"outputs": outputs,
	})
}

func (s *Server) handleSelectInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SelectInput(req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"input_device": req.ID})
}

func (s *Server) handleSelectOutput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SelectOutput(req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"output_device": req.ID})
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MediaPath  string `json:"media_path"`
		AudioPath  string `json:"audio_path"`
		OutputPath string `json:"output_path"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.CreateVideo(req.MediaPath, req.AudioPath, req.OutputPath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "video_started"})
}
