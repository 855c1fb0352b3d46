package audio

import (
	"strconv"

	"github.com/gordonklaus/portaudio"

	"github.com/soundlab/tapedeck/internal/faults"
)

// PABackend is the PortAudio implementation of Backend. Device IDs are the
// host's device indices rendered as strings, matching what gets persisted
// in settings.
type PABackend struct{}

// NewPortAudio initializes the PortAudio host API.
func NewPortAudio() (*PABackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, faults.Wrap(err, faults.DeviceOpen, "portaudio init failed")
	}
	return &PABackend{}, nil
}

// Close terminates the host API. All streams must be closed first.
func (p *PABackend) Close() error {
	return portaudio.Terminate()
}

// InputDevices lists devices with at least one input channel.
func (p *PABackend) InputDevices() ([]Device, error) {
	return p.devices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// OutputDevices lists devices with at least one output channel.
func (p *PABackend) OutputDevices() ([]Device, error) {
	return p.devices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func (p *PABackend) devices(keep func(*portaudio.DeviceInfo) bool) ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, faults.Wrap(err, faults.DeviceOpen, "device enumeration failed")
	}

	var out []Device
	for i, info := range infos {
		if !keep(info) {
			continue
		}
		out = append(out, Device{
			ID:          strconv.Itoa(i),
			Name:        info.Name,
			MaxInputs:   info.MaxInputChannels,
			MaxOutputs:  info.MaxOutputChannels,
			DefaultRate: info.DefaultSampleRate,
		})
	}
	return out, nil
}

func (p *PABackend) deviceInfo(deviceID string) (*portaudio.DeviceInfo, error) {
	idx, err := strconv.Atoi(deviceID)
	if err != nil {
		return nil, faults.Newf(faults.DeviceOpen, "bad device id %q", deviceID)
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, faults.Wrap(err, faults.DeviceOpen, "device enumeration failed")
	}
	if idx < 0 || idx >= len(infos) {
		return nil, faults.Newf(faults.DeviceOpen, "device %q not present", deviceID)
	}
	return infos[idx], nil
}

// OpenInput opens and starts a capture stream on the given device.
func (p *PABackend) OpenInput(deviceID string, cfg StreamConfig) (InputStream, error) {
	info, err := p.deviceInfo(deviceID)
	if err != nil {
		return nil, err
	}
	if info.MaxInputChannels < cfg.Channels {
		return nil, faults.Newf(faults.DeviceOpen, "device %q has %d input channels, need %d",
			info.Name, info.MaxInputChannels, cfg.Channels)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BlockSize,
	}

	buf := make([]float32, cfg.samplesPerBlock())
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, faults.Wrapf(err, faults.DeviceOpen, "open input %q", info.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, faults.Wrapf(err, faults.DeviceOpen, "start input %q", info.Name)
	}
	return &paInputStream{stream: stream, buf: buf}, nil
}

// OpenOutput opens and starts a playback stream on the given device.
func (p *PABackend) OpenOutput(deviceID string, cfg StreamConfig) (OutputStream, error) {
	info, err := p.deviceInfo(deviceID)
	if err != nil {
		return nil, err
	}
	if info.MaxOutputChannels < cfg.Channels {
		return nil, faults.Newf(faults.DeviceOpen, "device %q has %d output channels, need %d",
			info.Name, info.MaxOutputChannels, cfg.Channels)
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultLowOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BlockSize,
	}

	buf := make([]float32, cfg.samplesPerBlock())
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, faults.Wrapf(err, faults.DeviceOpen, "open output %q", info.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, faults.Wrapf(err, faults.DeviceOpen, "start output %q", info.Name)
	}
	return &paOutputStream{stream: stream, buf: buf}, nil
}

type paInputStream struct {
	stream *portaudio.Stream
	buf    []float32
}

func (s *paInputStream) ReadBlock() ([]float32, error) {
	if err := s.stream.Read(); err != nil {
		return nil, faults.Wrap(err, faults.DeviceLost, "input stream read")
	}
	return s.buf, nil
}

func (s *paInputStream) Close() error {
	// Abort rather than Stop: unblocks a pending Read immediately and does
	// not wait for buffered audio to play out.
	_ = s.stream.Abort()
	return s.stream.Close()
}

type paOutputStream struct {
	stream *portaudio.Stream
	buf    []float32
}

func (s *paOutputStream) WriteBlock(samples []float32) error {
	n := copy(s.buf, samples)
	// Short submissions are padded with silence.
	for i := n; i < len(s.buf); i++ {
		s.buf[i] = 0
	}
	if err := s.stream.Write(); err != nil {
		return faults.Wrap(err, faults.DeviceLost, "output stream write")
	}
	return nil
}

func (s *paOutputStream) Close() error {
	_ = s.stream.Abort()
	return s.stream.Close()
}
