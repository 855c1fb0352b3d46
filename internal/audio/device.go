package audio

// Device identifies an audio endpoint exposed by a Backend.
type Device struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	MaxInputs   int     `json:"max_inputs"`
	MaxOutputs  int     `json:"max_outputs"`
	DefaultRate float64 `json:"default_sample_rate"`
}

// StreamConfig is the format a stream is opened with.
type StreamConfig struct {
	SampleRate int
	Channels   int
	BlockSize  int // frames per block
}

// samplesPerBlock is the interleaved sample count of one block.
func (c StreamConfig) samplesPerBlock() int {
	return c.BlockSize * c.Channels
}

// InputStream delivers fixed-size blocks of interleaved samples.
// ReadBlock blocks until a full block has been captured; the returned slice
// is owned by the stream and valid only until the next call, so callers must
// copy before retaining. Close unblocks a pending ReadBlock and releases the
// device handle before returning.
type InputStream interface {
	ReadBlock() ([]float32, error)
	Close() error
}

// OutputStream accepts fixed-size blocks of interleaved samples. WriteBlock
// blocks until the device has consumed the data, which paces the writer.
type OutputStream interface {
	WriteBlock([]float32) error
	Close() error
}

// Backend abstracts the host audio API so the pipeline never depends on a
// concrete device type.
type Backend interface {
	InputDevices() ([]Device, error)
	OutputDevices() ([]Device, error)
	OpenInput(deviceID string, cfg StreamConfig) (InputStream, error)
	OpenOutput(deviceID string, cfg StreamConfig) (OutputStream, error)
	Close() error
}
