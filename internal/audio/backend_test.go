package audio

import (
	"errors"
	"sync"
)

// fakeInput is a scripted input stream: tests feed blocks through a channel.
type fakeInput struct {
	blocks chan []float32
	closed chan struct{}
	once   sync.Once
}

func newFakeInput() *fakeInput {
	return &fakeInput{
		blocks: make(chan []float32, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeInput) ReadBlock() ([]float32, error) {
	select {
	case <-f.closed:
		return nil, errors.New("stream closed")
	case b, ok := <-f.blocks:
		if !ok {
			return nil, errors.New("device unplugged")
		}
		return b, nil
	}
}

func (f *fakeInput) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeInput) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeOutput records written blocks. When paced, each write waits for a
// token so tests control how many blocks the "device" consumes.
type fakeOutput struct {
	mu     sync.Mutex
	writes [][]float32
	pace   chan struct{} // nil = unpaced
	closed chan struct{}
	once   sync.Once
}

func newFakeOutput(paced bool) *fakeOutput {
	f := &fakeOutput{closed: make(chan struct{})}
	if paced {
		f.pace = make(chan struct{})
	}
	return f
}

func (f *fakeOutput) WriteBlock(samples []float32) error {
	if f.pace != nil {
		select {
		case <-f.pace:
		case <-f.closed:
			return errors.New("stream closed")
		}
	} else {
		select {
		case <-f.closed:
			return errors.New("stream closed")
		default:
		}
	}
	f.mu.Lock()
	f.writes = append(f.writes, append([]float32(nil), samples...))
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeOutput) written() [][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]float32, len(f.writes))
	copy(out, f.writes)
	return out
}

// allow lets the paced output accept n more writes.
func (f *fakeOutput) allow(n int) {
	for i := 0; i < n; i++ {
		select {
		case f.pace <- struct{}{}:
		case <-f.closed:
			return
		}
	}
}

// fakeBackend hands out pre-built fake streams.
type fakeBackend struct {
	input     *fakeInput
	output    *fakeOutput
	inputErr  error
	outputErr error
}

func (b *fakeBackend) InputDevices() ([]Device, error) {
	return []Device{{ID: "0", Name: "Fake Input", MaxInputs: 2, DefaultRate: 44100}}, nil
}

func (b *fakeBackend) OutputDevices() ([]Device, error) {
	return []Device{{ID: "1", Name: "Fake Output", MaxOutputs: 2, DefaultRate: 44100}}, nil
}

func (b *fakeBackend) OpenInput(string, StreamConfig) (InputStream, error) {
	if b.inputErr != nil {
		return nil, b.inputErr
	}
	return b.input, nil
}

func (b *fakeBackend) OpenOutput(string, StreamConfig) (OutputStream, error) {
	if b.outputErr != nil {
		return nil, b.outputErr
	}
	return b.output, nil
}

func (b *fakeBackend) Close() error { return nil }
