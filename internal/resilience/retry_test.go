package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soundlab/tapedeck/internal/faults"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0.01,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return faults.New(faults.DeviceOpen, "device busy")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	lost := faults.New(faults.DeviceLost, "unplugged")
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return lost
	})

	if !errors.Is(err, lost) {
		t.Errorf("Retry = %v, want the device-lost fault", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (DeviceLost is not retryable)", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return faults.New(faults.DeviceOpen, "still busy")
	})

	if err == nil {
		t.Fatal("Retry = nil, want error after exhaustion")
	}
	if attempts != 4 { // initial + 3 retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastConfig(), func() error {
		t.Fatal("fn should not run with cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry = %v, want context.Canceled", err)
	}
}

func TestIsTransientDeviceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"device open", faults.New(faults.DeviceOpen, "busy"), true},
		{"device lost", faults.New(faults.DeviceLost, "gone"), false},
		{"config", faults.New(faults.Config, "bad"), false},
		{"plain error", errors.New("whatever"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientDeviceError(tt.err); got != tt.want {
				t.Errorf("IsTransientDeviceError = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := fastConfig().withDefaults()
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt)
		// MaxDelay plus worst-case jitter.
		limit := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.JitterFactor))
		if d > limit {
			t.Errorf("attempt %d delay %v exceeds cap %v", attempt, d, limit)
		}
	}
}
