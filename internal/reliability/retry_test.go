package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		Multiplier:     2.0,
	}

	if err := Retry(context.Background(), config, fn); err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	cause := errors.New("persistent error")
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return cause
	}

	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
	}

	err := Retry(context.Background(), config, fn)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected the last error to be wrapped, got %v", err)
	}

	if attempts != 4 { // Initial attempt + 3 retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetry_NotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permanent", Permanent(errors.New("bad request"))},
		{"circuit open", ErrCircuitOpen},
		{"canceled", context.Canceled},
		{"deadline", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}, func(ctx context.Context) error {
				attempts++
				return tt.err
			})

			if attempts != 1 {
				t.Errorf("attempts = %d, want 1", attempts)
			}
			if errors.Is(err, ErrMaxRetriesExceeded) {
				t.Errorf("did not expect ErrMaxRetriesExceeded, got %v", err)
			}
		})
	}
}

func TestRetry_Disabled(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxRetries: -1}, func(ctx context.Context) error {
		attempts++
		return errors.New("error")
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	fn := func(ctx context.Context) error {
		return errors.New("error")
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Retry(ctx, config, fn); !errors.Is(err, ErrRetryAborted) {
		t.Errorf("expected ErrRetryAborted, got %v", err)
	}
}

func TestRetry_BackoffGrows(t *testing.T) {
	var attempts []time.Time
	fn := func(ctx context.Context) error {
		attempts = append(attempts, time.Now())
		if len(attempts) < 3 {
			return errors.New("error")
		}
		return nil
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 50 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     500 * time.Millisecond,
	}

	if err := Retry(context.Background(), config, fn); err != nil {
		t.Errorf("Retry() error = %v", err)
	}

	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}

	interval1 := attempts[1].Sub(attempts[0])
	interval2 := attempts[2].Sub(attempts[1])
	if interval2 < interval1 {
		t.Errorf("backoff did not increase: interval1=%v, interval2=%v", interval1, interval2)
	}
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt    int
		initial    time.Duration
		multiplier float64
		max        time.Duration
		want       time.Duration
	}{
		{0, 100 * time.Millisecond, 2.0, 10 * time.Second, 100 * time.Millisecond},
		{1, 100 * time.Millisecond, 2.0, 10 * time.Second, 200 * time.Millisecond},
		{2, 100 * time.Millisecond, 2.0, 10 * time.Second, 400 * time.Millisecond},
		{10, 100 * time.Millisecond, 2.0, 5 * time.Second, 5 * time.Second},
		{200, 100 * time.Millisecond, 2.0, 5 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := ExponentialBackoff(tt.attempt, tt.initial, tt.multiplier, tt.max); got != tt.want {
			t.Errorf("ExponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestAddJitter(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := addJitter(d)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("addJitter(%v) = %v, want within ±10%%", d, got)
		}
	}
}

func BenchmarkRetry(b *testing.B) {
	fn := func(ctx context.Context) error {
		return nil
	}

	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Retry(context.Background(), config, fn)
	}
}
