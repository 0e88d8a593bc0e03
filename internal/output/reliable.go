package output

import (
	"context"
	"errors"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/reliability"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// ReliableOutput retries failed sends with backoff and stops calling an
// output that keeps failing until its circuit breaker lets a trial through
type ReliableOutput struct {
	Output
	retry   reliability.RetryConfig
	breaker *reliability.CircuitBreaker
	logger  *logging.Logger
}

// NewReliableOutput wraps out. The breaker is only used when enabled.
func NewReliableOutput(out Output, retry reliability.RetryConfig, breaker reliability.BreakerConfig, logger *logging.Logger) *ReliableOutput {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &ReliableOutput{
		Output: out,
		retry:  retry,
		logger: logger.WithComponent("output-" + out.Name()),
	}

	if breaker.Enabled {
		onChange := breaker.OnStateChange
		breaker.OnStateChange = func(from, to reliability.State) {
			r.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Output circuit breaker changed state")
			if onChange != nil {
				onChange(from, to)
			}
		}
		r.breaker = reliability.NewCircuitBreaker(breaker)
	}
	return r
}

// Send delivers event, retrying transient failures
func (r *ReliableOutput) Send(ctx context.Context, event *types.ResolvedEvent) error {
	attempt := 0
	return reliability.Retry(ctx, r.retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			r.logger.Debug().Int("attempt", attempt).Msg("Retrying send")
		}

		send := func() error {
			err := r.Output.Send(ctx, event)
			if errors.Is(err, ErrOutputClosed) {
				return reliability.Permanent(err)
			}
			return err
		}

		if r.breaker == nil {
			return send()
		}
		return r.breaker.Execute(send)
	})
}

// BreakerState reports the circuit state, closed when no breaker is used
func (r *ReliableOutput) BreakerState() reliability.State {
	if r.breaker == nil {
		return reliability.StateClosed
	}
	return r.breaker.State()
}
