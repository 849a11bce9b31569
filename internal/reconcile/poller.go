package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"donation-service/internal/charge"
	"donation-service/internal/logcontext"
	"donation-service/internal/pagou"
	"github.com/VictoriaMetrics/metrics"
)

const (
	defaultPollIntervalMs = 5_000
	defaultHardTimeoutMs  = 1_800_000
)

var (
	pollSuccessCounter   = metrics.GetOrCreateCounter(`reconcile_poll_total{result="success"}`)
	pollTransientCounter = metrics.GetOrCreateCounter(`reconcile_poll_total{result="transient_error"}`)
	pollNotFoundCounter  = metrics.GetOrCreateCounter(`reconcile_poll_total{result="not_found"}`)
	pollErrorCounter     = metrics.GetOrCreateCounter(`reconcile_poll_total{result="error"}`)
	pollExpiredCounter   = metrics.GetOrCreateCounter(`reconcile_poll_total{result="expired"}`)
	pollTimeoutCounter   = metrics.GetOrCreateCounter(`reconcile_poll_total{result="hard_timeout"}`)

	pollDurationHistogram = metrics.GetOrCreateHistogram(`reconcile_poll_duration_milliseconds`)
)

// Gateway is the slice of the payment client the poller needs.
type Gateway interface {
	FetchCharge(ctx context.Context, id string) (*charge.Charge, error)
}

type ChangeFunc func(ctx context.Context, u charge.Update, out charge.Outcome)

type ErrorFunc func(ctx context.Context, err error)

type Options struct {
	PollInterval time.Duration
	HardTimeout  time.Duration
	// OnChange fires for every lifecycle transition observed by this loop.
	OnChange ChangeFunc
	// OnError fires for non-transient poll errors; transient errors are
	// retried silently on the next tick.
	OnError ErrorFunc
	Now     func() time.Time
}

// Poller drives the polling half of the reconciliation for one charge.
// It never blocks the caller: ticks run on an owned goroutine and stop
// deterministically on cancel, terminal state, or hard timeout.
type Poller struct {
	gateway  Gateway
	rec      *charge.Reconciler
	interval time.Duration
	timeout  time.Duration
	onChange ChangeFunc
	onError  ErrorFunc
	now      func() time.Time
	logger   *slog.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func NewPoller(gateway Gateway, rec *charge.Reconciler, opts Options, logger *slog.Logger) *Poller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollIntervalMs * time.Millisecond
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = defaultHardTimeoutMs * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		gateway:  gateway,
		rec:      rec,
		interval: opts.PollInterval,
		timeout:  opts.HardTimeout,
		onChange: opts.OnChange,
		onError:  opts.OnError,
		now:      opts.Now,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (p *Poller) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	runCtx = logcontext.AppendCtx(runCtx, slog.String("chargeId", p.rec.ChargeID()))

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		timeout := time.NewTimer(p.timeout)
		defer timeout.Stop()

		defer close(p.done)

		for {
			select {
			case <-ticker.C:
				if p.tick(runCtx) {
					return
				}
			case <-timeout.C:
				p.logger.WarnContext(runCtx, "Hard timeout reached, forcing expiry")
				pollTimeoutCounter.Inc()
				p.expire(runCtx)
				return
			case <-runCtx.Done():
				p.logger.InfoContext(runCtx, "Context done, stopping poller")
				return
			}
		}
	}()
}

// Stop cancels the loop. Safe to call multiple times; after the first
// call no further tick produces observable side effects.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
}

// Done closes once the loop goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// tick runs one poll cycle and reports whether the loop should stop.
func (p *Poller) tick(ctx context.Context) bool {
	startTime := p.now()

	if expiresAt := p.rec.ExpiresAt(); !expiresAt.IsZero() && p.now().After(expiresAt) {
		p.logger.InfoContext(ctx, "Charge past its expiry deadline")
		pollExpiredCounter.Inc()
		p.expire(ctx)
		return true
	}

	fetched, err := p.gateway.FetchCharge(ctx, p.rec.ChargeID())
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if pagou.IsTransient(err) {
			// retried on the next scheduled tick, lifecycle untouched
			p.logger.WarnContext(ctx, "Transient poll error", "error", err)
			pollTransientCounter.Inc()
			return false
		}
		if pagou.IsNotFound(err) {
			pollNotFoundCounter.Inc()
		} else {
			pollErrorCounter.Inc()
		}
		p.logger.ErrorContext(ctx, "Poll error", "error", err)
		if p.onError != nil {
			p.onError(ctx, err)
		}
		// ambiguous provider state is reported, not guessed
		return false
	}

	u := charge.Update{
		ChargeID:       p.rec.ChargeID(),
		ProviderStatus: fetched.ProviderStatus,
		PaidAt:         fetched.PaidAt,
		ReceivedAt:     p.now(),
		Source:         charge.SourcePoll,
	}

	// cancellation wins over anything fetched after it
	if ctx.Err() != nil {
		return true
	}

	out := p.rec.Apply(u)
	pollSuccessCounter.Inc()
	pollDurationHistogram.Update(float64(p.now().Sub(startTime).Milliseconds()))

	if out.Changed && p.onChange != nil {
		p.onChange(ctx, u, out)
	}

	if out.State.Terminal() {
		p.logger.InfoContext(ctx, "Charge reached terminal state", "state", out.State.String())
		return true
	}
	return false
}

func (p *Poller) expire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	out := p.rec.Expire()
	if out.Changed && p.onChange != nil {
		u := charge.Update{
			ChargeID:       p.rec.ChargeID(),
			ProviderStatus: charge.StatusExpired,
			ReceivedAt:     p.now(),
			Source:         charge.SourceLocal,
		}
		p.onChange(ctx, u, out)
	}
}
