package charge

import (
	"sync/atomic"
	"time"
)

// Outcome describes the effect of one applied update.
type Outcome struct {
	Previous LifecycleState
	State    LifecycleState
	Changed  bool
	// Latched is true when this update was the one that set paidAt.
	Latched bool
}

// Reconciler owns the authoritative lifecycle of a single charge. Poll
// results and webhook notifications are merged through Apply; the first
// update carrying a non-null paidAt wins and is sticky. Safe for
// concurrent use without locks: paidAt is a one-way atomic latch.
type Reconciler struct {
	chargeID  string
	expiresAt time.Time
	simulated bool

	paidAt         atomic.Pointer[time.Time]
	state          atomic.Int32
	providerStatus atomic.Int32
}

func NewReconciler(c *Charge) *Reconciler {
	r := &Reconciler{
		chargeID:  c.ID,
		expiresAt: c.ExpiresAt,
		simulated: c.Simulated,
	}
	r.state.Store(int32(Pending))
	r.providerStatus.Store(int32(c.ProviderStatus))
	if c.PaidAt != nil && !c.Simulated {
		t := *c.PaidAt
		r.paidAt.Store(&t)
		r.state.Store(int32(Paid))
	}
	return r
}

func (r *Reconciler) ChargeID() string {
	return r.chargeID
}

// State reports Paid if and only if paidAt is set.
func (r *Reconciler) State() LifecycleState {
	if r.paidAt.Load() != nil {
		return Paid
	}
	return LifecycleState(r.state.Load())
}

func (r *Reconciler) PaidAt() *time.Time {
	return r.paidAt.Load()
}

func (r *Reconciler) ProviderStatus() ProviderStatus {
	return ProviderStatus(r.providerStatus.Load())
}

// Apply merges one normalized update into the state machine. Duplicate or
// stale updates are no-ops; updates against a terminal state are absorbed
// without effect.
func (r *Reconciler) Apply(u Update) Outcome {
	prev := r.State()
	if prev.Terminal() {
		return Outcome{Previous: prev, State: prev}
	}

	if u.PaidAt != nil && !r.simulated {
		paidAt := *u.PaidAt
		if r.paidAt.CompareAndSwap(nil, &paidAt) {
			r.providerStatus.Store(int32(u.ProviderStatus))
			r.state.Store(int32(Paid))
			return Outcome{Previous: prev, State: Paid, Changed: true, Latched: true}
		}
		// another writer latched first and reports the transition
		return Outcome{Previous: prev, State: Paid}
	}

	r.providerStatus.Store(int32(u.ProviderStatus))

	switch u.ProviderStatus {
	case StatusExpired:
		return r.close(prev, Expired)
	case StatusCancelled:
		return r.close(prev, Cancelled)
	case StatusProcessing, StatusPaid:
		// a paid status code without paid_at is still settling
		return r.advance(prev, Processing)
	default:
		return Outcome{Previous: prev, State: r.State()}
	}
}

// Expire forces the non-paid terminal transition used by local expiry and
// the hard timeout. A concurrently latched payment always wins.
func (r *Reconciler) Expire() Outcome {
	return r.close(r.State(), Expired)
}

// ExpiresAt reports the provider-side deadline for this charge.
func (r *Reconciler) ExpiresAt() time.Time {
	return r.expiresAt
}

func (r *Reconciler) advance(prev, next LifecycleState) Outcome {
	for {
		cur := LifecycleState(r.state.Load())
		if cur.Terminal() || cur == next {
			return Outcome{Previous: prev, State: r.State()}
		}
		if r.state.CompareAndSwap(int32(cur), int32(next)) {
			return Outcome{Previous: prev, State: r.State(), Changed: true}
		}
	}
}

func (r *Reconciler) close(prev, terminal LifecycleState) Outcome {
	if r.paidAt.Load() != nil {
		return Outcome{Previous: prev, State: Paid}
	}
	for {
		cur := LifecycleState(r.state.Load())
		if cur.Terminal() {
			return Outcome{Previous: prev, State: r.State()}
		}
		if r.state.CompareAndSwap(int32(cur), int32(terminal)) {
			if r.paidAt.Load() != nil {
				// payment latched while we were closing, paid wins
				r.state.Store(int32(Paid))
				return Outcome{Previous: prev, State: Paid}
			}
			return Outcome{Previous: prev, State: terminal, Changed: true}
		}
	}
}
