package session

import (
	"sync/atomic"
	"time"

	"donation-service/internal/charge"
	"donation-service/internal/reconcile"
	"github.com/google/uuid"
)

type State int

const (
	Pending State = iota
	Processing
	Paid
	Expired
	Cancelled
	// CancelledByUser is distinct from a provider-side cancellation.
	CancelledByUser
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Paid:
		return "paid"
	case Expired:
		return "expired"
	case Cancelled:
		return "cancelled"
	case CancelledByUser:
		return "cancelled_by_user"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Paid || s == Expired || s == Cancelled || s == CancelledByUser
}

// Session ties one user-facing donation attempt to its charge and the
// reconciliation loop monitoring it.
type Session struct {
	ID        uuid.UUID
	Charge    *charge.Charge
	StartedAt time.Time

	rec       *charge.Reconciler
	poller    *reconcile.Poller
	state     atomic.Int32
	cancelled atomic.Bool
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) ChargeID() string {
	return s.Charge.ID
}

func (s *Session) PaidAt() *time.Time {
	return s.rec.PaidAt()
}

func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

func stateFromLifecycle(l charge.LifecycleState) State {
	switch l {
	case charge.Processing:
		return Processing
	case charge.Paid:
		return Paid
	case charge.Expired:
		return Expired
	case charge.Cancelled:
		return Cancelled
	default:
		return Pending
	}
}
