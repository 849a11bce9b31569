package charge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testCharge() *Charge {
	return &Charge{
		ID:        "pix-123",
		Amount:    100.00,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
}

func paidTime() *time.Time {
	t := time.Date(2026, 1, 14, 20, 0, 0, 0, time.UTC)
	return &t
}

func TestReconciler_ProcessingStatusNeverPays(t *testing.T) {
	rec := NewReconciler(testCharge())

	out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusProcessing, Source: SourcePoll})

	assert.Equal(t, Processing, out.State)
	assert.True(t, out.Changed)
	assert.Nil(t, rec.PaidAt())

	// even an explicit paid status code is not proof without paid_at
	out = rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusPaid, Source: SourcePoll})
	assert.Equal(t, Processing, out.State)
	assert.Nil(t, rec.PaidAt())
}

func TestReconciler_PaidOnlyViaPaidAt(t *testing.T) {
	rec := NewReconciler(testCharge())

	out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusProcessing, PaidAt: paidTime(), Source: SourceWebhook})

	assert.Equal(t, Paid, out.State)
	assert.True(t, out.Changed)
	assert.True(t, out.Latched)
	assert.NotNil(t, rec.PaidAt())
}

func TestReconciler_MergeOrderIndependence(t *testing.T) {
	u1 := Update{ChargeID: "pix-123", ProviderStatus: StatusPending, Source: SourcePoll}
	u2 := Update{ChargeID: "pix-123", ProviderStatus: StatusPaid, PaidAt: paidTime(), Source: SourceWebhook}

	first := NewReconciler(testCharge())
	first.Apply(u1)
	first.Apply(u2)

	second := NewReconciler(testCharge())
	second.Apply(u2)
	second.Apply(u1)

	assert.Equal(t, Paid, first.State())
	assert.Equal(t, Paid, second.State())
	assert.Equal(t, *paidTime(), *first.PaidAt())
	assert.Equal(t, *paidTime(), *second.PaidAt())
}

func TestReconciler_TerminalStickiness(t *testing.T) {
	rec := NewReconciler(testCharge())
	rec.Apply(Update{ChargeID: "pix-123", PaidAt: paidTime(), Source: SourceWebhook})

	// provider later reports cancelled: must not un-pay
	out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusCancelled, Source: SourcePoll})
	assert.Equal(t, Paid, out.State)
	assert.False(t, out.Changed)

	out = rec.Expire()
	assert.Equal(t, Paid, out.State)
	assert.False(t, out.Changed)

	assert.Equal(t, *paidTime(), *rec.PaidAt())
}

func TestReconciler_PollSequenceScenario(t *testing.T) {
	rec := NewReconciler(testCharge())

	// tick 1: processing without paid_at
	out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusProcessing, Source: SourcePoll})
	assert.Equal(t, Processing, out.State)

	// tick 2: paid_at arrives
	out = rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusProcessing, PaidAt: paidTime(), Source: SourcePoll})
	assert.Equal(t, Paid, out.State)
	assert.True(t, out.Latched)

	// tick 3: provider reports cancelled, paid_at unchanged
	out = rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusCancelled, PaidAt: paidTime(), Source: SourcePoll})
	assert.Equal(t, Paid, out.State)
	assert.False(t, out.Changed)
	assert.Equal(t, *paidTime(), *rec.PaidAt())
}

func TestReconciler_ProviderExpiry(t *testing.T) {
	rec := NewReconciler(testCharge())

	out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusExpired, Source: SourcePoll})
	assert.Equal(t, Expired, out.State)
	assert.True(t, out.Changed)

	// a later paid_at cannot reopen a closed charge
	out = rec.Apply(Update{ChargeID: "pix-123", PaidAt: paidTime(), Source: SourceWebhook})
	assert.Equal(t, Expired, out.State)
	assert.False(t, out.Changed)
	assert.Nil(t, rec.PaidAt())
}

func TestReconciler_ProviderCancellation(t *testing.T) {
	rec := NewReconciler(testCharge())

	out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusCancelled, Source: SourceWebhook})
	assert.Equal(t, Cancelled, out.State)
	assert.True(t, out.Changed)
}

func TestReconciler_DuplicateUpdateIsNoOp(t *testing.T) {
	rec := NewReconciler(testCharge())

	u := Update{ChargeID: "pix-123", ProviderStatus: StatusProcessing, Source: SourcePoll}
	out := rec.Apply(u)
	assert.True(t, out.Changed)

	out = rec.Apply(u)
	assert.False(t, out.Changed)
	assert.Equal(t, Processing, out.State)
}

func TestReconciler_PendingStatusKeepsPending(t *testing.T) {
	rec := NewReconciler(testCharge())

	out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusPending, Source: SourcePoll})
	assert.Equal(t, Pending, out.State)
	assert.False(t, out.Changed)
}

func TestReconciler_ExpireThenConcurrentPaidWins(t *testing.T) {
	rec := NewReconciler(testCharge())

	// the paid latch set between state reads must win over Expire
	rec.Apply(Update{ChargeID: "pix-123", PaidAt: paidTime(), Source: SourceWebhook})
	out := rec.Expire()

	assert.Equal(t, Paid, out.State)
	assert.False(t, out.Changed)
}

func TestReconciler_SimulatedChargeNeverPays(t *testing.T) {
	ch := testCharge()
	ch.Simulated = true
	rec := NewReconciler(ch)

	out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusPaid, PaidAt: paidTime(), Source: SourceWebhook})

	assert.NotEqual(t, Paid, out.State)
	assert.False(t, out.Latched)
	assert.Nil(t, rec.PaidAt())
}

func TestReconciler_ConcurrentWritersSingleLatch(t *testing.T) {
	rec := NewReconciler(testCharge())

	var wg sync.WaitGroup
	latched := make(chan Outcome, 100)

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			out := rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusProcessing, PaidAt: paidTime(), Source: SourceWebhook})
			if out.Latched {
				latched <- out
			}
		}()
		go func() {
			defer wg.Done()
			rec.Apply(Update{ChargeID: "pix-123", ProviderStatus: StatusProcessing, Source: SourcePoll})
		}()
	}

	wg.Wait()
	close(latched)

	count := 0
	for range latched {
		count++
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, Paid, rec.State())
	assert.Equal(t, *paidTime(), *rec.PaidAt())
}
