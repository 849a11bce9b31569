package charge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCharge_State(t *testing.T) {
	now := time.Date(2026, 1, 14, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * time.Minute)
	past := now.Add(-time.Minute)
	paid := now.Add(-5 * time.Minute)

	tests := []struct {
		name     string
		charge   Charge
		expected LifecycleState
	}{
		{
			name:     "pending without updates",
			charge:   Charge{ProviderStatus: StatusPending, ExpiresAt: future},
			expected: Pending,
		},
		{
			name:     "processing status is intermediate",
			charge:   Charge{ProviderStatus: StatusProcessing, ExpiresAt: future},
			expected: Processing,
		},
		{
			name:     "paid status without paid_at is still processing",
			charge:   Charge{ProviderStatus: StatusPaid, ExpiresAt: future},
			expected: Processing,
		},
		{
			name:     "paid_at is authoritative",
			charge:   Charge{ProviderStatus: StatusProcessing, ExpiresAt: future, PaidAt: &paid},
			expected: Paid,
		},
		{
			name:     "paid_at wins over cancelled status",
			charge:   Charge{ProviderStatus: StatusCancelled, ExpiresAt: future, PaidAt: &paid},
			expected: Paid,
		},
		{
			name:     "provider expired",
			charge:   Charge{ProviderStatus: StatusExpired, ExpiresAt: future},
			expected: Expired,
		},
		{
			name:     "provider cancelled",
			charge:   Charge{ProviderStatus: StatusCancelled, ExpiresAt: future},
			expected: Cancelled,
		},
		{
			name:     "past local deadline without paid_at",
			charge:   Charge{ProviderStatus: StatusPending, ExpiresAt: past},
			expected: Expired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.charge.State(now))
		})
	}
}

func TestCharge_IsPaid(t *testing.T) {
	paid := time.Now()

	assert.False(t, (&Charge{ProviderStatus: StatusPaid}).IsPaid())
	assert.True(t, (&Charge{PaidAt: &paid}).IsPaid())
}
