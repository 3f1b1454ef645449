package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusPending, StatusRefunded, false},

		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusPending, false},
		{StatusProcessing, StatusRefunded, false},

		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusCancelled, false},

		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusRefunded, false},

		{StatusCancelled, StatusProcessing, false},
		{StatusCancelled, StatusCompleted, false},

		{StatusRefunded, StatusCompleted, false},
		{StatusRefunded, StatusRefunded, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTransaction_IsTerminal(t *testing.T) {
	terminal := []TransactionStatus{StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded}
	for _, s := range terminal {
		tx := Transaction{Status: s}
		assert.True(t, tx.IsTerminal(), string(s))
	}
	for _, s := range []TransactionStatus{StatusPending, StatusProcessing} {
		tx := Transaction{Status: s}
		assert.False(t, tx.IsTerminal(), string(s))
	}
}

func TestTransaction_IsExpired(t *testing.T) {
	now := time.Now().UTC()

	pendingLive := Transaction{Status: StatusPending, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, pendingLive.IsExpired(now))

	pendingStale := Transaction{Status: StatusPending, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, pendingStale.IsExpired(now))

	// Expiry only applies while waiting for initiation.
	processingStale := Transaction{Status: StatusProcessing, ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, processingStale.IsExpired(now))
}

func TestTransaction_IsRefundable(t *testing.T) {
	assert.True(t, (&Transaction{Status: StatusCompleted}).IsRefundable())
	assert.False(t, (&Transaction{Status: StatusPending}).IsRefundable())
	assert.False(t, (&Transaction{Status: StatusFailed}).IsRefundable())
	assert.False(t, (&Transaction{Status: StatusRefunded}).IsRefundable())
}

func TestEventForStatus(t *testing.T) {
	ev, ok := EventForStatus(StatusCompleted)
	assert.True(t, ok)
	assert.Equal(t, EventPaymentCompleted, ev)

	_, ok = EventForStatus(StatusPending)
	assert.False(t, ok)
}
