package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastStatus(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		for _, s := range []BroadcastStatus{
			BroadcastStatusImmediate, BroadcastStatusScheduled, BroadcastStatusProcessing,
			BroadcastStatusCompleted, BroadcastStatusFailed, BroadcastStatusCancelled,
		} {
			assert.True(t, s.Valid(), s.String())
		}
		assert.False(t, BroadcastStatus("sending").Valid())
	})

	t.Run("Transitions", func(t *testing.T) {
		tests := []struct {
			from BroadcastStatus
			to   BroadcastStatus
			want bool
		}{
			{BroadcastStatusScheduled, BroadcastStatusProcessing, true},
			{BroadcastStatusScheduled, BroadcastStatusCancelled, true},
			{BroadcastStatusScheduled, BroadcastStatusFailed, true},
			{BroadcastStatusImmediate, BroadcastStatusProcessing, true},
			{BroadcastStatusImmediate, BroadcastStatusCancelled, false},
			{BroadcastStatusProcessing, BroadcastStatusCompleted, true},
			{BroadcastStatusProcessing, BroadcastStatusCancelled, false},
			{BroadcastStatusProcessing, BroadcastStatusScheduled, false},
			{BroadcastStatusCompleted, BroadcastStatusFailed, false},
			{BroadcastStatusCancelled, BroadcastStatusProcessing, false},
			{BroadcastStatusFailed, BroadcastStatusCompleted, false},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
		}
	})

	t.Run("Terminal", func(t *testing.T) {
		assert.True(t, BroadcastStatusCompleted.IsTerminal())
		assert.True(t, BroadcastStatusFailed.IsTerminal())
		assert.True(t, BroadcastStatusCancelled.IsTerminal())
		assert.False(t, BroadcastStatusProcessing.IsTerminal())
		assert.False(t, BroadcastStatusScheduled.IsTerminal())
	})

	t.Run("Dispatching", func(t *testing.T) {
		assert.True(t, BroadcastStatusImmediate.IsDispatching())
		assert.True(t, BroadcastStatusProcessing.IsDispatching())
		assert.False(t, BroadcastStatusScheduled.IsDispatching())
		assert.False(t, BroadcastStatusCancelled.IsDispatching())
	})

	t.Run("ScanAndValue", func(t *testing.T) {
		var s BroadcastStatus
		require.NoError(t, s.Scan([]byte("processing")))
		assert.Equal(t, BroadcastStatusProcessing, s)

		_, err := BroadcastStatus("bogus").Value()
		assert.Error(t, err)

		assert.Error(t, s.Scan(42))
	})
}

func TestBroadcastContactDisplayStatus(t *testing.T) {
	now := time.Now().UTC()
	ts := func() *time.Time { v := now; return &v }

	tests := []struct {
		name    string
		contact BroadcastContact
		want    RecipientStatus
	}{
		{"no timestamps", BroadcastContact{}, RecipientStatusPending},
		{"sent", BroadcastContact{SentAt: ts()}, RecipientStatusSent},
		{"sent and failed", BroadcastContact{SentAt: ts(), FailedAt: ts()}, RecipientStatusFailed},
		{"sent delivered read", BroadcastContact{SentAt: ts(), DeliveredAt: ts(), ReadAt: ts()}, RecipientStatusRead},
		{"replied beats read", BroadcastContact{SentAt: ts(), ReadAt: ts(), RepliedAt: ts()}, RecipientStatusReplied},
		{"failed beats replied", BroadcastContact{RepliedAt: ts(), FailedAt: ts()}, RecipientStatusFailed},
		{"delivered", BroadcastContact{SentAt: ts(), DeliveredAt: ts()}, RecipientStatusDelivered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.contact.DisplayStatus())
		})
	}
}

func TestBroadcastContactHasOutcome(t *testing.T) {
	now := time.Now().UTC()
	assert.False(t, (&BroadcastContact{}).HasOutcome())
	assert.True(t, (&BroadcastContact{SentAt: &now}).HasOutcome())
	assert.True(t, (&BroadcastContact{FailedAt: &now}).HasOutcome())
	assert.False(t, (&BroadcastContact{DeliveredAt: &now}).HasOutcome())
}

func TestBroadcastBatchIsClaimable(t *testing.T) {
	now := time.Now().UTC()
	stale := now.Add(-20 * time.Minute)
	fresh := now.Add(-time.Minute)

	assert.True(t, (&BroadcastBatch{Status: BroadcastBatchStatusPending}).IsClaimable(now, 15*time.Minute))
	assert.True(t, (&BroadcastBatch{Status: BroadcastBatchStatusClaimed, ClaimedAt: &stale}).IsClaimable(now, 15*time.Minute))
	assert.False(t, (&BroadcastBatch{Status: BroadcastBatchStatusClaimed, ClaimedAt: &fresh}).IsClaimable(now, 15*time.Minute))
	assert.False(t, (&BroadcastBatch{Status: BroadcastBatchStatusCompleted}).IsClaimable(now, 15*time.Minute))
}

func TestDeliveryEvent(t *testing.T) {
	col, ok := DeliveryEventRead.Column()
	assert.True(t, ok)
	assert.Equal(t, "read_at", col)

	_, ok = DeliveryEvent("sent").Column()
	assert.False(t, ok)

	assert.Equal(t, BroadcastCounterDelta{Replied: 1}, DeliveryEventReplied.CounterDelta())
	assert.True(t, DeliveryEvent("unknown").CounterDelta().IsZero())
}
