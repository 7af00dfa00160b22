// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// ContactRepository is the read-only contact store used to resolve audiences
type ContactRepository interface {
	ByWaID(ctx context.Context, waID int64) (*models.Contact, error)
	// ListByTagsAfter returns contacts whose tags overlap tags, ordered by (created_at, wa_id),
	// strictly after the cursor when one is given.
	ListByTagsAfter(ctx context.Context, tags []string, after *models.ContactCursor, limit int) ([]*models.Contact, error)
	CountByTags(ctx context.Context, tags []string) (int64, error)
}

// BroadcastRepository defines operations for broadcasts
type BroadcastRepository interface {
	Repository[models.Broadcast, models.BroadcastFilter]
	ByUUID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Broadcast, error)
	// TransitionStatus moves the broadcast to `to` only if its current status is one of from.
	// It reports whether this call performed the transition.
	TransitionStatus(ctx context.Context, id uint, from []models.BroadcastStatus, to models.BroadcastStatus, fields map[string]any) (bool, error)
	IncrementCounters(ctx context.Context, id uint, delta models.BroadcastCounterDelta) error
}

// BroadcastBatchRepository defines operations for broadcast batches
type BroadcastBatchRepository interface {
	ListByBroadcast(ctx context.Context, broadcastID uint) ([]*models.BroadcastBatch, error)
	// SavePartition persists a batch, its recipients and the scheduled count bump atomically
	SavePartition(ctx context.Context, batch *models.BroadcastBatch, recipients []*models.BroadcastContact) error
	// ClaimNext atomically takes one pending (or lease-expired) batch of the broadcast for workerID.
	// It returns nil when nothing is claimable.
	ClaimNext(ctx context.Context, broadcastID uint, workerID string, leaseTTL time.Duration) (*models.BroadcastBatch, error)
	// RenewLease refreshes the claim time of a batch still owned by workerID.
	// It reports false once another worker has taken the batch over.
	RenewLease(ctx context.Context, batchID uuid.UUID, workerID string) (bool, error)
	// MarkCompleted completes a batch still owned by workerID
	MarkCompleted(ctx context.Context, batchID uuid.UUID, workerID string) (bool, error)
	CountClaimable(ctx context.Context, broadcastID uint, leaseTTL time.Duration) (int64, error)
}

// BroadcastContactRepository defines operations for broadcast recipients
type BroadcastContactRepository interface {
	Repository[models.BroadcastContact, models.BroadcastContactFilter]
	ListPendingByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.BroadcastContact, error)
	// ClaimForSend marks an unresolved recipient as being sent by workerID. Only one caller
	// ever wins a recipient, so a message is handed to the provider at most once.
	ClaimForSend(ctx context.Context, recipient *models.BroadcastContact, workerID string) (bool, error)
	// MarkSent and MarkFailed stamp an outcome only on a recipient without one, bumping the
	// broadcast counter in the same transaction. They report whether the stamp happened.
	MarkSent(ctx context.Context, recipient *models.BroadcastContact, providerMessageID string, attempts int, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, recipient *models.BroadcastContact, reason string, attempts int, at time.Time) (bool, error)
	CountUnresolved(ctx context.Context, broadcastID uint) (int64, error)
	ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.BroadcastContact, error)
	// MarkDeliveryEvent stamps the event column once and bumps the matching counter.
	// reason is stored only for failed events.
	MarkDeliveryEvent(ctx context.Context, recipient *models.BroadcastContact, event models.DeliveryEvent, at time.Time, reason string) (bool, error)
}

// ScheduledMessageRepository defines operations for scheduled single messages
type ScheduledMessageRepository interface {
	Repository[models.ScheduledMessage, models.ScheduledMessageFilter]
	ByUUID(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error)
	// ListStuckSending returns messages that entered sending before `before` and never left it
	ListStuckSending(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledMessage, error)
	TransitionStatus(ctx context.Context, id uint, from models.ScheduledMessageStatus, to models.ScheduledMessageStatus, fields map[string]any) (bool, error)
}
