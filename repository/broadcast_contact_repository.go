package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// unresolvedRecipient matches a recipient with no send outcome yet
const unresolvedRecipient = "sent_at IS NULL AND failed_at IS NULL"

// BroadcastContactRepositoryImpl implements BroadcastContactRepository
type BroadcastContactRepositoryImpl struct {
	*BaseRepository[models.BroadcastContact, models.BroadcastContactFilter]
}

// NewBroadcastContactRepository creates a new broadcast recipient repository
func NewBroadcastContactRepository(db *gorm.DB) BroadcastContactRepository {
	return &BroadcastContactRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BroadcastContact, models.BroadcastContactFilter](db),
	}
}

func (r *BroadcastContactRepositoryImpl) applyFilter(db *gorm.DB, f models.BroadcastContactFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.BroadcastID != nil {
		db = db.Where("broadcast_id = ?", *f.BroadcastID)
	}
	if f.BatchID != nil {
		db = db.Where("batch_id = ?", *f.BatchID)
	}
	if f.ContactID != nil {
		db = db.Where("contact_id = ?", *f.ContactID)
	}
	if f.ProviderMessageID != nil {
		db = db.Where("provider_message_id = ?", *f.ProviderMessageID)
	}
	if f.Unresolved != nil {
		if *f.Unresolved {
			db = db.Where(unresolvedRecipient)
		} else {
			db = db.Where("NOT (" + unresolvedRecipient + ")")
		}
	}
	return db
}

// ByFilter retrieves recipients based on filter criteria
func (r *BroadcastContactRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastContactFilter, orderBy string, limit, offset int) ([]*models.BroadcastContact, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.BroadcastContact{}), filter)
	if orderBy == "" {
		orderBy = "id ASC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.BroadcastContact
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find broadcast recipients by filter: %w", err)
	}
	return rows, nil
}

// Count returns the number of recipients matching the filter
func (r *BroadcastContactRepositoryImpl) Count(ctx context.Context, filter models.BroadcastContactFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.BroadcastContact{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any recipient matching the filter exists
func (r *BroadcastContactRepositoryImpl) Exists(ctx context.Context, filter models.BroadcastContactFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// ListPendingByBatch returns the recipients of a batch that still have no outcome
func (r *BroadcastContactRepositoryImpl) ListPendingByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.BroadcastContact, error) {
	unresolved := true
	return r.ByFilter(ctx, models.BroadcastContactFilter{BatchID: &batchID, Unresolved: &unresolved}, "", 0, 0)
}

// ClaimForSend stamps sending_by and sending_at on an unresolved recipient nobody has taken yet
func (r *BroadcastContactRepositoryImpl) ClaimForSend(ctx context.Context, recipient *models.BroadcastContact, workerID string) (bool, error) {
	db := r.getDB(ctx)
	result := db.Model(&models.BroadcastContact{}).
		Where("id = ? AND sending_at IS NULL", recipient.ID).
		Where(unresolvedRecipient).
		Updates(map[string]any{
			"sending_by": workerID,
			"sending_at": utils.UTCNow(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim recipient %d: %w", recipient.ID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkSent stamps sent_at and the provider message id on an unresolved recipient
func (r *BroadcastContactRepositoryImpl) MarkSent(ctx context.Context, recipient *models.BroadcastContact, providerMessageID string, attempts int, at time.Time) (bool, error) {
	return r.stampOutcome(ctx, recipient, map[string]any{
		"sent_at":             at,
		"provider_message_id": providerMessageID,
		"send_attempts":       attempts,
	}, models.BroadcastCounterDelta{Sent: 1})
}

// MarkFailed stamps failed_at and the failure reason on an unresolved recipient
func (r *BroadcastContactRepositoryImpl) MarkFailed(ctx context.Context, recipient *models.BroadcastContact, reason string, attempts int, at time.Time) (bool, error) {
	return r.stampOutcome(ctx, recipient, map[string]any{
		"failed_at":      at,
		"failure_reason": reason,
		"send_attempts":  attempts,
	}, models.BroadcastCounterDelta{Failed: 1})
}

func (r *BroadcastContactRepositoryImpl) stampOutcome(ctx context.Context, recipient *models.BroadcastContact, updates map[string]any, delta models.BroadcastCounterDelta) (stamped bool, err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	result := db.Model(&models.BroadcastContact{}).
		Where("id = ?", recipient.ID).
		Where(unresolvedRecipient).
		Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to stamp recipient %d: %w", recipient.ID, result.Error)
		return false, err
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if err = incrementBroadcastCounters(db, recipient.BroadcastID, delta); err != nil {
		return false, err
	}
	return true, nil
}

// CountUnresolved returns the number of recipients of the broadcast without an outcome
func (r *BroadcastContactRepositoryImpl) CountUnresolved(ctx context.Context, broadcastID uint) (int64, error) {
	unresolved := true
	return r.Count(ctx, models.BroadcastContactFilter{BroadcastID: &broadcastID, Unresolved: &unresolved})
}

// ByProviderMessageID finds the recipient a provider message id was issued for
func (r *BroadcastContactRepositoryImpl) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.BroadcastContact, error) {
	db := r.getDB(ctx)
	var row models.BroadcastContact
	if err := db.Where("provider_message_id = ?", providerMessageID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// MarkDeliveryEvent stamps the column of event if still empty and bumps the broadcast counter
func (r *BroadcastContactRepositoryImpl) MarkDeliveryEvent(ctx context.Context, recipient *models.BroadcastContact, event models.DeliveryEvent, at time.Time, reason string) (stamped bool, err error) {
	column, ok := event.Column()
	if !ok {
		return false, fmt.Errorf("unsupported delivery event %q", event)
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	updates := map[string]any{column: at}
	if event == models.DeliveryEventFailed && reason != "" {
		updates["failure_reason"] = reason
	}
	result := db.Model(&models.BroadcastContact{}).
		Where("id = ?", recipient.ID).
		Where(column + " IS NULL").
		Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to record %s for recipient %d: %w", event, recipient.ID, result.Error)
		return false, err
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if err = incrementBroadcastCounters(db, recipient.BroadcastID, event.CounterDelta()); err != nil {
		return false, err
	}
	return true, nil
}
