package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// claimNextBatchSQL flips exactly one claimable batch to claimed. SKIP LOCKED keeps concurrent
// claimers from blocking on, or double-taking, the row another worker is claiming.
const claimNextBatchSQL = `
UPDATE broadcast_batches
SET status = ?, claimed_by = ?, claimed_at = ?
WHERE id = (
	SELECT id FROM broadcast_batches
	WHERE broadcast_id = ?
	  AND (status = ? OR (status = ? AND claimed_at < ?))
	ORDER BY created_at ASC, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// BroadcastBatchRepositoryImpl implements BroadcastBatchRepository
type BroadcastBatchRepositoryImpl struct {
	*BaseRepository[models.BroadcastBatch, struct{}]
}

// NewBroadcastBatchRepository creates a new broadcast batch repository
func NewBroadcastBatchRepository(db *gorm.DB) BroadcastBatchRepository {
	return &BroadcastBatchRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BroadcastBatch, struct{}](db),
	}
}

// ListByBroadcast returns every batch of the broadcast in creation order
func (r *BroadcastBatchRepositoryImpl) ListByBroadcast(ctx context.Context, broadcastID uint) ([]*models.BroadcastBatch, error) {
	db := r.getDB(ctx)
	var rows []*models.BroadcastBatch
	if err := db.Where("broadcast_id = ?", broadcastID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list batches of broadcast %d: %w", broadcastID, err)
	}
	return rows, nil
}

// SavePartition writes one batch with its recipients and bumps the broadcast scheduled count
func (r *BroadcastBatchRepositoryImpl) SavePartition(ctx context.Context, batch *models.BroadcastBatch, recipients []*models.BroadcastContact) (err error) {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = models.BroadcastBatchStatusPending
	}
	batch.ScheduledCount = len(recipients)
	for _, rc := range recipients {
		rc.BatchID = batch.ID
		rc.BroadcastID = batch.BroadcastID
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	if err = db.Create(batch).Error; err != nil {
		return fmt.Errorf("failed to save batch %s: %w", batch.ID, err)
	}
	if len(recipients) > 0 {
		if err = db.CreateInBatches(recipients, 500).Error; err != nil {
			return fmt.Errorf("failed to save recipients of batch %s: %w", batch.ID, err)
		}
	}
	err = db.Model(&models.Broadcast{}).
		Where("id = ?", batch.BroadcastID).
		Updates(map[string]any{
			"scheduled_count": gorm.Expr("scheduled_count + ?", len(recipients)),
			"updated_at":      utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to bump scheduled count of broadcast %d: %w", batch.BroadcastID, err)
	}
	return nil
}

// ClaimNext atomically claims one batch for workerID
func (r *BroadcastBatchRepositoryImpl) ClaimNext(ctx context.Context, broadcastID uint, workerID string, leaseTTL time.Duration) (*models.BroadcastBatch, error) {
	db := r.getDB(ctx)
	now := utils.UTCNow()

	var rows []*models.BroadcastBatch
	err := db.Raw(claimNextBatchSQL,
		models.BroadcastBatchStatusClaimed, workerID, now,
		broadcastID,
		models.BroadcastBatchStatusPending, models.BroadcastBatchStatusClaimed, now.Add(-leaseTTL),
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch of broadcast %d: %w", broadcastID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// RenewLease moves claimed_at forward while workerID still owns the batch
func (r *BroadcastBatchRepositoryImpl) RenewLease(ctx context.Context, batchID uuid.UUID, workerID string) (bool, error) {
	db := r.getDB(ctx)
	result := db.Model(&models.BroadcastBatch{}).
		Where("id = ? AND claimed_by = ? AND status = ?", batchID, workerID, models.BroadcastBatchStatusClaimed).
		Update("claimed_at", utils.UTCNow())
	if result.Error != nil {
		return false, fmt.Errorf("failed to renew lease of batch %s: %w", batchID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkCompleted records that every recipient of the batch has been attempted
func (r *BroadcastBatchRepositoryImpl) MarkCompleted(ctx context.Context, batchID uuid.UUID, workerID string) (ok bool, err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	result := db.Model(&models.BroadcastBatch{}).
		Where("id = ? AND claimed_by = ? AND status = ?", batchID, workerID, models.BroadcastBatchStatusClaimed).
		Updates(map[string]any{
			"status":       models.BroadcastBatchStatusCompleted,
			"completed_at": utils.UTCNow(),
		})
	if result.Error != nil {
		err = fmt.Errorf("failed to complete batch %s: %w", batchID, result.Error)
		return false, err
	}
	return result.RowsAffected == 1, nil
}

// CountClaimable returns how many batches of the broadcast a worker could claim right now
func (r *BroadcastBatchRepositoryImpl) CountClaimable(ctx context.Context, broadcastID uint, leaseTTL time.Duration) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.BroadcastBatch{}).
		Where("broadcast_id = ?", broadcastID).
		Where("status = ? OR (status = ? AND claimed_at < ?)",
			models.BroadcastBatchStatusPending, models.BroadcastBatchStatusClaimed, utils.UTCNow().Add(-leaseTTL)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
