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

// BroadcastRepositoryImpl implements BroadcastRepository interface
type BroadcastRepositoryImpl struct {
	*BaseRepository[models.Broadcast, models.BroadcastFilter]
}

// NewBroadcastRepository creates a new broadcast repository
func NewBroadcastRepository(db *gorm.DB) BroadcastRepository {
	return &BroadcastRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Broadcast, models.BroadcastFilter](db),
	}
}

// ByUUID retrieves a broadcast by its public identifier
func (r *BroadcastRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	db := r.getDB(ctx)
	var row models.Broadcast
	if err := db.Where("uuid = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *BroadcastRepositoryImpl) applyFilter(query *gorm.DB, filter models.BroadcastFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.Name != nil {
		query = query.Where("name = ?", *filter.Name)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.IDAfter != nil {
		query = query.Where("id > ?", *filter.IDAfter)
	}
	if filter.ScheduledBefore != nil {
		query = query.Where("scheduled_at <= ?", *filter.ScheduledBefore)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves broadcasts based on filter criteria
func (r *BroadcastRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastFilter, orderBy string, limit, offset int) ([]*models.Broadcast, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Broadcast{}), filter)

	if orderBy == "" {
		orderBy = "created_at DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.Broadcast
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find broadcasts by filter: %w", err)
	}
	return rows, nil
}

// Count returns the number of broadcasts matching the filter
func (r *BroadcastRepositoryImpl) Count(ctx context.Context, filter models.BroadcastFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Broadcast{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any broadcast matching the filter exists
func (r *BroadcastRepositoryImpl) Exists(ctx context.Context, filter models.BroadcastFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// ListDueScheduled returns scheduled broadcasts whose time has come, oldest first
func (r *BroadcastRepositoryImpl) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Broadcast, error) {
	status := models.BroadcastStatusScheduled
	return r.ByFilter(ctx, models.BroadcastFilter{
		Status:          &status,
		ScheduledBefore: &now,
	}, "scheduled_at ASC", limit, 0)
}

// TransitionStatus performs a compare-and-swap on the status column
func (r *BroadcastRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from []models.BroadcastStatus, to models.BroadcastStatus, fields map[string]any) (ok bool, err error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one source status")
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	updates := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := db.Model(&models.Broadcast{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to transition broadcast %d to %s: %w", id, to, result.Error)
		return false, err
	}
	return result.RowsAffected == 1, nil
}

// IncrementCounters adds delta to the broadcast counters
func (r *BroadcastRepositoryImpl) IncrementCounters(ctx context.Context, id uint, delta models.BroadcastCounterDelta) (err error) {
	if delta.IsZero() {
		return nil
	}
	if delta.Sent < 0 || delta.Delivered < 0 || delta.Read < 0 || delta.Replied < 0 || delta.Failed < 0 {
		return fmt.Errorf("negative counter delta for broadcast %d", id)
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	err = incrementBroadcastCounters(db, id, delta)
	return err
}

// incrementBroadcastCounters is shared with the recipient repository so counter bumps can join its transactions
func incrementBroadcastCounters(db *gorm.DB, id uint, delta models.BroadcastCounterDelta) error {
	updates := map[string]any{"updated_at": utils.UTCNow()}
	if delta.Sent > 0 {
		updates["sent_count"] = gorm.Expr("sent_count + ?", delta.Sent)
	}
	if delta.Delivered > 0 {
		updates["delivered_count"] = gorm.Expr("delivered_count + ?", delta.Delivered)
	}
	if delta.Read > 0 {
		updates["read_count"] = gorm.Expr("read_count + ?", delta.Read)
	}
	if delta.Replied > 0 {
		updates["replied_count"] = gorm.Expr("replied_count + ?", delta.Replied)
	}
	if delta.Failed > 0 {
		updates["failed_count"] = gorm.Expr("failed_count + ?", delta.Failed)
	}
	if err := db.Model(&models.Broadcast{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to increment counters of broadcast %d: %w", id, err)
	}
	return nil
}
