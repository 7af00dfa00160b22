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

// ScheduledMessageRepositoryImpl implements ScheduledMessageRepository
type ScheduledMessageRepositoryImpl struct {
	*BaseRepository[models.ScheduledMessage, models.ScheduledMessageFilter]
}

func NewScheduledMessageRepository(db *gorm.DB) ScheduledMessageRepository {
	return &ScheduledMessageRepositoryImpl{BaseRepository: NewBaseRepository[models.ScheduledMessage, models.ScheduledMessageFilter](db)}
}

func (r *ScheduledMessageRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error) {
	db := r.getDB(ctx)
	var row models.ScheduledMessage
	if err := db.Where("uuid = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ScheduledMessageRepositoryImpl) applyFilter(db *gorm.DB, f models.ScheduledMessageFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.To != nil {
		db = db.Where("to_wa_id = ?", *f.To)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	return db
}

func (r *ScheduledMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.ScheduledMessageFilter, orderBy string, limit, offset int) ([]*models.ScheduledMessage, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ScheduledMessage{}), filter)
	if orderBy == "" {
		orderBy = "scheduled_at DESC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ScheduledMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find scheduled messages by filter: %w", err)
	}
	return rows, nil
}

func (r *ScheduledMessageRepositoryImpl) Count(ctx context.Context, filter models.ScheduledMessageFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.ScheduledMessage{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ScheduledMessageRepositoryImpl) Exists(ctx context.Context, filter models.ScheduledMessageFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListDue returns pending messages whose next attempt is due, oldest first
func (r *ScheduledMessageRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.ScheduledMessage{}).
		Where("status = ? AND next_attempt_at <= ?", models.ScheduledMessageStatusPending, now).
		Order("next_attempt_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.ScheduledMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list due scheduled messages: %w", err)
	}
	return rows, nil
}

// ListStuckSending returns messages still in sending whose last transition happened before `before`
func (r *ScheduledMessageRepositoryImpl) ListStuckSending(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledMessage, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.ScheduledMessage{}).
		Where("status = ? AND updated_at < ?", models.ScheduledMessageStatusSending, before).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.ScheduledMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list stuck scheduled messages: %w", err)
	}
	return rows, nil
}

// TransitionStatus moves a message from one status to another if it is still in from
func (r *ScheduledMessageRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from models.ScheduledMessageStatus, to models.ScheduledMessageStatus, fields map[string]any) (ok bool, err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer func() { err = finish(db, shouldCommit, err) }()

	updates := map[string]any{"status": to, "updated_at": utils.UTCNow()}
	for k, v := range fields {
		updates[k] = v
	}
	result := db.Model(&models.ScheduledMessage{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to move scheduled message %d to %s: %w", id, to, result.Error)
		return false, err
	}
	return result.RowsAffected == 1, nil
}
