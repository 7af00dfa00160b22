package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ContactRepositoryImpl implements ContactRepository over the contacts table
type ContactRepositoryImpl struct {
	*BaseRepository[models.Contact, models.ContactFilter]
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &ContactRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Contact, models.ContactFilter](db),
	}
}

// ByWaID retrieves a contact by its WhatsApp id
func (r *ContactRepositoryImpl) ByWaID(ctx context.Context, waID int64) (*models.Contact, error) {
	db := r.getDB(ctx)
	var row models.Contact
	if err := db.Where("wa_id = ?", waID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ContactRepositoryImpl) applyFilter(db *gorm.DB, f models.ContactFilter) *gorm.DB {
	if f.WaID != nil {
		db = db.Where("wa_id = ?", *f.WaID)
	}
	if len(f.AnyTags) > 0 {
		db = db.Where("tags && ?", pq.StringArray(f.AnyTags))
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

// ListByTagsAfter pages through the contacts matching any of tags using a keyset cursor
func (r *ContactRepositoryImpl) ListByTagsAfter(ctx context.Context, tags []string, after *models.ContactCursor, limit int) ([]*models.Contact, error) {
	if len(tags) == 0 {
		return []*models.Contact{}, nil
	}
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Contact{}), models.ContactFilter{AnyTags: tags})
	if after != nil {
		query = query.Where("(created_at, wa_id) > (?, ?)", after.CreatedAt, after.WaID)
	}
	query = query.Order("created_at ASC").Order("wa_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []*models.Contact
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list contacts by tags: %w", err)
	}
	return rows, nil
}

// CountByTags returns the number of contacts matching any of tags
func (r *ContactRepositoryImpl) CountByTags(ctx context.Context, tags []string) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Contact{}), models.ContactFilter{AnyTags: tags}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
