package businessflow

import (
	"context"
	"fmt"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/repository"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
)

// AudienceResolver pages through the contacts matching any of a set of tags,
// oldest contact first.
type AudienceResolver struct {
	contactRepo repository.ContactRepository
	pageSize    int
}

func NewAudienceResolver(contactRepo repository.ContactRepository, pageSize int) *AudienceResolver {
	if pageSize <= 0 {
		pageSize = utils.ProcessingLimit
	}
	return &AudienceResolver{contactRepo: contactRepo, pageSize: pageSize}
}

// PageSize returns the number of contacts requested per page
func (r *AudienceResolver) PageSize() int {
	return r.pageSize
}

// NextPage returns the page after cursor (nil for the first page) and the cursor of the page
// that follows it. An empty page with a nil error means the audience is exhausted.
func (r *AudienceResolver) NextPage(ctx context.Context, tags []string, cursor *models.ContactCursor) ([]*models.Contact, *models.ContactCursor, error) {
	contacts, err := r.contactRepo.ListByTagsAfter(ctx, tags, cursor, r.pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve audience page: %w", err)
	}
	if len(contacts) == 0 {
		return nil, cursor, nil
	}
	last := contacts[len(contacts)-1]
	return contacts, &models.ContactCursor{CreatedAt: last.CreatedAt, WaID: last.WaID}, nil
}

// PartitionResult describes the batches of one broadcast
type PartitionResult struct {
	TotalScheduled int64
	BatchIDs       []uuid.UUID
	// Reused is set when the batches existed before the call
	Reused bool
}

// BatchPartitioner splits the audience of a broadcast into fixed size batches.
// Running it twice for the same broadcast returns the existing batches.
type BatchPartitioner struct {
	resolver  *AudienceResolver
	batchRepo repository.BroadcastBatchRepository
}

func NewBatchPartitioner(resolver *AudienceResolver, batchRepo repository.BroadcastBatchRepository) *BatchPartitioner {
	return &BatchPartitioner{resolver: resolver, batchRepo: batchRepo}
}

// Partition writes one batch per audience page. Paging stops after the first page shorter
// than the page size, so every batch but the last holds exactly PageSize recipients.
func (p *BatchPartitioner) Partition(ctx context.Context, broadcast *models.Broadcast) (*PartitionResult, error) {
	existing, err := p.batchRepo.ListByBroadcast(ctx, broadcast.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing batches: %w", err)
	}
	if len(existing) > 0 {
		result := &PartitionResult{Reused: true, BatchIDs: make([]uuid.UUID, 0, len(existing))}
		for _, b := range existing {
			result.BatchIDs = append(result.BatchIDs, b.ID)
			result.TotalScheduled += int64(b.ScheduledCount)
		}
		return result, nil
	}

	result := &PartitionResult{}
	var cursor *models.ContactCursor
	for {
		contacts, next, err := p.resolver.NextPage(ctx, broadcast.ContactTags, cursor)
		if err != nil {
			return nil, err
		}
		if len(contacts) == 0 {
			break
		}

		batch := &models.BroadcastBatch{
			ID:          uuid.New(),
			BroadcastID: broadcast.ID,
			Status:      models.BroadcastBatchStatusPending,
		}
		recipients := make([]*models.BroadcastContact, 0, len(contacts))
		for _, c := range contacts {
			recipients = append(recipients, &models.BroadcastContact{
				BroadcastID: broadcast.ID,
				BatchID:     batch.ID,
				ContactID:   c.WaID,
			})
		}
		if err := p.batchRepo.SavePartition(ctx, batch, recipients); err != nil {
			return nil, fmt.Errorf("failed to save batch %d: %w", len(result.BatchIDs)+1, err)
		}

		result.BatchIDs = append(result.BatchIDs, batch.ID)
		result.TotalScheduled += int64(len(contacts))

		if len(contacts) < p.resolver.PageSize() {
			break
		}
		cursor = next
	}

	return result, nil
}
