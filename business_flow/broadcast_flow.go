// Package businessflow contains the core business logic and use cases for broadcast workflows
package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/dispatch"
	"github.com/amirphl/whatsapp-broadcast/app/dto"
	"github.com/amirphl/whatsapp-broadcast/app/services"
	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/repository"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
)

// Failure codes stored on failed broadcasts
const (
	FailureCodeEmptyAudience    = "EMPTY_AUDIENCE"
	FailureCodeTemplateNotFound = "TEMPLATE_NOT_FOUND"
	FailureCodeTemplateLookup   = "TEMPLATE_LOOKUP_FAILED"
	FailureCodePartition        = "PARTITION_FAILED"
)

const (
	statusReportBroadcasts = 5
	statusReportRecipients = 10
)

// Dispatcher starts workers for a partitioned broadcast and returns how many were started
type Dispatcher interface {
	Dispatch(ctx context.Context, broadcast *models.Broadcast, template services.TemplateRequest, batchIDs []uuid.UUID) int
}

// BroadcastFlow handles the broadcast business logic
type BroadcastFlow interface {
	CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest) (*dto.CreateBroadcastResponse, error)
	SweepScheduledBroadcasts(ctx context.Context) (*dto.SweepResult, error)
	CancelBroadcast(ctx context.Context, broadcastUUID string) (*dto.CancelBroadcastResponse, error)
	GetBroadcast(ctx context.Context, broadcastUUID string) (*dto.BroadcastDTO, error)
	ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest) (*dto.ListBroadcastsResponse, error)
	ListRecipients(ctx context.Context, req *dto.ListRecipientsRequest) (*dto.ListRecipientsResponse, error)
	CountRecipients(ctx context.Context, broadcastUUID string) (*dto.CountRecipientsResponse, error)
	ExportRecipients(ctx context.Context, broadcastUUID string) (string, []byte, error)
	BroadcastStatusReport(ctx context.Context) (*dto.BroadcastStatusReportResponse, error)
	RecordDeliveryEvents(ctx context.Context, events []dto.DeliveryEventDTO) (*dto.RecordDeliveryEventsResponse, error)
}

// BroadcastFlowConfig tunes the sweep
type BroadcastFlowConfig struct {
	DueBroadcastLimit int
	// InFlightPageSize is how many dispatching broadcasts the sweep loads per query
	InFlightPageSize int
	// LeaseTTL is the batch lease; an immediate broadcast older than this is treated as abandoned
	LeaseTTL time.Duration
}

// BroadcastFlowImpl implements the broadcast business flow
type BroadcastFlowImpl struct {
	broadcastRepo repository.BroadcastRepository
	batchRepo     repository.BroadcastBatchRepository
	recipientRepo repository.BroadcastContactRepository
	partitioner   *BatchPartitioner
	templates     services.TemplateProvider
	dispatcher    Dispatcher
	cfg           BroadcastFlowConfig
}

// NewBroadcastFlow creates a new broadcast flow instance
func NewBroadcastFlow(
	broadcastRepo repository.BroadcastRepository,
	batchRepo repository.BroadcastBatchRepository,
	recipientRepo repository.BroadcastContactRepository,
	partitioner *BatchPartitioner,
	templates services.TemplateProvider,
	dispatcher Dispatcher,
	cfg BroadcastFlowConfig,
) BroadcastFlow {
	if cfg.DueBroadcastLimit <= 0 {
		cfg.DueBroadcastLimit = utils.DueBroadcastSweepLimit
	}
	if cfg.InFlightPageSize <= 0 {
		cfg.InFlightPageSize = utils.InFlightBroadcastPageSize
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = utils.BatchLeaseTTL
	}
	return &BroadcastFlowImpl{
		broadcastRepo: broadcastRepo,
		batchRepo:     batchRepo,
		recipientRepo: recipientRepo,
		partitioner:   partitioner,
		templates:     templates,
		dispatcher:    dispatcher,
		cfg:           cfg,
	}
}

// CreateBroadcast stores the broadcast and partitions its audience. Immediate broadcasts are
// dispatched in the same call; scheduled ones wait for the sweep.
func (f *BroadcastFlowImpl) CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest) (*dto.CreateBroadcastResponse, error) {
	tags, err := validateCreateBroadcastRequest(req)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_VALIDATION_FAILED", "Broadcast validation failed", err)
	}

	broadcast := &models.Broadcast{
		Name:         strings.TrimSpace(req.Name),
		TemplateName: strings.TrimSpace(req.TemplateName),
		Language:     strings.TrimSpace(req.Language),
		ContactTags:  tags,
		Status:       models.BroadcastStatusImmediate,
	}
	if req.ScheduledAt != nil {
		broadcast.Status = models.BroadcastStatusScheduled
		broadcast.ScheduledAt = utils.TimeToUTCPtr(req.ScheduledAt)
	} else {
		broadcast.StartedAt = utils.UTCNowPtr()
	}

	if err := f.broadcastRepo.Save(ctx, broadcast); err != nil {
		return nil, NewBusinessError("BROADCAST_CREATION_FAILED", "Broadcast creation failed", err)
	}

	partition, err := f.partitioner.Partition(ctx, broadcast)
	if err != nil {
		f.failBroadcast(ctx, broadcast, FailureCodePartition, err.Error())
		return nil, NewBusinessError("BROADCAST_PARTITION_FAILED", "Failed to prepare broadcast recipients", fmt.Errorf("%w: %w", ErrPartitionFailed, err))
	}
	if partition.TotalScheduled == 0 {
		f.failBroadcast(ctx, broadcast, FailureCodeEmptyAudience, fmt.Sprintf("no contacts tagged %s", strings.Join(tags, ", ")))
		return nil, NewBusinessErrorf("EMPTY_AUDIENCE", "No contacts found for the selected tags (broadcast %s)", ErrEmptyAudience, broadcast.UUID)
	}

	resp := &dto.CreateBroadcastResponse{
		UUID:              broadcast.UUID.String(),
		Status:            broadcast.Status.String(),
		ContactsScheduled: partition.TotalScheduled,
		Batches:           len(partition.BatchIDs),
		ScheduledAt:       broadcast.ScheduledAt,
		CreatedAt:         broadcast.CreatedAt.Format(time.RFC3339),
	}

	if broadcast.Status == models.BroadcastStatusScheduled {
		resp.Message = "Broadcast scheduled successfully"
		return resp, nil
	}

	template, err := f.resolveTemplate(ctx, broadcast)
	if err != nil {
		return nil, err
	}

	resp.WorkersStarted = f.dispatcher.Dispatch(ctx, broadcast, template, partition.BatchIDs)
	resp.Message = "Bulk send initiated successfully"
	return resp, nil
}

// SweepScheduledBroadcasts promotes due scheduled broadcasts and dispatches them. It also restarts
// workers for broadcasts that still have claimable batches and completes the drained ones.
func (f *BroadcastFlowImpl) SweepScheduledBroadcasts(ctx context.Context) (*dto.SweepResult, error) {
	now := utils.UTCNow()
	due, err := f.broadcastRepo.ListDueScheduled(ctx, now, f.cfg.DueBroadcastLimit)
	if err != nil {
		return nil, NewBusinessError("DUE_BROADCASTS_LOOKUP_FAILED", "Failed to list due broadcasts", err)
	}

	result := &dto.SweepResult{}
	for _, b := range due {
		result.Processed++
		ok, err := f.broadcastRepo.TransitionStatus(ctx, b.ID,
			[]models.BroadcastStatus{models.BroadcastStatusScheduled}, models.BroadcastStatusProcessing,
			map[string]any{"started_at": now})
		if err != nil {
			log.Printf("sweep: promote broadcast id=%d failed: %v", b.ID, err)
			result.Failed++
			continue
		}
		if !ok {
			// another sweep or a cancel got there first
			result.Skipped++
			continue
		}
		b.Status = models.BroadcastStatusProcessing
		b.StartedAt = &now

		if err := f.startScheduled(ctx, b); err != nil {
			log.Printf("sweep: broadcast id=%d failed: %v", b.ID, err)
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	if err := f.resumeInFlight(ctx, now, result); err != nil {
		return result, NewBusinessError("IN_FLIGHT_BROADCASTS_LOOKUP_FAILED", "Failed to list in-flight broadcasts", err)
	}

	return result, nil
}

func (f *BroadcastFlowImpl) startScheduled(ctx context.Context, b *models.Broadcast) error {
	partition, err := f.partitioner.Partition(ctx, b)
	if err != nil {
		f.failBroadcast(ctx, b, FailureCodePartition, err.Error())
		return err
	}
	if partition.TotalScheduled == 0 {
		f.failBroadcast(ctx, b, FailureCodeEmptyAudience, fmt.Sprintf("no contacts tagged %s", strings.Join(b.ContactTags, ", ")))
		return ErrEmptyAudience
	}

	template, err := f.resolveTemplate(ctx, b)
	if err != nil {
		return err
	}

	f.dispatcher.Dispatch(ctx, b, template, partition.BatchIDs)
	return nil
}

// resumeInFlight looks at broadcasts that are already dispatching. Drained ones are completed.
// Workers are restarted only for broadcasts started more than a batch lease ago, so freshly
// dispatched tasks still waiting in the queue are not doubled and an immediate broadcast that
// is still being partitioned is left alone.
func (f *BroadcastFlowImpl) resumeInFlight(ctx context.Context, now time.Time, result *dto.SweepResult) error {
	filter := models.BroadcastFilter{
		Statuses: []models.BroadcastStatus{models.BroadcastStatusImmediate, models.BroadcastStatusProcessing},
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := f.broadcastRepo.ByFilter(ctx, filter, "id ASC", f.cfg.InFlightPageSize, 0)
		if err != nil {
			return err
		}
		for _, b := range page {
			f.resumeBroadcast(ctx, b, now, result)
		}
		if len(page) < f.cfg.InFlightPageSize {
			return nil
		}
		filter.IDAfter = &page[len(page)-1].ID
	}
}

func (f *BroadcastFlowImpl) resumeBroadcast(ctx context.Context, b *models.Broadcast, now time.Time, result *dto.SweepResult) {
	staleBefore := now.Add(-f.cfg.LeaseTTL)
	startedAt := b.CreatedAt
	if b.StartedAt != nil {
		startedAt = *b.StartedAt
	}
	stale := startedAt.Before(staleBefore)
	if b.Status == models.BroadcastStatusImmediate && !stale {
		return
	}

	claimable, err := f.batchRepo.CountClaimable(ctx, b.ID, f.cfg.LeaseTTL)
	if err != nil {
		log.Printf("sweep: count claimable batches of broadcast id=%d failed: %v", b.ID, err)
		return
	}

	if claimable == 0 {
		if b.ScheduledCount == 0 {
			// promoted by a concurrent sweep that has not written its batches yet
			return
		}
		completed, err := dispatch.CompleteIfDrained(ctx, f.broadcastRepo, f.recipientRepo, b.ID)
		if err != nil {
			log.Printf("sweep: completion check of broadcast id=%d failed: %v", b.ID, err)
			return
		}
		if completed {
			result.Completed++
		}
		return
	}
	if !stale {
		return
	}

	tmpl, err := f.templates.GetTemplate(ctx, b.TemplateName, b.Language)
	if err != nil {
		// resolved once already, so a lookup failure here is retried next sweep
		log.Printf("sweep: template lookup for broadcast id=%d failed: %v", b.ID, err)
		return
	}

	batches, err := f.batchRepo.ListByBroadcast(ctx, b.ID)
	if err != nil {
		log.Printf("sweep: list batches of broadcast id=%d failed: %v", b.ID, err)
		return
	}
	ids := make([]uuid.UUID, 0, len(batches))
	for _, batch := range batches {
		ids = append(ids, batch.ID)
	}
	if f.dispatcher.Dispatch(ctx, b, tmpl.Request(), ids[:min(int(claimable), len(ids))]) > 0 {
		log.Printf("sweep: resumed broadcast id=%d claimable=%d", b.ID, claimable)
		result.Resumed++
	}
}

// resolveTemplate fetches the approved template, failing the broadcast when there is none
func (f *BroadcastFlowImpl) resolveTemplate(ctx context.Context, b *models.Broadcast) (services.TemplateRequest, error) {
	tmpl, err := f.templates.GetTemplate(ctx, b.TemplateName, b.Language)
	if err == nil {
		return tmpl.Request(), nil
	}

	code := FailureCodeTemplateLookup
	if errors.Is(err, services.ErrTemplateNotFound) {
		code = FailureCodeTemplateNotFound
	}
	f.failBroadcast(ctx, b, code, err.Error())
	return services.TemplateRequest{}, NewBusinessErrorf("TEMPLATE_UNAVAILABLE", "Template %s (%s) is not available", fmt.Errorf("%w: %w", ErrTemplateUnavailable, err), b.TemplateName, b.Language)
}

// failBroadcast records the failure; a broadcast that already reached a terminal state is left untouched
func (f *BroadcastFlowImpl) failBroadcast(ctx context.Context, b *models.Broadcast, code, reason string) {
	ok, err := f.broadcastRepo.TransitionStatus(ctx, b.ID, models.FailableBroadcastStatuses, models.BroadcastStatusFailed,
		map[string]any{"failure_code": code, "failure_reason": reason})
	if err != nil {
		log.Printf("broadcast id=%d: failed to record failure %s: %v", b.ID, code, err)
		return
	}
	if ok {
		b.Status = models.BroadcastStatusFailed
		b.FailureCode = &code
		b.FailureReason = &reason
		log.Printf("broadcast id=%d failed: %s: %s", b.ID, code, reason)
	}
}

// CancelBroadcast cancels a broadcast that has not been promoted yet
func (f *BroadcastFlowImpl) CancelBroadcast(ctx context.Context, broadcastUUID string) (*dto.CancelBroadcastResponse, error) {
	b, err := f.getBroadcast(ctx, broadcastUUID)
	if err != nil {
		return nil, err
	}

	ok, err := f.broadcastRepo.TransitionStatus(ctx, b.ID,
		[]models.BroadcastStatus{models.BroadcastStatusScheduled}, models.BroadcastStatusCancelled, nil)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_CANCEL_FAILED", "Failed to cancel broadcast", err)
	}
	if !ok {
		return nil, NewBusinessError("BROADCAST_NOT_CANCELLABLE", "Broadcast cannot be cancelled in its current status", ErrBroadcastNotCancellable)
	}

	return &dto.CancelBroadcastResponse{
		Message: "Broadcast cancelled successfully",
		UUID:    b.UUID.String(),
		Status:  models.BroadcastStatusCancelled.String(),
	}, nil
}

func (f *BroadcastFlowImpl) GetBroadcast(ctx context.Context, broadcastUUID string) (*dto.BroadcastDTO, error) {
	b, err := f.getBroadcast(ctx, broadcastUUID)
	if err != nil {
		return nil, err
	}
	out := ToBroadcastDTO(*b)
	return &out, nil
}

// ListBroadcasts returns broadcasts newest first
func (f *BroadcastFlowImpl) ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest) (*dto.ListBroadcastsResponse, error) {
	if err := validatePage(req.Page, req.PageSize); err != nil {
		return nil, NewBusinessError("BROADCAST_LIST_VALIDATION_FAILED", "Invalid list parameters", err)
	}

	var filter models.BroadcastFilter
	if req.Status != nil && *req.Status != "" {
		status := models.BroadcastStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("BROADCAST_LIST_VALIDATION_FAILED", "Invalid list parameters", ErrInvalidBroadcastStatus)
		}
		filter.Status = &status
	}

	limit, offset := utils.Paginate(req.Page, req.PageSize, utils.DefaultPageSize)
	total, err := f.broadcastRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LIST_FAILED", "Failed to list broadcasts", err)
	}
	rows, err := f.broadcastRepo.ByFilter(ctx, filter, "created_at DESC, id DESC", limit, offset)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LIST_FAILED", "Failed to list broadcasts", err)
	}

	items := make([]dto.BroadcastDTO, 0, len(rows))
	for _, b := range rows {
		items = append(items, ToBroadcastDTO(*b))
	}
	return &dto.ListBroadcastsResponse{
		Items:      items,
		Pagination: dto.NewPaginationInfo(offset/limit+1, limit, total),
	}, nil
}

// ListRecipients returns one page of recipients in partition order with their display status
func (f *BroadcastFlowImpl) ListRecipients(ctx context.Context, req *dto.ListRecipientsRequest) (*dto.ListRecipientsResponse, error) {
	if err := validatePage(req.Page, req.PageSize); err != nil {
		return nil, NewBusinessError("RECIPIENT_LIST_VALIDATION_FAILED", "Invalid list parameters", err)
	}
	b, err := f.getBroadcast(ctx, req.UUID)
	if err != nil {
		return nil, err
	}

	filter := models.BroadcastContactFilter{BroadcastID: &b.ID}
	limit, offset := utils.Paginate(req.Page, req.PageSize, utils.RecipientsPageSize)
	total, err := f.recipientRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("RECIPIENT_LIST_FAILED", "Failed to list recipients", err)
	}
	rows, err := f.recipientRepo.ByFilter(ctx, filter, "id ASC", limit, offset)
	if err != nil {
		return nil, NewBusinessError("RECIPIENT_LIST_FAILED", "Failed to list recipients", err)
	}

	items := make([]dto.BroadcastRecipientDTO, 0, len(rows))
	for _, rc := range rows {
		items = append(items, ToRecipientDTO(*rc))
	}
	return &dto.ListRecipientsResponse{
		Items:      items,
		Pagination: dto.NewPaginationInfo(offset/limit+1, limit, total),
	}, nil
}

func (f *BroadcastFlowImpl) CountRecipients(ctx context.Context, broadcastUUID string) (*dto.CountRecipientsResponse, error) {
	b, err := f.getBroadcast(ctx, broadcastUUID)
	if err != nil {
		return nil, err
	}

	total, err := f.recipientRepo.Count(ctx, models.BroadcastContactFilter{BroadcastID: &b.ID})
	if err != nil {
		return nil, NewBusinessError("RECIPIENT_COUNT_FAILED", "Failed to count recipients", err)
	}
	unresolved, err := f.recipientRepo.CountUnresolved(ctx, b.ID)
	if err != nil {
		return nil, NewBusinessError("RECIPIENT_COUNT_FAILED", "Failed to count recipients", err)
	}
	return &dto.CountRecipientsResponse{Total: total, Unresolved: unresolved}, nil
}

// BroadcastStatusReport returns the latest broadcasts with their batches and most recent recipients
func (f *BroadcastFlowImpl) BroadcastStatusReport(ctx context.Context) (*dto.BroadcastStatusReportResponse, error) {
	broadcasts, err := f.broadcastRepo.ByFilter(ctx, models.BroadcastFilter{}, "created_at DESC, id DESC", statusReportBroadcasts, 0)
	if err != nil {
		return nil, NewBusinessError("STATUS_REPORT_FAILED", "Failed to build status report", err)
	}

	resp := &dto.BroadcastStatusReportResponse{
		Broadcasts:  make([]dto.BroadcastStatusReportItem, 0, len(broadcasts)),
		GeneratedAt: utils.UTCNow(),
	}
	for _, b := range broadcasts {
		batches, err := f.batchRepo.ListByBroadcast(ctx, b.ID)
		if err != nil {
			return nil, NewBusinessError("STATUS_REPORT_FAILED", "Failed to build status report", err)
		}
		recipients, err := f.recipientRepo.ByFilter(ctx, models.BroadcastContactFilter{BroadcastID: &b.ID}, "id DESC", statusReportRecipients, 0)
		if err != nil {
			return nil, NewBusinessError("STATUS_REPORT_FAILED", "Failed to build status report", err)
		}

		item := dto.BroadcastStatusReportItem{
			Broadcast:        ToBroadcastDTO(*b),
			Batches:          make([]dto.BroadcastBatchDTO, 0, len(batches)),
			LatestRecipients: make([]dto.BroadcastRecipientDTO, 0, len(recipients)),
		}
		for _, batch := range batches {
			item.Batches = append(item.Batches, ToBatchDTO(*batch))
		}
		for _, rc := range recipients {
			item.LatestRecipients = append(item.LatestRecipients, ToRecipientDTO(*rc))
		}
		resp.Broadcasts = append(resp.Broadcasts, item)
	}
	return resp, nil
}

// RecordDeliveryEvents applies provider notifications. Each event timestamp is set at most once
// per recipient, so replays are counted as ignored.
func (f *BroadcastFlowImpl) RecordDeliveryEvents(ctx context.Context, events []dto.DeliveryEventDTO) (*dto.RecordDeliveryEventsResponse, error) {
	resp := &dto.RecordDeliveryEventsResponse{Received: len(events)}

	for _, ev := range events {
		event := models.DeliveryEvent(ev.Event)
		if _, ok := event.Column(); !ok {
			return nil, NewBusinessErrorf("DELIVERY_EVENT_INVALID", "Unsupported delivery event %q", ErrUnsupportedDeliveryEvent, ev.Event)
		}
		if strings.TrimSpace(ev.ProviderMessageID) == "" {
			resp.Ignored++
			continue
		}

		rc, err := f.recipientRepo.ByProviderMessageID(ctx, ev.ProviderMessageID)
		if err != nil {
			return nil, NewBusinessError("DELIVERY_EVENT_FAILED", "Failed to record delivery event", err)
		}
		if rc == nil {
			resp.Ignored++
			continue
		}

		at := ev.OccurredAt
		if at.IsZero() {
			at = utils.UTCNow()
		}
		applied, err := f.recipientRepo.MarkDeliveryEvent(ctx, rc, event, at.UTC(), strings.TrimSpace(ev.Reason))
		if err != nil {
			return nil, NewBusinessError("DELIVERY_EVENT_FAILED", "Failed to record delivery event", err)
		}
		if applied {
			resp.Applied++
		} else {
			resp.Ignored++
		}
	}
	return resp, nil
}

func (f *BroadcastFlowImpl) getBroadcast(ctx context.Context, broadcastUUID string) (*models.Broadcast, error) {
	id, err := uuid.Parse(strings.TrimSpace(broadcastUUID))
	if err != nil {
		return nil, NewBusinessError("INVALID_BROADCAST_UUID", "Invalid broadcast UUID", ErrInvalidBroadcastUUID)
	}
	b, err := f.broadcastRepo.ByUUID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LOOKUP_FAILED", "Failed to lookup broadcast", err)
	}
	if b == nil {
		return nil, NewBusinessError("BROADCAST_NOT_FOUND", "Broadcast not found", ErrBroadcastNotFound)
	}
	return b, nil
}

// validateCreateBroadcastRequest returns the normalized tag list
func validateCreateBroadcastRequest(req *dto.CreateBroadcastRequest) ([]string, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrBroadcastNameRequired
	}
	if strings.TrimSpace(req.TemplateName) == "" {
		return nil, ErrTemplateNameRequired
	}
	if strings.TrimSpace(req.Language) == "" {
		return nil, ErrLanguageRequired
	}

	tags := make([]string, 0, len(req.ContactTags))
	seen := make(map[string]bool, len(req.ContactTags))
	for _, t := range req.ContactTags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		return nil, ErrContactTagsRequired
	}

	if req.ScheduledAt != nil && !utils.IsValid(*req.ScheduledAt) {
		return nil, ErrScheduledAtNotInFuture
	}
	return tags, nil
}

func validatePage(page, pageSize int) error {
	if page < 0 {
		return ErrInvalidPage
	}
	if pageSize < 0 || pageSize > utils.MaxPageSize {
		return ErrInvalidPageSize
	}
	return nil
}
