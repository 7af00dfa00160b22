package testing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/repository"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
)

// MemoryStore is an in-process stand-in for the PostgreSQL store. Every repository it hands out
// shares one mutex, so guarded updates and batch claims behave like their SQL counterparts.
type MemoryStore struct {
	mu sync.Mutex

	contacts   map[int64]*models.Contact
	broadcasts map[uint]*models.Broadcast
	batches    []*models.BroadcastBatch
	recipients []*models.BroadcastContact
	messages   map[uint]*models.ScheduledMessage

	nextBroadcastID uint
	nextRecipientID uint
	nextMessageID   uint
	contactClock    time.Time

	// FailSavePartition, when set, is returned by SavePartition for the given 1-based call
	FailSavePartition   error
	FailSavePartitionAt int
	savePartitionCalls  int

	// FailMessageTransition, when set, is returned by every scheduled message transition to FailMessageTransitionTo
	FailMessageTransition   error
	FailMessageTransitionTo models.ScheduledMessageStatus
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:     make(map[int64]*models.Contact),
		broadcasts:   make(map[uint]*models.Broadcast),
		messages:     make(map[uint]*models.ScheduledMessage),
		contactClock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddContacts inserts contacts; a zero CreatedAt is replaced by a strictly increasing clock
func (s *MemoryStore) AddContacts(contacts ...models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range contacts {
		c := contacts[i]
		if c.CreatedAt.IsZero() {
			s.contactClock = s.contactClock.Add(time.Millisecond)
			c.CreatedAt = s.contactClock
		}
		s.contacts[c.WaID] = &c
	}
}

// SeedTaggedContacts adds n contacts carrying tags with wa ids starting at firstWaID
func (s *MemoryStore) SeedTaggedContacts(firstWaID int64, n int, tags ...string) {
	contacts := make([]models.Contact, 0, n)
	for i := 0; i < n; i++ {
		contacts = append(contacts, models.Contact{WaID: firstWaID + int64(i), Tags: append([]string(nil), tags...)})
	}
	s.AddContacts(contacts...)
}

// Contacts returns the contact repository
func (s *MemoryStore) Contacts() repository.ContactRepository { return &memContactRepo{s} }

// Broadcasts returns the broadcast repository
func (s *MemoryStore) Broadcasts() repository.BroadcastRepository { return &memBroadcastRepo{s} }

// Batches returns the batch repository
func (s *MemoryStore) Batches() repository.BroadcastBatchRepository { return &memBatchRepo{s} }

// Recipients returns the recipient repository
func (s *MemoryStore) Recipients() repository.BroadcastContactRepository { return &memRecipientRepo{s} }

// ScheduledMessages returns the scheduled message repository
func (s *MemoryStore) ScheduledMessages() repository.ScheduledMessageRepository {
	return &memScheduledMessageRepo{s}
}

// Broadcast returns a snapshot of the broadcast with id
func (s *MemoryStore) Broadcast(id uint) *models.Broadcast {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.broadcasts[id]; ok {
		cp := *b
		return &cp
	}
	return nil
}

// BatchesOf returns snapshots of the batches of a broadcast in creation order
func (s *MemoryStore) BatchesOf(broadcastID uint) []models.BroadcastBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BroadcastBatch
	for _, b := range s.batches {
		if b.BroadcastID == broadcastID {
			out = append(out, *b)
		}
	}
	return out
}

// RecipientsOf returns snapshots of the recipients of a broadcast in id order
func (s *MemoryStore) RecipientsOf(broadcastID uint) []models.BroadcastContact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BroadcastContact
	for _, r := range s.recipients {
		if r.BroadcastID == broadcastID {
			out = append(out, *r)
		}
	}
	return out
}

// ExpireBatchLeases moves the claim time of every claimed batch of the broadcast back by d
func (s *MemoryStore) ExpireBatchLeases(broadcastID uint, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.BroadcastID == broadcastID && b.Status == models.BroadcastBatchStatusClaimed && b.ClaimedAt != nil {
			t := b.ClaimedAt.Add(-d)
			b.ClaimedAt = &t
		}
	}
}

// AgeScheduledMessage moves the last transition time of a scheduled message back by d
func (s *MemoryStore) AgeScheduledMessage(id uint, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.UpdatedAt = m.UpdatedAt.Add(-d)
	}
}

// ScheduledMessage returns a copy of the stored message
func (s *MemoryStore) ScheduledMessage(id uint) *models.ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// ---------------------------------------------------------------------------
// contacts

type memContactRepo struct{ s *MemoryStore }

func (r *memContactRepo) ByWaID(ctx context.Context, waID int64) (*models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.contacts[waID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

func (r *memContactRepo) matching(tags []string) []*models.Contact {
	var out []*models.Contact
	for _, c := range r.s.contacts {
		if overlaps(c.Tags, tags) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].WaID < out[j].WaID
	})
	return out
}

func (r *memContactRepo) ListByTagsAfter(ctx context.Context, tags []string, after *models.ContactCursor, limit int) ([]*models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Contact
	for _, c := range r.matching(tags) {
		if after != nil {
			if c.CreatedAt.Before(after.CreatedAt) ||
				(c.CreatedAt.Equal(after.CreatedAt) && c.WaID <= after.WaID) {
				continue
			}
		}
		cp := *c
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memContactRepo) CountByTags(ctx context.Context, tags []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.matching(tags))), nil
}

// ---------------------------------------------------------------------------
// broadcasts

type memBroadcastRepo struct{ s *MemoryStore }

func (r *memBroadcastRepo) ByID(ctx context.Context, id uint) (*models.Broadcast, error) {
	return r.s.Broadcast(id), nil
}

func (r *memBroadcastRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.broadcasts {
		if b.UUID == id {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func matchBroadcast(b *models.Broadcast, f models.BroadcastFilter) bool {
	switch {
	case f.ID != nil && b.ID != *f.ID:
		return false
	case f.UUID != nil && b.UUID != *f.UUID:
		return false
	case f.Name != nil && b.Name != *f.Name:
		return false
	case f.Status != nil && b.Status != *f.Status:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status):
		return false
	case f.IDAfter != nil && b.ID <= *f.IDAfter:
		return false
	case f.ScheduledBefore != nil && (b.ScheduledAt == nil || b.ScheduledAt.After(*f.ScheduledBefore)):
		return false
	case f.CreatedAfter != nil && !b.CreatedAt.After(*f.CreatedAfter):
		return false
	case f.CreatedBefore != nil && !b.CreatedAt.Before(*f.CreatedBefore):
		return false
	}
	return true
}

func (r *memBroadcastRepo) filtered(f models.BroadcastFilter) []*models.Broadcast {
	var out []*models.Broadcast
	for _, b := range r.s.broadcasts {
		if matchBroadcast(b, f) {
			cp := *b
			out = append(out, &cp)
		}
	}
	// newest first, like the default "created_at DESC"
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// ByFilter honours "id ASC"; every other order is newest first
func (r *memBroadcastRepo) ByFilter(ctx context.Context, filter models.BroadcastFilter, orderBy string, limit, offset int) ([]*models.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.filtered(filter)
	if orderBy == "id ASC" {
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	}
	return page(rows, limit, offset), nil
}

func (r *memBroadcastRepo) Count(ctx context.Context, filter models.BroadcastFilter) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.filtered(filter))), nil
}

func (r *memBroadcastRepo) Exists(ctx context.Context, filter models.BroadcastFilter) (bool, error) {
	n, err := r.Count(ctx, filter)
	return n > 0, err
}

func (r *memBroadcastRepo) Save(ctx context.Context, b *models.Broadcast) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.Status.Valid() {
		return fmt.Errorf("failed to save entity: invalid BroadcastStatus: %s", b.Status)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextBroadcastID++
	b.ID = r.s.nextBroadcastID
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	now := utils.UTCNow()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	cp := *b
	r.s.broadcasts[b.ID] = &cp
	return nil
}

func (r *memBroadcastRepo) SaveBatch(ctx context.Context, entities []*models.Broadcast) error {
	for _, b := range entities {
		if err := r.Save(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (r *memBroadcastRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Broadcast
	for _, b := range r.s.broadcasts {
		if b.Status == models.BroadcastStatusScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return page(out, limit, 0), nil
}

// applyFields mirrors the column updates the SQL repository performs
func applyBroadcastFields(b *models.Broadcast, fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "started_at":
			b.StartedAt = timePtr(v)
		case "completed_at":
			b.CompletedAt = timePtr(v)
		case "failure_code":
			b.FailureCode = stringPtr(v)
		case "failure_reason":
			b.FailureReason = stringPtr(v)
		}
	}
}

func timePtr(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

func stringPtr(v any) *string {
	switch t := v.(type) {
	case string:
		return &t
	case *string:
		return t
	}
	return nil
}

func (r *memBroadcastRepo) TransitionStatus(ctx context.Context, id uint, from []models.BroadcastStatus, to models.BroadcastStatus, fields map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok || !slices.Contains(from, b.Status) {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = utils.UTCNow()
	applyBroadcastFields(b, fields)
	return true, nil
}

func (r *memBroadcastRepo) IncrementCounters(ctx context.Context, id uint, delta models.BroadcastCounterDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.bumpCounters(id, delta)
}

func (s *MemoryStore) bumpCounters(id uint, d models.BroadcastCounterDelta) error {
	if d.Sent < 0 || d.Delivered < 0 || d.Read < 0 || d.Replied < 0 || d.Failed < 0 {
		return errors.New("counter deltas must not be negative")
	}
	b, ok := s.broadcasts[id]
	if !ok {
		return nil
	}
	b.SentCount += d.Sent
	b.DeliveredCount += d.Delivered
	b.ReadCount += d.Read
	b.RepliedCount += d.Replied
	b.FailedCount += d.Failed
	return nil
}

// ---------------------------------------------------------------------------
// batches

type memBatchRepo struct{ s *MemoryStore }

func (r *memBatchRepo) ListByBroadcast(ctx context.Context, broadcastID uint) ([]*models.BroadcastBatch, error) {
	var out []*models.BroadcastBatch
	for _, b := range r.s.BatchesOf(broadcastID) {
		b := b
		out = append(out, &b)
	}
	return out, nil
}

func (r *memBatchRepo) SavePartition(ctx context.Context, batch *models.BroadcastBatch, recipients []*models.BroadcastContact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.savePartitionCalls++
	if r.s.FailSavePartition != nil && r.s.savePartitionCalls == r.s.FailSavePartitionAt {
		return r.s.FailSavePartition
	}

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = models.BroadcastBatchStatusPending
	}
	batch.ScheduledCount = len(recipients)
	batch.CreatedAt = utils.UTCNow()
	cp := *batch
	r.s.batches = append(r.s.batches, &cp)

	for _, rc := range recipients {
		r.s.nextRecipientID++
		rc.ID = r.s.nextRecipientID
		rc.BatchID = batch.ID
		rc.BroadcastID = batch.BroadcastID
		rc.CreatedAt = batch.CreatedAt
		rcp := *rc
		r.s.recipients = append(r.s.recipients, &rcp)
	}
	if b, ok := r.s.broadcasts[batch.BroadcastID]; ok {
		b.ScheduledCount += int64(len(recipients))
	}
	return nil
}

func (r *memBatchRepo) ClaimNext(ctx context.Context, broadcastID uint, workerID string, leaseTTL time.Duration) (*models.BroadcastBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := utils.UTCNow()
	for _, b := range r.s.batches {
		if b.BroadcastID != broadcastID || !b.IsClaimable(now, leaseTTL) {
			continue
		}
		b.Status = models.BroadcastBatchStatusClaimed
		b.ClaimedBy = &workerID
		b.ClaimedAt = &now
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (r *memBatchRepo) owned(batchID uuid.UUID, workerID string) *models.BroadcastBatch {
	for _, b := range r.s.batches {
		if b.ID == batchID && b.Status == models.BroadcastBatchStatusClaimed && b.ClaimedBy != nil && *b.ClaimedBy == workerID {
			return b
		}
	}
	return nil
}

func (r *memBatchRepo) RenewLease(ctx context.Context, batchID uuid.UUID, workerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b := r.owned(batchID, workerID)
	if b == nil {
		return false, nil
	}
	now := utils.UTCNow()
	b.ClaimedAt = &now
	return true, nil
}

func (r *memBatchRepo) MarkCompleted(ctx context.Context, batchID uuid.UUID, workerID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b := r.owned(batchID, workerID)
	if b == nil {
		return false, nil
	}
	now := utils.UTCNow()
	b.Status = models.BroadcastBatchStatusCompleted
	b.CompletedAt = &now
	return true, nil
}

func (r *memBatchRepo) CountClaimable(ctx context.Context, broadcastID uint, leaseTTL time.Duration) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := utils.UTCNow()
	var n int64
	for _, b := range r.s.batches {
		if b.BroadcastID == broadcastID && b.IsClaimable(now, leaseTTL) {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// recipients

type memRecipientRepo struct{ s *MemoryStore }

func matchRecipient(rc *models.BroadcastContact, f models.BroadcastContactFilter) bool {
	switch {
	case f.ID != nil && rc.ID != *f.ID:
		return false
	case f.BroadcastID != nil && rc.BroadcastID != *f.BroadcastID:
		return false
	case f.BatchID != nil && rc.BatchID != *f.BatchID:
		return false
	case f.ContactID != nil && rc.ContactID != *f.ContactID:
		return false
	case f.ProviderMessageID != nil && (rc.ProviderMessageID == nil || *rc.ProviderMessageID != *f.ProviderMessageID):
		return false
	case f.Unresolved != nil && rc.HasOutcome() == *f.Unresolved:
		return false
	}
	return true
}

func (r *memRecipientRepo) filtered(f models.BroadcastContactFilter) []*models.BroadcastContact {
	var out []*models.BroadcastContact
	for _, rc := range r.s.recipients {
		if matchRecipient(rc, f) {
			cp := *rc
			out = append(out, &cp)
		}
	}
	return out
}

func (r *memRecipientRepo) ByID(ctx context.Context, id uint) (*models.BroadcastContact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.filtered(models.BroadcastContactFilter{ID: &id})
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ByFilter honours "id DESC"; every other order falls back to id ascending
func (r *memRecipientRepo) ByFilter(ctx context.Context, filter models.BroadcastContactFilter, orderBy string, limit, offset int) ([]*models.BroadcastContact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.filtered(filter)
	if orderBy == "id DESC" {
		slices.Reverse(rows)
	}
	return page(rows, limit, offset), nil
}

func (r *memRecipientRepo) Save(ctx context.Context, rc *models.BroadcastContact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextRecipientID++
	rc.ID = r.s.nextRecipientID
	rc.CreatedAt = utils.UTCNow()
	cp := *rc
	r.s.recipients = append(r.s.recipients, &cp)
	return nil
}

func (r *memRecipientRepo) SaveBatch(ctx context.Context, entities []*models.BroadcastContact) error {
	for _, rc := range entities {
		if err := r.Save(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

func (r *memRecipientRepo) Count(ctx context.Context, filter models.BroadcastContactFilter) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.filtered(filter))), nil
}

func (r *memRecipientRepo) Exists(ctx context.Context, filter models.BroadcastContactFilter) (bool, error) {
	n, err := r.Count(ctx, filter)
	return n > 0, err
}

func (r *memRecipientRepo) ListPendingByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.BroadcastContact, error) {
	unresolved := true
	return r.ByFilter(ctx, models.BroadcastContactFilter{BatchID: &batchID, Unresolved: &unresolved}, "", 0, 0)
}

func (r *memRecipientRepo) find(id uint) *models.BroadcastContact {
	for _, rc := range r.s.recipients {
		if rc.ID == id {
			return rc
		}
	}
	return nil
}

func (r *memRecipientRepo) ClaimForSend(ctx context.Context, recipient *models.BroadcastContact, workerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc := r.find(recipient.ID)
	if rc == nil || rc.HasOutcome() || rc.SendingAt != nil {
		return false, nil
	}
	now := utils.UTCNow()
	rc.SendingBy = &workerID
	rc.SendingAt = &now
	return true, nil
}

func (r *memRecipientRepo) MarkSent(ctx context.Context, recipient *models.BroadcastContact, providerMessageID string, attempts int, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc := r.find(recipient.ID)
	if rc == nil || rc.HasOutcome() {
		return false, nil
	}
	rc.SentAt = &at
	rc.ProviderMessageID = &providerMessageID
	rc.SendAttempts = attempts
	return true, r.s.bumpCounters(rc.BroadcastID, models.BroadcastCounterDelta{Sent: 1})
}

func (r *memRecipientRepo) MarkFailed(ctx context.Context, recipient *models.BroadcastContact, reason string, attempts int, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc := r.find(recipient.ID)
	if rc == nil || rc.HasOutcome() {
		return false, nil
	}
	rc.FailedAt = &at
	rc.FailureReason = &reason
	rc.SendAttempts = attempts
	return true, r.s.bumpCounters(rc.BroadcastID, models.BroadcastCounterDelta{Failed: 1})
}

func (r *memRecipientRepo) CountUnresolved(ctx context.Context, broadcastID uint) (int64, error) {
	unresolved := true
	return r.Count(ctx, models.BroadcastContactFilter{BroadcastID: &broadcastID, Unresolved: &unresolved})
}

func (r *memRecipientRepo) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.BroadcastContact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.filtered(models.BroadcastContactFilter{ProviderMessageID: &providerMessageID})
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *memRecipientRepo) MarkDeliveryEvent(ctx context.Context, recipient *models.BroadcastContact, event models.DeliveryEvent, at time.Time, reason string) (bool, error) {
	if _, ok := event.Column(); !ok {
		return false, fmt.Errorf("unsupported delivery event %q", event)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc := r.find(recipient.ID)
	if rc == nil {
		return false, nil
	}
	var slot **time.Time
	switch event {
	case models.DeliveryEventDelivered:
		slot = &rc.DeliveredAt
	case models.DeliveryEventRead:
		slot = &rc.ReadAt
	case models.DeliveryEventReplied:
		slot = &rc.RepliedAt
	case models.DeliveryEventFailed:
		slot = &rc.FailedAt
	}
	if *slot != nil {
		return false, nil
	}
	*slot = &at
	if event == models.DeliveryEventFailed && reason != "" {
		rc.FailureReason = &reason
	}
	return true, r.s.bumpCounters(rc.BroadcastID, event.CounterDelta())
}

// ---------------------------------------------------------------------------
// scheduled messages

type memScheduledMessageRepo struct{ s *MemoryStore }

func matchMessage(m *models.ScheduledMessage, f models.ScheduledMessageFilter) bool {
	switch {
	case f.ID != nil && m.ID != *f.ID:
		return false
	case f.UUID != nil && m.UUID != *f.UUID:
		return false
	case f.To != nil && m.To != *f.To:
		return false
	case f.Status != nil && m.Status != *f.Status:
		return false
	}
	return true
}

func (r *memScheduledMessageRepo) filtered(f models.ScheduledMessageFilter) []*models.ScheduledMessage {
	var out []*models.ScheduledMessage
	for _, m := range r.s.messages {
		if matchMessage(m, f) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *memScheduledMessageRepo) ByID(ctx context.Context, id uint) (*models.ScheduledMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.messages[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (r *memScheduledMessageRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.filtered(models.ScheduledMessageFilter{UUID: &id})
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *memScheduledMessageRepo) ByFilter(ctx context.Context, filter models.ScheduledMessageFilter, orderBy string, limit, offset int) ([]*models.ScheduledMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return page(r.filtered(filter), limit, offset), nil
}

func (r *memScheduledMessageRepo) Save(ctx context.Context, m *models.ScheduledMessage) error {
	if !m.MessageType.Valid() {
		return fmt.Errorf("failed to save entity: invalid message type %q", m.MessageType)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextMessageID++
	m.ID = r.s.nextMessageID
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = m.ScheduledAt
	}
	if m.Status == "" {
		m.Status = models.ScheduledMessageStatusPending
	}
	now := utils.UTCNow()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	r.s.messages[m.ID] = &cp
	return nil
}

func (r *memScheduledMessageRepo) SaveBatch(ctx context.Context, entities []*models.ScheduledMessage) error {
	for _, m := range entities {
		if err := r.Save(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *memScheduledMessageRepo) Count(ctx context.Context, filter models.ScheduledMessageFilter) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.filtered(filter))), nil
}

func (r *memScheduledMessageRepo) Exists(ctx context.Context, filter models.ScheduledMessageFilter) (bool, error) {
	n, err := r.Count(ctx, filter)
	return n > 0, err
}

func (r *memScheduledMessageRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ScheduledMessage
	for _, m := range r.s.messages {
		if m.Status == models.ScheduledMessageStatusPending && !m.NextAttemptAt.After(now) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return page(out, limit, 0), nil
}

func (r *memScheduledMessageRepo) ListStuckSending(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ScheduledMessage
	for _, m := range r.s.messages {
		if m.Status == models.ScheduledMessageStatusSending && m.UpdatedAt.Before(before) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), nil
}

func (r *memScheduledMessageRepo) TransitionStatus(ctx context.Context, id uint, from, to models.ScheduledMessageStatus, fields map[string]any) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailMessageTransition != nil && r.s.FailMessageTransitionTo == to {
		return false, r.s.FailMessageTransition
	}
	m, ok := r.s.messages[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	m.UpdatedAt = utils.UTCNow()
	for k, v := range fields {
		switch k {
		case "sent_at":
			m.SentAt = timePtr(v)
		case "wam_id":
			m.WamID = stringPtr(v)
		case "error_message":
			m.ErrorMessage = stringPtr(v)
		case "retry_count":
			m.RetryCount = v.(int)
		case "next_attempt_at":
			if t := timePtr(v); t != nil {
				m.NextAttemptAt = *t
			}
		}
	}
	return true, nil
}

var (
	_ repository.ContactRepository          = (*memContactRepo)(nil)
	_ repository.BroadcastRepository        = (*memBroadcastRepo)(nil)
	_ repository.BroadcastBatchRepository   = (*memBatchRepo)(nil)
	_ repository.BroadcastContactRepository = (*memRecipientRepo)(nil)
	_ repository.ScheduledMessageRepository = (*memScheduledMessageRepo)(nil)
)
