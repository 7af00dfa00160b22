package businessflow

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/dispatch"
	"github.com/amirphl/whatsapp-broadcast/app/dto"
	"github.com/amirphl/whatsapp-broadcast/app/services"
	"github.com/amirphl/whatsapp-broadcast/models"
	testingutil "github.com/amirphl/whatsapp-broadcast/testing"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var quietLogger = log.New(io.Discard, "", 0)

type broadcastFixture struct {
	store *testingutil.MemoryStore
	mock  *services.MockWhatsAppService
	queue *dispatch.MemoryQueue
	flow  BroadcastFlow
}

func newBroadcastFixture(t *testing.T) *broadcastFixture {
	t.Helper()
	store := testingutil.NewMemoryStore()
	mock := services.NewMockWhatsAppService(services.MessageTemplate{Name: "promo", Language: "en"})
	queue := dispatch.NewMemoryQueue(64)

	partitioner := NewBatchPartitioner(NewAudienceResolver(store.Contacts(), utils.ProcessingLimit), store.Batches())
	flow := NewBroadcastFlow(store.Broadcasts(), store.Batches(), store.Recipients(), partitioner, mock,
		dispatch.NewCoordinator(queue, utils.ParallelBatchCount, quietLogger),
		BroadcastFlowConfig{DueBroadcastLimit: utils.DueBroadcastSweepLimit, LeaseTTL: time.Minute})

	return &broadcastFixture{store: store, mock: mock, queue: queue, flow: flow}
}

// drain runs a batch worker for every queued task
func (fx *broadcastFixture) drain(t *testing.T) {
	t.Helper()
	worker := dispatch.NewBatchWorker(fx.store.Broadcasts(), fx.store.Batches(), fx.store.Recipients(), fx.mock,
		dispatch.WorkerConfig{LeaseTTL: time.Minute, MaxSendAttempts: 1}, quietLogger)
	for fx.queue.Len() > 0 {
		task, err := fx.queue.Dequeue(context.Background(), time.Second)
		require.NoError(t, err)
		require.NotNil(t, task)
		_, err = worker.Run(context.Background(), *task)
		require.NoError(t, err)
	}
}

func (fx *broadcastFixture) onlyBroadcast(t *testing.T) *models.Broadcast {
	t.Helper()
	rows, err := fx.store.Broadcasts().ByFilter(context.Background(), models.BroadcastFilter{}, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

// saveBroadcast stores a broadcast directly and partitions it into batches of batchSize contacts
func (fx *broadcastFixture) saveBroadcast(t *testing.T, b *models.Broadcast, audience, batchSize int) *models.Broadcast {
	t.Helper()
	ctx := context.Background()
	if b.Name == "" {
		b.Name, b.TemplateName, b.Language = "Promo", "promo", "en"
		b.ContactTags = []string{"vip"}
	}
	require.NoError(t, fx.store.Broadcasts().Save(ctx, b))

	for start := 0; start < audience; start += batchSize {
		var page []*models.BroadcastContact
		for i := start; i < min(start+batchSize, audience); i++ {
			page = append(page, &models.BroadcastContact{ContactID: int64(5000 + i)})
		}
		require.NoError(t, fx.store.Batches().SavePartition(ctx, &models.BroadcastBatch{BroadcastID: b.ID}, page))
	}
	return fx.store.Broadcast(b.ID)
}

func TestCreateBroadcast(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate broadcast is partitioned into full pages and dispatched", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		fx.store.SeedTaggedContacts(1, 2500, "vip")
		fx.store.SeedTaggedContacts(10000, 40, "churned")

		resp, err := fx.flow.CreateBroadcast(ctx, &dto.CreateBroadcastRequest{
			Name: "Spring sale", TemplateName: "promo", Language: "en", ContactTags: []string{"vip"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Bulk send initiated successfully", resp.Message)
		assert.Equal(t, "immediate", resp.Status)
		assert.EqualValues(t, 2500, resp.ContactsScheduled)
		assert.Equal(t, 3, resp.Batches)
		assert.Equal(t, 3, resp.WorkersStarted)
		assert.Equal(t, 3, fx.queue.Len())

		b := fx.onlyBroadcast(t)
		assert.Equal(t, resp.UUID, b.UUID.String())
		assert.Nil(t, b.ScheduledAt)
		assert.NotNil(t, b.StartedAt)
		assert.EqualValues(t, 2500, b.ScheduledCount)

		batches := fx.store.BatchesOf(b.ID)
		require.Len(t, batches, 3)
		assert.Equal(t, 1000, batches[0].ScheduledCount)
		assert.Equal(t, 1000, batches[1].ScheduledCount)
		assert.Equal(t, 500, batches[2].ScheduledCount)

		recipients := fx.store.RecipientsOf(b.ID)
		require.Len(t, recipients, 2500)
		seen := make(map[int64]bool)
		for _, rc := range recipients {
			assert.False(t, seen[rc.ContactID], "contact %d partitioned twice", rc.ContactID)
			seen[rc.ContactID] = true
			assert.Less(t, rc.ContactID, int64(10000))
		}

		fx.drain(t)
		got := fx.store.Broadcast(b.ID)
		assert.Equal(t, models.BroadcastStatusCompleted, got.Status)
		assert.EqualValues(t, 2500, got.SentCount)
		assert.Len(t, fx.mock.GetSentMessages(), 2500)
	})

	t.Run("tags are matched with OR", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		fx.store.AddContacts(
			models.Contact{WaID: 1, Tags: []string{"a"}},
			models.Contact{WaID: 2, Tags: []string{"b"}},
			models.Contact{WaID: 3, Tags: []string{"a", "b"}},
			models.Contact{WaID: 4, Tags: []string{"c"}},
		)

		resp, err := fx.flow.CreateBroadcast(ctx, &dto.CreateBroadcastRequest{
			Name: "OR", TemplateName: "promo", Language: "en", ContactTags: []string{"a", "b", " a "},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, resp.ContactsScheduled)
		assert.Equal(t, 1, resp.WorkersStarted)
		assert.Equal(t, []string{"a", "b"}, []string(fx.onlyBroadcast(t).ContactTags))
	})

	t.Run("exactly one full page yields one batch", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		fx.store.SeedTaggedContacts(1, 1000, "vip")

		resp, err := fx.flow.CreateBroadcast(ctx, &dto.CreateBroadcastRequest{
			Name: "Page", TemplateName: "promo", Language: "en", ContactTags: []string{"vip"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Batches)
		assert.EqualValues(t, 1000, resp.ContactsScheduled)
	})

	t.Run("empty audience fails the broadcast", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		fx.store.SeedTaggedContacts(1, 10, "vip")

		_, err := fx.flow.CreateBroadcast(ctx, &dto.CreateBroadcastRequest{
			Name: "Nobody", TemplateName: "promo", Language: "en", ContactTags: []string{"does-not-exist"},
		})
		require.Error(t, err)
		assert.True(t, IsEmptyAudience(err))
		var be *BusinessError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "EMPTY_AUDIENCE", be.Code)

		b := fx.onlyBroadcast(t)
		assert.Equal(t, models.BroadcastStatusFailed, b.Status)
		require.NotNil(t, b.FailureCode)
		assert.Equal(t, FailureCodeEmptyAudience, *b.FailureCode)
		assert.Empty(t, fx.store.BatchesOf(b.ID))
		assert.Equal(t, 0, fx.queue.Len())
		assert.Equal(t, 0, fx.mock.TemplateLookups())
	})

	t.Run("missing template fails the broadcast", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		fx.store.SeedTaggedContacts(1, 10, "vip")

		_, err := fx.flow.CreateBroadcast(ctx, &dto.CreateBroadcastRequest{
			Name: "Unknown template", TemplateName: "nope", Language: "en", ContactTags: []string{"vip"},
		})
		require.Error(t, err)
		assert.True(t, IsTemplateUnavailable(err))
		assert.True(t, errors.Is(err, services.ErrTemplateNotFound))

		b := fx.onlyBroadcast(t)
		assert.Equal(t, models.BroadcastStatusFailed, b.Status)
		require.NotNil(t, b.FailureCode)
		assert.Equal(t, FailureCodeTemplateNotFound, *b.FailureCode)
		assert.Equal(t, 0, fx.queue.Len())
		assert.Empty(t, fx.mock.GetSentMessages())
	})

	t.Run("partition failure fails the broadcast", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		fx.store.SeedTaggedContacts(1, 1500, "vip")
		fx.store.FailSavePartition = errors.New("connection reset")
		fx.store.FailSavePartitionAt = 2

		_, err := fx.flow.CreateBroadcast(ctx, &dto.CreateBroadcastRequest{
			Name: "Broken", TemplateName: "promo", Language: "en", ContactTags: []string{"vip"},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPartitionFailed))

		b := fx.onlyBroadcast(t)
		assert.Equal(t, models.BroadcastStatusFailed, b.Status)
		require.NotNil(t, b.FailureReason)
		assert.Contains(t, *b.FailureReason, "connection reset")
		assert.Equal(t, 0, fx.queue.Len())
	})

	t.Run("scheduled broadcast is partitioned but not dispatched", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		fx.store.SeedTaggedContacts(1, 1200, "vip")
		at := utils.UTCNow().Add(time.Hour)

		resp, err := fx.flow.CreateBroadcast(ctx, &dto.CreateBroadcastRequest{
			Name: "Later", TemplateName: "promo", Language: "en", ContactTags: []string{"vip"}, ScheduledAt: &at,
		})
		require.NoError(t, err)
		assert.Equal(t, "scheduled", resp.Status)
		assert.Equal(t, 2, resp.Batches)
		assert.Equal(t, 0, resp.WorkersStarted)
		require.NotNil(t, resp.ScheduledAt)
		assert.True(t, resp.ScheduledAt.Equal(at))

		b := fx.onlyBroadcast(t)
		assert.Equal(t, models.BroadcastStatusScheduled, b.Status)
		assert.Nil(t, b.StartedAt)
		assert.EqualValues(t, 1200, b.ScheduledCount)
		assert.Equal(t, 0, fx.queue.Len())
		assert.Equal(t, 0, fx.mock.TemplateLookups())
	})

	t.Run("invalid requests are rejected before anything is stored", func(t *testing.T) {
		past := utils.UTCNow().Add(-time.Minute)
		tests := []struct {
			name string
			req  dto.CreateBroadcastRequest
			want error
		}{
			{"missing name", dto.CreateBroadcastRequest{TemplateName: "promo", Language: "en", ContactTags: []string{"vip"}}, ErrBroadcastNameRequired},
			{"missing template", dto.CreateBroadcastRequest{Name: "x", Language: "en", ContactTags: []string{"vip"}}, ErrTemplateNameRequired},
			{"missing language", dto.CreateBroadcastRequest{Name: "x", TemplateName: "promo", ContactTags: []string{"vip"}}, ErrLanguageRequired},
			{"no tags", dto.CreateBroadcastRequest{Name: "x", TemplateName: "promo", Language: "en"}, ErrContactTagsRequired},
			{"blank tags", dto.CreateBroadcastRequest{Name: "x", TemplateName: "promo", Language: "en", ContactTags: []string{" ", ""}}, ErrContactTagsRequired},
			{"past schedule", dto.CreateBroadcastRequest{Name: "x", TemplateName: "promo", Language: "en", ContactTags: []string{"vip"}, ScheduledAt: &past}, ErrScheduledAtNotInFuture},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fx := newBroadcastFixture(t)
				fx.store.SeedTaggedContacts(1, 5, "vip")

				_, err := fx.flow.CreateBroadcast(ctx, &tt.req)
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.want))
				assert.True(t, IsValidationError(err))

				n, err := fx.store.Broadcasts().Count(ctx, models.BroadcastFilter{})
				require.NoError(t, err)
				assert.Zero(t, n)
			})
		}
	})
}

func TestSweepScheduledBroadcasts(t *testing.T) {
	ctx := context.Background()

	t.Run("promotes due broadcasts and reuses their batches", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		due := utils.UTCNow().Add(-time.Minute)
		b := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusScheduled, ScheduledAt: &due}, 25, 10)
		future := utils.UTCNow().Add(time.Hour)
		later := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusScheduled, ScheduledAt: &future}, 5, 10)

		res, err := fx.flow.SweepScheduledBroadcasts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Processed)
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 0, res.Failed)

		got := fx.store.Broadcast(b.ID)
		assert.Equal(t, models.BroadcastStatusProcessing, got.Status)
		assert.NotNil(t, got.StartedAt)
		assert.Len(t, fx.store.BatchesOf(b.ID), 3)
		assert.EqualValues(t, 25, got.ScheduledCount)
		assert.Equal(t, 3, fx.queue.Len())
		assert.Equal(t, models.BroadcastStatusScheduled, fx.store.Broadcast(later.ID).Status)

		fx.drain(t)
		got = fx.store.Broadcast(b.ID)
		assert.Equal(t, models.BroadcastStatusCompleted, got.Status)
		assert.EqualValues(t, 25, got.SentCount)
	})

	t.Run("partitions a due broadcast that has no batches yet", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		fx.store.SeedTaggedContacts(1, 12, "vip")
		due := utils.UTCNow().Add(-time.Second)
		b := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusScheduled, ScheduledAt: &due}, 0, 10)

		res, err := fx.flow.SweepScheduledBroadcasts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Succeeded)
		assert.Len(t, fx.store.BatchesOf(b.ID), 1)
		assert.EqualValues(t, 12, fx.store.Broadcast(b.ID).ScheduledCount)
	})

	t.Run("due broadcast with an empty audience fails", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		due := utils.UTCNow().Add(-time.Second)
		b := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusScheduled, ScheduledAt: &due}, 0, 10)

		res, err := fx.flow.SweepScheduledBroadcasts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		got := fx.store.Broadcast(b.ID)
		assert.Equal(t, models.BroadcastStatusFailed, got.Status)
		require.NotNil(t, got.FailureCode)
		assert.Equal(t, FailureCodeEmptyAudience, *got.FailureCode)
	})

	t.Run("template failure fails the promoted broadcast", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		due := utils.UTCNow().Add(-time.Second)
		b := fx.saveBroadcast(t, &models.Broadcast{
			Name: "x", TemplateName: "retired", Language: "en", ContactTags: []string{"vip"},
			Status: models.BroadcastStatusScheduled, ScheduledAt: &due,
		}, 5, 10)

		res, err := fx.flow.SweepScheduledBroadcasts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, models.BroadcastStatusFailed, fx.store.Broadcast(b.ID).Status)
		assert.Equal(t, 0, fx.queue.Len())
	})

	t.Run("concurrent sweeps promote a broadcast once", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		due := utils.UTCNow().Add(-time.Minute)
		b := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusScheduled, ScheduledAt: &due}, 50, 10)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := fx.flow.SweepScheduledBroadcasts(ctx)
				assert.NoError(t, err)
				mu.Lock()
				succeeded += res.Succeeded
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Len(t, fx.store.BatchesOf(b.ID), 5)
		assert.Equal(t, utils.ParallelBatchCount, fx.queue.Len())
		assert.Equal(t, models.BroadcastStatusProcessing, fx.store.Broadcast(b.ID).Status)
	})

	t.Run("completes a drained processing broadcast", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		b := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusProcessing, StartedAt: utils.UTCNowPtr()}, 3, 10)
		for _, rc := range fx.store.RecipientsOf(b.ID) {
			_, err := fx.store.Recipients().MarkSent(ctx, &rc, "wamid.x", 1, utils.UTCNow())
			require.NoError(t, err)
		}
		claimed, err := fx.store.Batches().ClaimNext(ctx, b.ID, "crashed-worker", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		ok, err := fx.store.Batches().MarkCompleted(ctx, claimed.ID, "crashed-worker")
		require.NoError(t, err)
		require.True(t, ok)

		res, err := fx.flow.SweepScheduledBroadcasts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Completed)
		got := fx.store.Broadcast(b.ID)
		assert.Equal(t, models.BroadcastStatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("pages through every in-flight broadcast", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		flow := NewBroadcastFlow(fx.store.Broadcasts(), fx.store.Batches(), fx.store.Recipients(),
			NewBatchPartitioner(NewAudienceResolver(fx.store.Contacts(), utils.ProcessingLimit), fx.store.Batches()), fx.mock,
			dispatch.NewCoordinator(fx.queue, utils.ParallelBatchCount, quietLogger),
			BroadcastFlowConfig{DueBroadcastLimit: utils.DueBroadcastSweepLimit, InFlightPageSize: 2, LeaseTTL: time.Minute})

		var ids []uint
		for i := 0; i < 5; i++ {
			b := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusProcessing, StartedAt: utils.UTCNowPtr()}, 1, 10)
			for _, rc := range fx.store.RecipientsOf(b.ID) {
				_, err := fx.store.Recipients().MarkSent(ctx, &rc, "wamid.x", 1, utils.UTCNow())
				require.NoError(t, err)
			}
			claimed, err := fx.store.Batches().ClaimNext(ctx, b.ID, "worker", time.Minute)
			require.NoError(t, err)
			require.NotNil(t, claimed)
			ok, err := fx.store.Batches().MarkCompleted(ctx, claimed.ID, "worker")
			require.NoError(t, err)
			require.True(t, ok)
			ids = append(ids, b.ID)
		}

		res, err := flow.SweepScheduledBroadcasts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, res.Completed)
		for _, id := range ids {
			assert.Equal(t, models.BroadcastStatusCompleted, fx.store.Broadcast(id).Status)
		}
	})

	t.Run("resumes a stale broadcast with claimable batches", func(t *testing.T) {
		fx := newBroadcastFixture(t)
		startedAt := utils.UTCNow().Add(-time.Hour)
		b := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusProcessing, StartedAt: &startedAt}, 30, 10)
		fresh := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusProcessing, StartedAt: utils.UTCNowPtr()}, 30, 10)

		res, err := fx.flow.SweepScheduledBroadcasts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Resumed)
		require.Equal(t, 3, fx.queue.Len())

		task, err := fx.queue.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, b.ID, task.BroadcastID)
		assert.Equal(t, "promo", task.Template.Name)
		assert.Equal(t, models.BroadcastStatusProcessing, fx.store.Broadcast(fresh.ID).Status)
	})
}

func TestCancelBroadcast(t *testing.T) {
	ctx := context.Background()
	fx := newBroadcastFixture(t)
	future := utils.UTCNow().Add(time.Hour)
	scheduled := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusScheduled, ScheduledAt: &future}, 5, 10)
	processing := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusProcessing}, 5, 10)

	t.Run("scheduled broadcast is cancelled", func(t *testing.T) {
		resp, err := fx.flow.CancelBroadcast(ctx, scheduled.UUID.String())
		require.NoError(t, err)
		assert.Equal(t, "cancelled", resp.Status)
		assert.Equal(t, models.BroadcastStatusCancelled, fx.store.Broadcast(scheduled.ID).Status)

		_, err = fx.flow.CancelBroadcast(ctx, scheduled.UUID.String())
		assert.True(t, IsBroadcastNotCancellable(err))
	})

	t.Run("processing broadcast cannot be cancelled", func(t *testing.T) {
		_, err := fx.flow.CancelBroadcast(ctx, processing.UUID.String())
		require.Error(t, err)
		assert.True(t, IsBroadcastNotCancellable(err))
		assert.Equal(t, models.BroadcastStatusProcessing, fx.store.Broadcast(processing.ID).Status)
	})

	t.Run("unknown and malformed ids", func(t *testing.T) {
		_, err := fx.flow.CancelBroadcast(ctx, "3f1c1c47-5b8e-4d0c-9a55-2f3b0b8a8e11")
		assert.True(t, IsBroadcastNotFound(err))

		_, err = fx.flow.CancelBroadcast(ctx, "not-a-uuid")
		assert.True(t, errors.Is(err, ErrInvalidBroadcastUUID))
	})

	t.Run("cancelled broadcast is never promoted", func(t *testing.T) {
		res, err := fx.flow.SweepScheduledBroadcasts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Processed)
		assert.Equal(t, models.BroadcastStatusCancelled, fx.store.Broadcast(scheduled.ID).Status)
	})
}

func TestBroadcastQueries(t *testing.T) {
	ctx := context.Background()
	fx := newBroadcastFixture(t)

	var last *models.Broadcast
	for i := 0; i < 7; i++ {
		last = fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusProcessing}, 12, 5)
	}
	done := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusCompleted}, 1, 5)

	recipients := fx.store.RecipientsOf(last.ID)
	_, err := fx.store.Recipients().MarkSent(ctx, &recipients[0], "wamid.1", 1, utils.UTCNow())
	require.NoError(t, err)
	_, err = fx.store.Recipients().MarkFailed(ctx, &recipients[1], "invalid number", 1, utils.UTCNow())
	require.NoError(t, err)

	t.Run("get", func(t *testing.T) {
		got, err := fx.flow.GetBroadcast(ctx, last.UUID.String())
		require.NoError(t, err)
		assert.Equal(t, "processing", got.Status)
		assert.EqualValues(t, 12, got.ScheduledCount)
		assert.EqualValues(t, 1, got.SentCount)
		assert.EqualValues(t, 1, got.FailedCount)
	})

	t.Run("list pages and filters", func(t *testing.T) {
		page, err := fx.flow.ListBroadcasts(ctx, &dto.ListBroadcastsRequest{Page: 2, PageSize: 3})
		require.NoError(t, err)
		assert.Len(t, page.Items, 3)
		assert.EqualValues(t, 8, page.Pagination.Total)
		assert.Equal(t, 3, page.Pagination.TotalPages)
		assert.Equal(t, 2, page.Pagination.Page)

		status := "completed"
		filtered, err := fx.flow.ListBroadcasts(ctx, &dto.ListBroadcastsRequest{Status: &status})
		require.NoError(t, err)
		require.Len(t, filtered.Items, 1)
		assert.Equal(t, done.UUID.String(), filtered.Items[0].UUID)

		bad := "paused"
		_, err = fx.flow.ListBroadcasts(ctx, &dto.ListBroadcastsRequest{Status: &bad})
		assert.True(t, errors.Is(err, ErrInvalidBroadcastStatus))

		_, err = fx.flow.ListBroadcasts(ctx, &dto.ListBroadcastsRequest{PageSize: 1000})
		assert.True(t, errors.Is(err, ErrInvalidPageSize))
	})

	t.Run("recipients with display status", func(t *testing.T) {
		page, err := fx.flow.ListRecipients(ctx, &dto.ListRecipientsRequest{UUID: last.UUID.String(), Page: 1, PageSize: 10})
		require.NoError(t, err)
		require.Len(t, page.Items, 10)
		assert.EqualValues(t, 12, page.Pagination.Total)
		assert.Equal(t, "sent", page.Items[0].Status)
		assert.Equal(t, "failed", page.Items[1].Status)
		assert.Equal(t, "pending", page.Items[2].Status)

		count, err := fx.flow.CountRecipients(ctx, last.UUID.String())
		require.NoError(t, err)
		assert.EqualValues(t, 12, count.Total)
		assert.EqualValues(t, 10, count.Unresolved)
	})

	t.Run("status report", func(t *testing.T) {
		report, err := fx.flow.BroadcastStatusReport(ctx)
		require.NoError(t, err)
		require.Len(t, report.Broadcasts, 5)
		assert.Equal(t, done.UUID.String(), report.Broadcasts[0].Broadcast.UUID)
		assert.Len(t, report.Broadcasts[0].LatestRecipients, 1)
		assert.Equal(t, last.UUID.String(), report.Broadcasts[1].Broadcast.UUID)
		assert.Len(t, report.Broadcasts[1].LatestRecipients, 10)
		assert.Len(t, report.Broadcasts[1].Batches, 3)
	})

	t.Run("export", func(t *testing.T) {
		filename, data, err := fx.flow.ExportRecipients(ctx, last.UUID.String())
		require.NoError(t, err)
		assert.Contains(t, filename, last.UUID.String())

		xl, err := excelize.OpenReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer func() { _ = xl.Close() }()
		rows, err := xl.GetRows(recipientsSheet)
		require.NoError(t, err)
		require.Len(t, rows, 13)
		assert.Equal(t, recipientsHeader[0], rows[0][0])
		assert.Equal(t, "sent", rows[1][2])
		assert.Equal(t, "wamid.1", rows[1][3])
		assert.Equal(t, "failed", rows[2][2])
	})
}

func TestRecordDeliveryEvents(t *testing.T) {
	ctx := context.Background()
	fx := newBroadcastFixture(t)
	b := fx.saveBroadcast(t, &models.Broadcast{Status: models.BroadcastStatusProcessing}, 2, 10)
	recipients := fx.store.RecipientsOf(b.ID)
	_, err := fx.store.Recipients().MarkSent(ctx, &recipients[0], "wamid.a", 1, utils.UTCNow())
	require.NoError(t, err)
	_, err = fx.store.Recipients().MarkSent(ctx, &recipients[1], "wamid.b", 1, utils.UTCNow())
	require.NoError(t, err)

	resp, err := fx.flow.RecordDeliveryEvents(ctx, []dto.DeliveryEventDTO{
		{ProviderMessageID: "wamid.a", Event: "delivered"},
		{ProviderMessageID: "wamid.a", Event: "read"},
		{ProviderMessageID: "wamid.a", Event: "delivered"},
		{ProviderMessageID: "wamid.b", Event: "replied"},
		{ProviderMessageID: "wamid.unknown", Event: "read"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Received)
	assert.Equal(t, 3, resp.Applied)
	assert.Equal(t, 2, resp.Ignored)

	got := fx.store.Broadcast(b.ID)
	assert.EqualValues(t, 2, got.SentCount)
	assert.EqualValues(t, 1, got.DeliveredCount)
	assert.EqualValues(t, 1, got.ReadCount)
	assert.EqualValues(t, 1, got.RepliedCount)

	rows := fx.store.RecipientsOf(b.ID)
	assert.Equal(t, models.RecipientStatusRead, rows[0].DisplayStatus())
	assert.Equal(t, models.RecipientStatusReplied, rows[1].DisplayStatus())

	_, err = fx.flow.RecordDeliveryEvents(ctx, []dto.DeliveryEventDTO{{ProviderMessageID: "wamid.a", Event: "bounced"}})
	assert.True(t, errors.Is(err, ErrUnsupportedDeliveryEvent))
}
