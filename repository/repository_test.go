package repository_test

import (
	"sync"
	"testing"
	"time"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/repository"
	testingutil "github.com/amirphl/whatsapp-broadcast/testing"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactRepository(t *testing.T) {
	testingutil.TestWithDB(t, func(testDB *testingutil.TestDB) {
		repo := repository.NewContactRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		vip, err := fixtures.CreateTestContacts(5, base, "vip", "news")
		require.NoError(t, err)
		_, err = fixtures.CreateTestContacts(3, base.Add(time.Hour), "churned")
		require.NoError(t, err)

		t.Run("CountByTags", func(t *testing.T) {
			count, err := repo.CountByTags(ctx, []string{"vip"})
			require.NoError(t, err)
			assert.EqualValues(t, 5, count)

			count, err = repo.CountByTags(ctx, []string{"news", "churned"})
			require.NoError(t, err)
			assert.EqualValues(t, 8, count)

			count, err = repo.CountByTags(ctx, nil)
			require.NoError(t, err)
			assert.Zero(t, count)
		})

		t.Run("ListByTagsAfter pages in creation order", func(t *testing.T) {
			first, err := repo.ListByTagsAfter(ctx, []string{"vip"}, nil, 2)
			require.NoError(t, err)
			require.Len(t, first, 2)
			assert.Equal(t, vip[0].WaID, first[0].WaID)

			last := first[len(first)-1]
			rest, err := repo.ListByTagsAfter(ctx, []string{"vip"}, &models.ContactCursor{CreatedAt: last.CreatedAt, WaID: last.WaID}, 10)
			require.NoError(t, err)
			require.Len(t, rest, 3)
			assert.Equal(t, vip[2].WaID, rest[0].WaID)
			assert.Equal(t, vip[4].WaID, rest[2].WaID)
		})

		t.Run("ByWaID", func(t *testing.T) {
			got, err := repo.ByWaID(ctx, vip[1].WaID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.ElementsMatch(t, []string{"vip", "news"}, []string(got.Tags))

			missing, err := repo.ByWaID(ctx, 1)
			assert.NoError(t, err)
			assert.Nil(t, missing)
		})
	})
}

func TestBroadcastRepository(t *testing.T) {
	testingutil.TestWithDB(t, func(testDB *testingutil.TestDB) {
		repo := repository.NewBroadcastRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		past := utils.UTCNow().Add(-time.Minute)
		future := utils.UTCNow().Add(time.Hour)
		due, err := fixtures.CreateTestBroadcast(models.BroadcastStatusScheduled, &past, "vip")
		require.NoError(t, err)
		_, err = fixtures.CreateTestBroadcast(models.BroadcastStatusScheduled, &future, "vip")
		require.NoError(t, err)

		t.Run("ByUUID", func(t *testing.T) {
			got, err := repo.ByUUID(ctx, due.UUID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, due.ID, got.ID)

			missing, err := repo.ByUUID(ctx, uuid.New())
			assert.NoError(t, err)
			assert.Nil(t, missing)
		})

		t.Run("ListDueScheduled", func(t *testing.T) {
			rows, err := repo.ListDueScheduled(ctx, utils.UTCNow(), 10)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, due.ID, rows[0].ID)
		})

		t.Run("TransitionStatus only moves from the expected status", func(t *testing.T) {
			ok, err := repo.TransitionStatus(ctx, due.ID, []models.BroadcastStatus{models.BroadcastStatusScheduled}, models.BroadcastStatusProcessing,
				map[string]any{"started_at": utils.UTCNow()})
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = repo.TransitionStatus(ctx, due.ID, []models.BroadcastStatus{models.BroadcastStatusScheduled}, models.BroadcastStatusCancelled, nil)
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := repo.ByID(ctx, due.ID)
			require.NoError(t, err)
			assert.Equal(t, models.BroadcastStatusProcessing, got.Status)
			assert.NotNil(t, got.StartedAt)
		})

		t.Run("concurrent transitions have one winner", func(t *testing.T) {
			b, err := fixtures.CreateTestBroadcast(models.BroadcastStatusScheduled, &past, "vip")
			require.NoError(t, err)

			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := repo.TransitionStatus(ctx, b.ID, []models.BroadcastStatus{models.BroadcastStatusScheduled}, models.BroadcastStatusProcessing, nil)
					if err == nil && ok {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})

		t.Run("ByFilter pages by id", func(t *testing.T) {
			filter := models.BroadcastFilter{}
			first, err := repo.ByFilter(ctx, filter, "id ASC", 1, 0)
			require.NoError(t, err)
			require.Len(t, first, 1)

			filter.IDAfter = &first[0].ID
			rest, err := repo.ByFilter(ctx, filter, "id ASC", 10, 0)
			require.NoError(t, err)
			require.NotEmpty(t, rest)
			for _, b := range rest {
				assert.Greater(t, b.ID, first[0].ID)
			}
		})

		t.Run("IncrementCounters", func(t *testing.T) {
			require.NoError(t, repo.IncrementCounters(ctx, due.ID, models.BroadcastCounterDelta{Sent: 2, Failed: 1}))
			require.NoError(t, repo.IncrementCounters(ctx, due.ID, models.BroadcastCounterDelta{}))
			assert.Error(t, repo.IncrementCounters(ctx, due.ID, models.BroadcastCounterDelta{Sent: -1}))

			got, err := repo.ByID(ctx, due.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 2, got.SentCount)
			assert.EqualValues(t, 1, got.FailedCount)
		})
	})
}

func TestBatchAndRecipientRepositories(t *testing.T) {
	testingutil.TestWithDB(t, func(testDB *testingutil.TestDB) {
		broadcastRepo := repository.NewBroadcastRepository(testDB.DB)
		batchRepo := repository.NewBroadcastBatchRepository(testDB.DB)
		recipientRepo := repository.NewBroadcastContactRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		b, err := fixtures.CreateTestBroadcast(models.BroadcastStatusProcessing, nil, "vip")
		require.NoError(t, err)

		for _, size := range []int{3, 2} {
			recipients := make([]*models.BroadcastContact, 0, size)
			for i := 0; i < size; i++ {
				recipients = append(recipients, &models.BroadcastContact{ContactID: int64(989120000000 + len(recipients))})
			}
			require.NoError(t, batchRepo.SavePartition(ctx, &models.BroadcastBatch{BroadcastID: b.ID}, recipients))
		}

		got, err := broadcastRepo.ByID(ctx, b.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 5, got.ScheduledCount)

		batches, err := batchRepo.ListByBroadcast(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, batches, 2)
		assert.Equal(t, 3, batches[0].ScheduledCount)

		var reclaimed *models.BroadcastBatch
		t.Run("ClaimNext hands each batch out once", func(t *testing.T) {
			first, err := batchRepo.ClaimNext(ctx, b.ID, "worker-1", time.Minute)
			require.NoError(t, err)
			require.NotNil(t, first)
			second, err := batchRepo.ClaimNext(ctx, b.ID, "worker-2", time.Minute)
			require.NoError(t, err)
			require.NotNil(t, second)
			assert.NotEqual(t, first.ID, second.ID)

			none, err := batchRepo.ClaimNext(ctx, b.ID, "worker-3", time.Minute)
			require.NoError(t, err)
			assert.Nil(t, none)

			claimable, err := batchRepo.CountClaimable(ctx, b.ID, time.Minute)
			require.NoError(t, err)
			assert.Zero(t, claimable)

			// an expired lease makes the batch claimable again
			reclaimed, err = batchRepo.ClaimNext(ctx, b.ID, "worker-3", -time.Second)
			require.NoError(t, err)
			require.NotNil(t, reclaimed)
			assert.Equal(t, "worker-3", *reclaimed.ClaimedBy)
		})

		t.Run("RenewLease only for the current owner", func(t *testing.T) {
			require.NotNil(t, reclaimed)
			ok, err := batchRepo.RenewLease(ctx, reclaimed.ID, "worker-3")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = batchRepo.RenewLease(ctx, reclaimed.ID, "worker-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run("ClaimForSend hands each recipient out once", func(t *testing.T) {
			pending, err := recipientRepo.ListPendingByBatch(ctx, batches[1].ID)
			require.NoError(t, err)
			require.NotEmpty(t, pending)

			ok, err := recipientRepo.ClaimForSend(ctx, pending[0], "worker-1")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = recipientRepo.ClaimForSend(ctx, pending[0], "worker-2")
			require.NoError(t, err)
			assert.False(t, ok)

			rows, err := recipientRepo.ByFilter(ctx, models.BroadcastContactFilter{ID: &pending[0].ID}, "", 0, 0)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.True(t, rows[0].InFlight())
			assert.Equal(t, "worker-1", *rows[0].SendingBy)
		})

		t.Run("MarkSent and MarkFailed stamp once", func(t *testing.T) {
			pending, err := recipientRepo.ListPendingByBatch(ctx, batches[0].ID)
			require.NoError(t, err)
			require.Len(t, pending, 3)

			ok, err := recipientRepo.MarkSent(ctx, pending[0], "wamid.1", 1, utils.UTCNow())
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = recipientRepo.MarkFailed(ctx, pending[0], "late failure", 2, utils.UTCNow())
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = recipientRepo.MarkFailed(ctx, pending[1], "invalid number", 3, utils.UTCNow())
			require.NoError(t, err)
			assert.True(t, ok)

			unresolved, err := recipientRepo.CountUnresolved(ctx, b.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 3, unresolved)

			got, err := broadcastRepo.ByID(ctx, b.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 1, got.SentCount)
			assert.EqualValues(t, 1, got.FailedCount)
		})

		t.Run("MarkDeliveryEvent is idempotent", func(t *testing.T) {
			rc, err := recipientRepo.ByProviderMessageID(ctx, "wamid.1")
			require.NoError(t, err)
			require.NotNil(t, rc)

			ok, err := recipientRepo.MarkDeliveryEvent(ctx, rc, models.DeliveryEventRead, utils.UTCNow(), "")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = recipientRepo.MarkDeliveryEvent(ctx, rc, models.DeliveryEventRead, utils.UTCNow(), "")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = recipientRepo.MarkDeliveryEvent(ctx, rc, models.DeliveryEventFailed, utils.UTCNow(), "131026 Message undeliverable")
			require.NoError(t, err)
			assert.True(t, ok)

			rows, err := recipientRepo.ByFilter(ctx, models.BroadcastContactFilter{ProviderMessageID: utils.ToPtr("wamid.1")}, "", 0, 0)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, models.RecipientStatusFailed, rows[0].DisplayStatus())
			require.NotNil(t, rows[0].FailureReason)
			assert.Equal(t, "131026 Message undeliverable", *rows[0].FailureReason)

			_, err = recipientRepo.MarkDeliveryEvent(ctx, rc, models.DeliveryEvent("sent"), utils.UTCNow(), "")
			assert.Error(t, err)

			missing, err := recipientRepo.ByProviderMessageID(ctx, "wamid.unknown")
			assert.NoError(t, err)
			assert.Nil(t, missing)
		})

		t.Run("MarkCompleted only for the current owner", func(t *testing.T) {
			require.NotNil(t, reclaimed)
			ok, err := batchRepo.MarkCompleted(ctx, reclaimed.ID, "someone-else")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = batchRepo.MarkCompleted(ctx, reclaimed.ID, "worker-3")
			require.NoError(t, err)
			assert.True(t, ok)
			rows, err := batchRepo.ListByBroadcast(ctx, b.ID)
			require.NoError(t, err)
			for _, row := range rows {
				if row.ID == reclaimed.ID {
					assert.Equal(t, models.BroadcastBatchStatusCompleted, row.Status)
					assert.NotNil(t, row.CompletedAt)
				}
			}
		})
	})
}

func TestScheduledMessageRepository(t *testing.T) {
	testingutil.TestWithDB(t, func(testDB *testingutil.TestDB) {
		repo := repository.NewScheduledMessageRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		due, err := fixtures.CreateTestScheduledMessage(989120000001, utils.UTCNow().Add(-time.Minute))
		require.NoError(t, err)
		_, err = fixtures.CreateTestTemplateMessage(989120000002, utils.UTCNow().Add(time.Hour), "promo")
		require.NoError(t, err)

		t.Run("ListDue", func(t *testing.T) {
			rows, err := repo.ListDue(ctx, utils.UTCNow(), 10)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, due.UUID, rows[0].UUID)
			assert.Equal(t, due.ScheduledAt.Unix(), rows[0].NextAttemptAt.Unix())
		})

		t.Run("TransitionStatus", func(t *testing.T) {
			ok, err := repo.TransitionStatus(ctx, due.ID, models.ScheduledMessageStatusPending, models.ScheduledMessageStatusSending, nil)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = repo.TransitionStatus(ctx, due.ID, models.ScheduledMessageStatusPending, models.ScheduledMessageStatusSending, nil)
			require.NoError(t, err)
			assert.False(t, ok)

			rows, err := repo.ListDue(ctx, utils.UTCNow(), 10)
			require.NoError(t, err)
			assert.Empty(t, rows)
		})

		t.Run("ListStuckSending", func(t *testing.T) {
			rows, err := repo.ListStuckSending(ctx, utils.UTCNow().Add(-time.Minute), 10)
			require.NoError(t, err)
			assert.Empty(t, rows)

			rows, err = repo.ListStuckSending(ctx, utils.UTCNow().Add(time.Minute), 10)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, due.ID, rows[0].ID)
		})

		t.Run("ByUUID", func(t *testing.T) {
			got, err := repo.ByUUID(ctx, due.UUID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, models.ScheduledMessageStatusSending, got.Status)

			missing, err := repo.ByUUID(ctx, uuid.New())
			assert.NoError(t, err)
			assert.Nil(t, missing)
		})
	})
}
