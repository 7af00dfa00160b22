package testing

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestContacts inserts n contacts carrying tags. Creation times are one second apart
// starting at base so audience order is deterministic.
func (tf *TestFixtures) CreateTestContacts(n int, base time.Time, tags ...string) ([]*models.Contact, error) {
	contacts := make([]*models.Contact, 0, n)
	firstWaID := 989100000000 + rand.Int63n(10000000)*100
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Contact %d", i+1)
		contacts = append(contacts, &models.Contact{
			WaID:        firstWaID + int64(i),
			ProfileName: &name,
			Tags:        pq.StringArray(tags),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
	}
	if n == 0 {
		return contacts, nil
	}
	if err := tf.DB.DB.CreateInBatches(contacts, 500).Error; err != nil {
		return nil, fmt.Errorf("failed to create test contacts: %w", err)
	}
	return contacts, nil
}

// CreateTestBroadcast inserts a broadcast in the given status. Scheduled broadcasts are due at scheduledAt.
func (tf *TestFixtures) CreateTestBroadcast(status models.BroadcastStatus, scheduledAt *time.Time, tags ...string) (*models.Broadcast, error) {
	b := &models.Broadcast{
		UUID:         uuid.New(),
		Name:         "Test broadcast " + uuid.NewString()[:8],
		TemplateName: "promo",
		Language:     "en",
		ContactTags:  pq.StringArray(tags),
		Status:       status,
		ScheduledAt:  scheduledAt,
	}
	if err := tf.DB.DB.Create(b).Error; err != nil {
		return nil, fmt.Errorf("failed to create test broadcast: %w", err)
	}
	return b, nil
}

// CreateTestScheduledMessage inserts a pending text message due at scheduledAt
func (tf *TestFixtures) CreateTestScheduledMessage(to int64, scheduledAt time.Time) (*models.ScheduledMessage, error) {
	body := "Reminder for " + strconv.FormatInt(to, 10)
	m := &models.ScheduledMessage{
		To:             to,
		MessageType:    models.ScheduledMessageTypeText,
		MessageContent: &body,
		ScheduledAt:    scheduledAt,
		Status:         models.ScheduledMessageStatusPending,
		MaxRetries:     utils.DefaultScheduledMessageMaxRetries,
	}
	if err := tf.DB.DB.Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create test scheduled message: %w", err)
	}
	return m, nil
}

// CreateTestTemplateMessage inserts a pending template message due at scheduledAt
func (tf *TestFixtures) CreateTestTemplateMessage(to int64, scheduledAt time.Time, templateName string) (*models.ScheduledMessage, error) {
	data, err := json.Marshal(map[string]any{
		"name":     templateName,
		"language": map[string]string{"code": "en"},
	})
	if err != nil {
		return nil, err
	}
	m := &models.ScheduledMessage{
		To:           to,
		MessageType:  models.ScheduledMessageTypeTemplate,
		TemplateData: data,
		ScheduledAt:  scheduledAt,
		Status:       models.ScheduledMessageStatusPending,
		MaxRetries:   utils.DefaultScheduledMessageMaxRetries,
	}
	if err := tf.DB.DB.Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create test template message: %w", err)
	}
	return m, nil
}
