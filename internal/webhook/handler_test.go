package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campaign-gateway/internal/config"
	"campaign-gateway/internal/database"
	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/tracker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	campaigns *store.CampaignStore
	messages  *store.MessageStore
	events    *store.WebhookEventStore
	router    *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	campaigns := store.NewCampaignStore(db)
	contacts := store.NewContactStore(db)
	messages := store.NewMessageStore(db)
	events := store.NewWebhookEventStore(db)
	trk := tracker.NewTracker(campaigns, contacts, messages, events)

	cfg := &config.Config{VerifyToken: "shared-secret"}
	handler := NewHandler(cfg, trk, events)

	router := gin.New()
	router.GET("/webhook", handler.VerifyWebhook)
	router.POST("/webhook", handler.HandleEvents)

	return &fixture{
		campaigns: campaigns,
		messages:  messages,
		events:    events,
		router:    router,
	}
}

func (f *fixture) seedSentMessage(t *testing.T, externalID string) (*models.Campaign, *models.Message) {
	t.Helper()
	ctx := context.Background()

	camp := &models.Campaign{
		TenantID:   "waba-1",
		Name:       "launch",
		TemplateID: "tpl",
		Status:     models.CampaignActive,
		SentCount:  1,
	}
	camp.SetTargetIDs([]string{"contact-1"})
	require.NoError(t, f.campaigns.Create(ctx, camp))

	now := time.Now()
	msg := &models.Message{
		TenantID:   "waba-1",
		CampaignID: camp.ID,
		ContactID:  "contact-1",
		Status:     models.MessageSent,
		ExternalID: externalID,
		SentAt:     &now,
	}
	require.NoError(t, f.messages.Create(ctx, msg))
	return camp, msg
}

func (f *fixture) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func statusPayload(tenantID, externalID, status string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": %q,
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"statuses": [{"id": %q, "status": %q, "timestamp": "1724999999", "recipient_id": "12025550100"}]
				}
			}]
		}]
	}`, tenantID, externalID, status)
}

func TestVerifyWebhook(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=shared-secret&hub.challenge=12345", nil)
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/webhook", nil)
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusEventApplied(t *testing.T) {
	f := newFixture(t)
	camp, msg := f.seedSentMessage(t, "wamid.1")
	ctx := context.Background()

	w := f.post(statusPayload("waba-1", "wamid.1", "delivered"))
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := f.messages.Get(ctx, "waba-1", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageDelivered, got.Status)

	after, err := f.campaigns.Get(ctx, "waba-1", camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.DeliveredCount)

	pending, err := f.events.ListUnprocessed(ctx, "waba-1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "applied event must be marked processed")
}

func TestUnknownMessageStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.post(statusPayload("waba-1", "wamid.never-seen", "delivered"))
	assert.Equal(t, http.StatusOK, w.Code, "webhook must acknowledge even unknown ids")

	pending, err := f.events.ListUnprocessed(ctx, "waba-1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "wamid.never-seen", pending[0].ExternalMessageID)
	assert.False(t, pending[0].Processed)
}

func TestForeignObjectTagIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.post(`{"object": "instagram", "entry": [{"id": "waba-1", "changes": []}]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	pending, err := f.events.ListUnprocessed(ctx, "waba-1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMalformedPayloadRejected(t *testing.T) {
	f := newFixture(t)

	w := f.post(`{"object": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusChangesScopedToEntryTenant(t *testing.T) {
	f := newFixture(t)
	_, msg := f.seedSentMessage(t, "wamid.1")
	ctx := context.Background()

	// Same external id under a different business account must not match.
	w := f.post(statusPayload("waba-other", "wamid.1", "delivered"))
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := f.messages.Get(ctx, "waba-1", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageSent, got.Status)

	pending, err := f.events.ListUnprocessed(ctx, "waba-other", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
