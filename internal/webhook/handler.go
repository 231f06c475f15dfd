package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"campaign-gateway/internal/config"
	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/tracker"
	"campaign-gateway/internal/types"
	pkgmodels "campaign-gateway/pkg/models"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Config  *config.Config
	Tracker *tracker.Tracker
	Events  *store.WebhookEventStore
}

func NewHandler(cfg *config.Config, trk *tracker.Tracker, events *store.WebhookEventStore) *Handler {
	return &Handler{
		Config:  cfg,
		Tracker: trk,
		Events:  events,
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "" && token != "" {
		if mode == "subscribe" && token == h.Config.VerifyToken {
			log.Println("Webhook verified successfully!")
			c.String(http.StatusOK, challenge)
		} else {
			c.Status(http.StatusForbidden)
		}
	} else {
		c.Status(http.StatusBadRequest)
	}
}

// HandleEvents ingests gateway webhooks. Every status change and inbound
// message is persisted as a raw event before the tracker runs, and the
// endpoint acknowledges 200 even when an event cannot be applied, so the
// gateway does not redeliver in a storm. Unapplied events stay unprocessed.
func (h *Handler) HandleEvents(c *gin.Context) {
	var payload pkgmodels.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Printf("Error binding webhook JSON: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	// Other object tags (e.g. page, instagram) are not ours; acknowledge
	// and ignore.
	if payload.Object != "whatsapp_business_account" {
		c.Status(http.StatusOK)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		// The business account id on the entry scopes the event to a tenant.
		tenantID := entry.ID
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, status := range change.Value.Statuses {
				h.ingestStatus(ctx, tenantID, status)
			}
			for _, inbound := range change.Value.Messages {
				h.ingestInbound(ctx, tenantID, inbound)
			}
		}
	}

	c.Status(http.StatusOK)
}

func (h *Handler) ingestStatus(ctx context.Context, tenantID string, status pkgmodels.StatusChange) {
	raw, _ := json.Marshal(status)
	event := &models.WebhookEvent{
		TenantID:          tenantID,
		ExternalMessageID: status.ID,
		EventType:         models.EventMessageStatus,
		Payload:           string(raw),
	}
	if err := h.Events.Create(ctx, event); err != nil {
		log.Printf("Persist status event for %s: %v", status.ID, err)
		return
	}

	err := h.Tracker.ApplyStatus(ctx, tenantID, status)
	switch {
	case err == nil:
		if err := h.Events.MarkProcessed(ctx, event.ID); err != nil {
			log.Printf("Mark event %s processed: %v", event.ID, err)
		}
	case errors.Is(err, types.ErrUnknownMessage):
		// Gateway status can arrive before our submission record is
		// visible; keep the event for reconciliation.
		log.Printf("Status for unknown message %s retained unprocessed", status.ID)
	default:
		log.Printf("Apply status for %s: %v", status.ID, err)
	}
}

func (h *Handler) ingestInbound(ctx context.Context, tenantID string, inbound pkgmodels.InboundMessage) {
	raw, _ := json.Marshal(inbound)
	event := &models.WebhookEvent{
		TenantID:          tenantID,
		ExternalMessageID: inbound.ID,
		EventType:         models.EventMessageReceived,
		Payload:           string(raw),
	}
	if err := h.Events.Create(ctx, event); err != nil {
		log.Printf("Persist inbound event for %s: %v", inbound.ID, err)
		return
	}

	err := h.Tracker.ApplyInbound(ctx, tenantID, inbound)
	switch {
	case err == nil:
		if err := h.Events.MarkProcessed(ctx, event.ID); err != nil {
			log.Printf("Mark event %s processed: %v", event.ID, err)
		}
	case errors.Is(err, types.ErrUnknownMessage):
		log.Printf("Inbound message from unknown sender %s retained unprocessed", inbound.From)
	default:
		log.Printf("Apply inbound message %s: %v", inbound.ID, err)
	}
}
