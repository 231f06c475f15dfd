package api

import (
	"errors"
	"net/http"
	"strconv"

	"campaign-gateway/internal/dispatch"
	"campaign-gateway/internal/gateway"
	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/types"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	Messages  *store.MessageStore
	Contacts  *store.ContactStore
	Templates *store.TemplateStore
	Events    *store.WebhookEventStore
	Engine    *dispatch.Engine
}

func NewDashboardHandler(
	messages *store.MessageStore,
	contacts *store.ContactStore,
	templates *store.TemplateStore,
	events *store.WebhookEventStore,
	engine *dispatch.Engine,
) *DashboardHandler {
	return &DashboardHandler{
		Messages:  messages,
		Contacts:  contacts,
		Templates: templates,
		Events:    events,
		Engine:    engine,
	}
}

func (h *DashboardHandler) GetMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	messages, err := h.Messages.ListRecent(c.Request.Context(), tenantID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, messages)
}

type SendMessageRequest struct {
	ContactID  string            `json:"contact_id" binding:"required"`
	TemplateID string            `json:"template_id"`
	Values     map[string]string `json:"values"`
	Text       string            `json:"text"`
}

// SendMessage submits a single direct message outside any campaign, either
// from an approved template or as plain text.
func (h *DashboardHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenant := tenantID(c)

	contact, err := h.Contacts.Get(ctx, tenant, req.ContactID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.sendDirect(c, tenant, contact, &req)
	if err != nil {
		return // response already written
	}
	c.JSON(http.StatusOK, msg)
}

func (h *DashboardHandler) sendDirect(c *gin.Context, tenant string, contact *models.Contact, req *SendMessageRequest) (*models.Message, error) {
	ctx := c.Request.Context()

	var tpl *models.Template
	if req.TemplateID != "" {
		var err error
		tpl, err = h.Templates.Get(ctx, tenant, req.TemplateID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
				return nil, err
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return nil, err
		}
	}

	msg, err := h.Engine.SendDirect(ctx, tenant, contact, tpl, req.Values, req.Text)
	if err != nil {
		if types.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, err
		}
		var rejection *gateway.RejectionError
		if errors.As(err, &rejection) {
			c.JSON(http.StatusBadGateway, gin.H{"error": rejection.Error(), "message": msg})
			return nil, err
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "message": msg})
		return nil, err
	}
	return msg, nil
}

// GetUnprocessedEvents lists webhook events the tracker could not apply,
// for reconciliation.
func (h *DashboardHandler) GetUnprocessedEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.Events.ListUnprocessed(c.Request.Context(), tenantID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}
