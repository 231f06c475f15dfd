package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"campaign-gateway/internal/cache"
	"campaign-gateway/internal/dispatch"
	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/types"

	"github.com/gin-gonic/gin"
)

type CampaignHandler struct {
	Campaigns *store.CampaignStore
	Templates *store.TemplateStore
	Contacts  *store.ContactStore
	Messages  *store.MessageStore
	Engine    *dispatch.Engine
	Stats     *cache.StatsCache

	// dispatchCtx outlives individual requests; dispatch keeps running after
	// the activate call returns.
	dispatchCtx context.Context
}

func NewCampaignHandler(
	campaigns *store.CampaignStore,
	templates *store.TemplateStore,
	contacts *store.ContactStore,
	messages *store.MessageStore,
	engine *dispatch.Engine,
	stats *cache.StatsCache,
	dispatchCtx context.Context,
) *CampaignHandler {
	if dispatchCtx == nil {
		dispatchCtx = context.Background()
	}
	return &CampaignHandler{
		Campaigns:   campaigns,
		Templates:   templates,
		Contacts:    contacts,
		Messages:    messages,
		Engine:      engine,
		Stats:       stats,
		dispatchCtx: dispatchCtx,
	}
}

type CampaignRequest struct {
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	TemplateID  string     `json:"template_id" binding:"required"`
	ContactIDs  []string   `json:"contact_ids"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	campaigns, err := h.Campaigns.List(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, campaigns)
}

func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	camp, err := h.Campaigns.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenant := tenantID(c)

	if _, err := h.Templates.Get(ctx, tenant, req.TemplateID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "template does not exist"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	camp := models.Campaign{
		TenantID:    tenant,
		Name:        req.Name,
		Description: req.Description,
		TemplateID:  req.TemplateID,
		ScheduledAt: req.ScheduledAt,
		Status:      models.CampaignDraft,
	}
	camp.SetTargetIDs(req.ContactIDs)

	if err := h.verifyTargets(ctx, tenant, &camp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Campaigns.Create(ctx, &camp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create campaign"})
		return
	}
	c.JSON(http.StatusCreated, camp)
}

// UpdateCampaign edits a draft. Targets and schedule lock once the campaign
// leaves draft.
func (h *CampaignHandler) UpdateCampaign(c *gin.Context) {
	var req CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenant := tenantID(c)
	camp, err := h.Campaigns.Get(ctx, tenant, c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if camp.Status != models.CampaignDraft {
		c.JSON(http.StatusConflict, gin.H{"error": "only draft campaigns can be edited"})
		return
	}

	camp.Name = req.Name
	camp.Description = req.Description
	camp.TemplateID = req.TemplateID
	camp.ScheduledAt = req.ScheduledAt
	camp.SetTargetIDs(req.ContactIDs)

	if err := h.verifyTargets(ctx, tenant, camp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Campaigns.Update(ctx, camp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update campaign"})
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h *CampaignHandler) DeleteCampaign(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantID(c)
	camp, err := h.Campaigns.Get(ctx, tenant, c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if camp.Status == models.CampaignActive {
		c.JSON(http.StatusConflict, gin.H{"error": "pause the campaign before deleting it"})
		return
	}

	if err := h.Campaigns.Delete(ctx, tenant, camp.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete campaign"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Campaign deleted"})
}

// ActivateCampaign starts (or resumes) dispatch. With a future scheduled
// time the campaign parks in scheduled and the scheduler picks it up.
func (h *CampaignHandler) ActivateCampaign(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantID(c)
	camp, err := h.Campaigns.Get(ctx, tenant, c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if len(camp.TargetIDs()) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "campaign has no target contacts"})
		return
	}
	tpl, err := h.Templates.Get(ctx, tenant, camp.TemplateID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "campaign template does not exist"})
		return
	}
	if tpl.Status != models.TemplateApproved {
		c.JSON(http.StatusBadRequest, gin.H{"error": "campaign template is not approved"})
		return
	}

	if camp.ScheduledAt != nil && camp.ScheduledAt.After(time.Now()) {
		ok, err := h.Campaigns.SetStatus(ctx, camp.ID, models.CampaignScheduled, models.CampaignDraft)
		if err != nil || !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "campaign cannot be scheduled from its current status"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "Campaign scheduled", "scheduled_at": camp.ScheduledAt})
		return
	}

	ok, err := h.Campaigns.SetStatus(ctx, camp.ID, models.CampaignActive,
		models.CampaignDraft, models.CampaignScheduled, models.CampaignPaused)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "campaign cannot be activated from its current status"})
		return
	}

	go func() {
		if err := h.Engine.Dispatch(h.dispatchCtx, tenant, camp.ID); err != nil {
			log.Printf("Dispatch of campaign %s: %v", camp.ID, err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"status": "Campaign dispatch started"})
}

// PauseCampaign halts further dispatch. Status ingestion for messages
// already sent continues.
func (h *CampaignHandler) PauseCampaign(c *gin.Context) {
	ctx := c.Request.Context()
	camp, err := h.Campaigns.Get(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.Campaigns.SetStatus(ctx, camp.ID, models.CampaignPaused, models.CampaignActive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "only active campaigns can be paused"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Campaign paused"})
}

func (h *CampaignHandler) GetCampaignStats(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantID(c)
	id := c.Param("id")

	if stats, err := h.Stats.Get(ctx, tenant, id); err == nil && stats != nil {
		c.JSON(http.StatusOK, stats)
		return
	}

	camp, err := h.Campaigns.Get(ctx, tenant, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stats := cache.SnapshotOf(camp)
	if err := h.Stats.Set(ctx, tenant, stats); err != nil {
		log.Printf("Cache campaign stats: %v", err)
	}
	c.JSON(http.StatusOK, stats)
}

func (h *CampaignHandler) GetCampaignMessages(c *gin.Context) {
	messages, err := h.Messages.ListByCampaign(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *CampaignHandler) verifyTargets(ctx context.Context, tenant string, camp *models.Campaign) error {
	targets := camp.TargetIDs()
	if len(targets) == 0 {
		return nil // allowed in draft; activation requires a non-empty set
	}
	found, err := h.Contacts.GetByIDs(ctx, tenant, targets)
	if err != nil {
		return err
	}
	if len(found) != len(targets) {
		return fmt.Errorf("%d of %d target contacts do not exist", len(targets)-len(found), len(targets))
	}
	return nil
}
