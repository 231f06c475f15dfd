package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"campaign-gateway/internal/gateway"
	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/template"
	"campaign-gateway/internal/types"

	"github.com/gin-gonic/gin"
)

type TemplateHandler struct {
	Templates *store.TemplateStore
	Client    *gateway.Client
}

func NewTemplateHandler(templates *store.TemplateStore, client *gateway.Client) *TemplateHandler {
	return &TemplateHandler{Templates: templates, Client: client}
}

type ButtonSpec struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type TemplateRequest struct {
	Name      string       `json:"name" binding:"required"`
	Category  string       `json:"category" binding:"required"`
	Language  string       `json:"language" binding:"required"`
	Header    string       `json:"header"`
	Body      string       `json:"body" binding:"required"`
	Footer    string       `json:"footer"`
	Buttons   []ButtonSpec `json:"buttons"`
	Variables []string     `json:"variables"`
}

func validCategory(category string) bool {
	switch category {
	case models.CategoryMarketing, models.CategoryUtility, models.CategoryAuthentication:
		return true
	}
	return false
}

func (h *TemplateHandler) GetTemplates(c *gin.Context) {
	templates, err := h.Templates.List(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, templates)
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category must be marketing, utility or authentication"})
		return
	}

	n, err := template.CountPlaceholders(req.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	varNames := req.Variables
	if len(varNames) == 0 {
		varNames = template.DefaultVariableNames(n)
	} else if len(varNames) != n {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("body has %d placeholders but %d variable names were given", n, len(varNames)),
		})
		return
	}

	buttonsJSON, _ := json.Marshal(req.Buttons)
	tpl := models.Template{
		TenantID: tenantID(c),
		Name:     req.Name,
		Category: req.Category,
		Language: req.Language,
		Header:   req.Header,
		Body:     req.Body,
		Footer:   req.Footer,
		Buttons:  string(buttonsJSON),
		Status:   models.TemplatePending,
	}
	tpl.SetVariableList(varNames)

	if err := h.Templates.Create(c.Request.Context(), &tpl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create template"})
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

// UpdateTemplate mutates content while the template is still pending review.
// Approved content is immutable; create a new template to change it.
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := h.Templates.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tpl.Status != models.TemplatePending {
		c.JSON(http.StatusConflict, gin.H{"error": "only pending templates can be edited"})
		return
	}
	if !validCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category must be marketing, utility or authentication"})
		return
	}

	n, err := template.CountPlaceholders(req.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	varNames := req.Variables
	if len(varNames) == 0 {
		varNames = template.DefaultVariableNames(n)
	} else if len(varNames) != n {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("body has %d placeholders but %d variable names were given", n, len(varNames)),
		})
		return
	}

	buttonsJSON, _ := json.Marshal(req.Buttons)
	tpl.Name = req.Name
	tpl.Category = req.Category
	tpl.Language = req.Language
	tpl.Header = req.Header
	tpl.Body = req.Body
	tpl.Footer = req.Footer
	tpl.Buttons = string(buttonsJSON)
	tpl.SetVariableList(varNames)

	if err := h.Templates.Update(c.Request.Context(), tpl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update template"})
		return
	}
	c.JSON(http.StatusOK, tpl)
}

type RenderRequest struct {
	Values map[string]string `json:"values"`
}

// RenderTemplate previews a template body with the supplied variable values.
func (h *TemplateHandler) RenderTemplate(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := h.Templates.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	varNames := tpl.VariableList()
	body, err := template.Render(tpl.Body, varNames, req.Values)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	header, err := template.Render(tpl.Header, varNames, req.Values)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	footer, err := template.Render(tpl.Footer, varNames, req.Values)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"header": header, "body": body, "footer": footer})
}

type StatusRequest struct {
	Status     string `json:"status" binding:"required"`
	ExternalID string `json:"external_id"`
}

// SetTemplateStatus records a review outcome that arrived out-of-band
// (e.g. relayed from the business manager UI instead of a sync).
func (h *TemplateHandler) SetTemplateStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status != models.TemplateApproved && req.Status != models.TemplateRejected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be approved or rejected"})
		return
	}

	err := h.Templates.SetApprovalStatus(c.Request.Context(), tenantID(c), c.Param("id"), req.Status, req.ExternalID)
	if errors.Is(err, types.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update template status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Template status updated"})
}

// SyncTemplates pulls review statuses from the platform and applies them to
// local templates matched by name and language.
func (h *TemplateHandler) SyncTemplates(c *gin.Context) {
	remote, err := h.Client.ListTemplates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch templates from the platform: " + err.Error()})
		return
	}

	tenant := tenantID(c)
	syncedCount := 0
	for _, rt := range remote {
		tpl, err := h.Templates.GetByName(c.Request.Context(), tenant, rt.Name, rt.Language)
		if err != nil {
			continue
		}
		status := mapRemoteStatus(rt.Status)
		if status == "" || (tpl.Status == status && tpl.ExternalID == rt.ID) {
			continue
		}
		if err := h.Templates.SetApprovalStatus(c.Request.Context(), tenant, tpl.ID, status, rt.ID); err != nil {
			log.Printf("Error syncing template %s: %v", rt.Name, err)
			continue
		}
		syncedCount++
	}

	c.JSON(http.StatusOK, gin.H{"status": "Templates synced", "count": syncedCount})
}

func mapRemoteStatus(remote string) string {
	switch strings.ToUpper(remote) {
	case "APPROVED":
		return models.TemplateApproved
	case "REJECTED":
		return models.TemplateRejected
	case "PENDING", "IN_REVIEW":
		return models.TemplatePending
	}
	return ""
}
