package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/types"

	"github.com/gin-gonic/gin"
)

// Canonical international format: + followed by 10 to 15 digits.
var phoneRe = regexp.MustCompile(`^\+[0-9]{10,15}$`)

type ContactHandler struct {
	Contacts *store.ContactStore
}

func NewContactHandler(contacts *store.ContactStore) *ContactHandler {
	return &ContactHandler{Contacts: contacts}
}

type ContactRequest struct {
	Phone     string            `json:"phone" binding:"required"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Email     string            `json:"email"`
	Tags      []string          `json:"tags"`
	Fields    map[string]string `json:"fields"`
	Active    *bool             `json:"active"`
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	contacts, err := h.Contacts.List(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !phoneRe.MatchString(req.Phone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone must match +<10-15 digits>"})
		return
	}

	contact := models.Contact{
		TenantID:  tenantID(c),
		Phone:     req.Phone,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Active:    true,
	}
	if req.Active != nil {
		contact.Active = *req.Active
	}
	setContactJSON(&contact, req.Tags, req.Fields)

	if err := h.Contacts.Create(c.Request.Context(), &contact); err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "a contact with this phone number already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create contact"})
		return
	}

	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !phoneRe.MatchString(req.Phone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone must match +<10-15 digits>"})
		return
	}

	contact, err := h.Contacts.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	contact.Phone = req.Phone
	contact.FirstName = req.FirstName
	contact.LastName = req.LastName
	contact.Email = req.Email
	if req.Active != nil {
		contact.Active = *req.Active
	}
	setContactJSON(contact, req.Tags, req.Fields)

	if err := h.Contacts.Update(c.Request.Context(), contact); err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "a contact with this phone number already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update contact"})
		return
	}

	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) DeleteContact(c *gin.Context) {
	err := h.Contacts.Delete(c.Request.Context(), tenantID(c), c.Param("id"))
	if errors.Is(err, types.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete contact"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Contact deleted"})
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	contacts, err := h.Contacts.List(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	csv := "Phone,First Name,Last Name,Email,Tags,Created At\n"
	for _, contact := range contacts {
		tags, _ := json.Marshal(contact.TagList())
		csv += fmt.Sprintf("%s,%s,%s,%s,%q,%s\n",
			contact.Phone, contact.FirstName, contact.LastName, contact.Email,
			string(tags), contact.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.String(http.StatusOK, csv)
}

func setContactJSON(contact *models.Contact, tags []string, fields map[string]string) {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	contact.Tags = string(tagsJSON)

	if fields == nil {
		fields = map[string]string{}
	}
	fieldsJSON, _ := json.Marshal(fields)
	contact.Fields = string(fieldsJSON)
}
