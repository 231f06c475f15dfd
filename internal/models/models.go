package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Template statuses
const (
	TemplatePending  = "pending"
	TemplateApproved = "approved"
	TemplateRejected = "rejected"
)

// Template categories
const (
	CategoryMarketing      = "marketing"
	CategoryUtility        = "utility"
	CategoryAuthentication = "authentication"
)

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignActive    = "active"
	CampaignCompleted = "completed"
	CampaignPaused    = "paused"
)

// Message statuses
const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
)

// Webhook event types
const (
	EventMessageStatus   = "message_status"
	EventMessageReceived = "message_received"
)

// StatusRank orders message statuses along the forward delivery path.
// failed is terminal and handled separately; it never ranks.
func StatusRank(status string) int {
	switch status {
	case MessagePending:
		return 0
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	default:
		return -1
	}
}

// IsTerminalStatus reports whether a message can no longer transition.
func IsTerminalStatus(status string) bool {
	return status == MessageRead || status == MessageFailed
}

// Template is a reusable parameterized message body with an approval lifecycle.
// Variables holds the ordered variable names as a JSON array; position i-1
// corresponds to the {{i}} placeholder in the body.
type Template struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	TenantID   string    `gorm:"index;not null" json:"tenant_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Category   string    `gorm:"type:varchar(50)" json:"category"`
	Language   string    `gorm:"type:varchar(50)" json:"language"`
	Header     string    `gorm:"type:text" json:"header"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	Footer     string    `gorm:"type:text" json:"footer"`
	Buttons    string    `gorm:"type:text" json:"buttons"`   // JSON button specs
	Variables  string    `gorm:"type:text" json:"variables"` // JSON ordered variable names
	Status     string    `gorm:"type:varchar(20);default:'pending'" json:"status"`
	ExternalID string    `gorm:"type:varchar(255)" json:"external_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "templates"
}

func (t *Template) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (t *Template) VariableList() []string {
	var names []string
	if t.Variables != "" {
		_ = json.Unmarshal([]byte(t.Variables), &names)
	}
	return names
}

func (t *Template) SetVariableList(names []string) {
	data, _ := json.Marshal(names)
	t.Variables = string(data)
}

// Contact is a send target. The phone number is stored in canonical
// international format and is unique per tenant.
type Contact struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"uniqueIndex:idx_contacts_tenant_phone;not null" json:"tenant_id"`
	Phone     string    `gorm:"uniqueIndex:idx_contacts_tenant_phone;type:varchar(20);not null" json:"phone"`
	FirstName string    `gorm:"type:varchar(255)" json:"first_name"`
	LastName  string    `gorm:"type:varchar(255)" json:"last_name"`
	Email     string    `gorm:"type:varchar(255)" json:"email"`
	Tags      string    `gorm:"type:text" json:"tags"`   // JSON array
	Fields    string    `gorm:"type:text" json:"fields"` // JSON map of custom fields
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (c *Contact) TagList() []string {
	var tags []string
	if c.Tags != "" {
		_ = json.Unmarshal([]byte(c.Tags), &tags)
	}
	return tags
}

// FieldMap returns the custom fields plus the built-in first_name, last_name
// and phone keys, so templates can reference them as variables.
func (c *Contact) FieldMap() map[string]string {
	fields := map[string]string{}
	if c.Fields != "" {
		_ = json.Unmarshal([]byte(c.Fields), &fields)
	}
	if _, ok := fields["first_name"]; !ok {
		fields["first_name"] = c.FirstName
	}
	if _, ok := fields["last_name"]; !ok {
		fields["last_name"] = c.LastName
	}
	if _, ok := fields["phone"]; !ok {
		fields["phone"] = c.Phone
	}
	return fields
}

// Campaign is a bulk-send job: a template, a target contact set and aggregate
// delivery counters. Counters only ever increase.
type Campaign struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	TenantID       string     `gorm:"index;not null" json:"tenant_id"`
	Name           string     `gorm:"type:varchar(255);not null" json:"name"`
	Description    string     `gorm:"type:text" json:"description"`
	TemplateID     string     `gorm:"type:varchar(255);not null" json:"template_id"`
	Targets        string     `gorm:"type:text" json:"targets"` // JSON array of contact ids
	ScheduledAt    *time.Time `json:"scheduled_at"`
	Status         string     `gorm:"type:varchar(20);default:'draft'" json:"status"`
	SentCount      int        `gorm:"default:0" json:"sent_count"`
	DeliveredCount int        `gorm:"default:0" json:"delivered_count"`
	FailedCount    int        `gorm:"default:0" json:"failed_count"`
	ResponseCount  int        `gorm:"default:0" json:"response_count"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

func (c *Campaign) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (c *Campaign) TargetIDs() []string {
	var ids []string
	if c.Targets != "" {
		_ = json.Unmarshal([]byte(c.Targets), &ids)
	}
	return ids
}

// SetTargetIDs stores the target set, dropping duplicates while keeping order.
func (c *Campaign) SetTargetIDs(ids []string) {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	data, _ := json.Marshal(unique)
	c.Targets = string(data)
}

// Message is one rendered submission to one contact. CampaignID is empty for
// direct (non-campaign) sends. ExternalID is assigned by the gateway on
// acceptance and is how status webhooks find their way back.
type Message struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	TenantID      string     `gorm:"index;not null" json:"tenant_id"`
	CampaignID    string     `gorm:"index" json:"campaign_id"`
	ContactID     string     `gorm:"index" json:"contact_id"`
	TemplateID    string     `gorm:"type:varchar(255)" json:"template_id"`
	ExternalID    string     `gorm:"index;type:varchar(255)" json:"external_id"`
	Status        string     `gorm:"type:varchar(20);default:'pending'" json:"status"`
	Content       string     `gorm:"type:text" json:"content"`
	FailureReason string     `gorm:"type:text" json:"failure_reason"`
	SentAt        *time.Time `json:"sent_at"`
	DeliveredAt   *time.Time `json:"delivered_at"`
	ReadAt        *time.Time `json:"read_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// WebhookEvent is a raw inbound gateway event. It is written once on receipt
// and flipped to processed after the tracker applies it; events the tracker
// cannot match stay unprocessed for later reconciliation.
type WebhookEvent struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	TenantID          string    `gorm:"index;not null" json:"tenant_id"`
	ExternalMessageID string    `gorm:"index;type:varchar(255)" json:"external_message_id"`
	EventType         string    `gorm:"type:varchar(50)" json:"event_type"`
	Payload           string    `gorm:"type:text" json:"payload"`
	Processed         bool      `gorm:"default:false;index" json:"processed"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
