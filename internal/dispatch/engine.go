package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"campaign-gateway/internal/cache"
	"campaign-gateway/internal/gateway"
	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/template"
	"campaign-gateway/internal/types"
)

// Gateway is the outbound side of the messaging platform.
type Gateway interface {
	Submit(ctx context.Context, msg gateway.OutboundMessage) (string, error)
}

// Notifier receives live progress updates. The websocket hub implements it.
type Notifier interface {
	NotifyMessageStatus(msg models.Message)
	NotifyCampaignProgress(stats cache.CampaignStats)
}

type Options struct {
	MaxAttempts    int           // submission attempts per message before terminal failure
	RetryBaseDelay time.Duration // first backoff step, doubled per attempt
	Workers        int           // workers per dispatch call (the tenant limiter bounds actual in-flight requests)
}

// Engine turns an active campaign into one message per target contact and
// submits them to the gateway under the tenant's rate budget.
type Engine struct {
	campaigns *store.CampaignStore
	contacts  *store.ContactStore
	templates *store.TemplateStore
	messages  *store.MessageStore
	gw        Gateway
	limiter   *TenantLimiter

	// Optional collaborators, nil-safe.
	Hub   Notifier
	Stats *cache.StatsCache

	maxAttempts int
	baseDelay   time.Duration
	workers     int
}

func NewEngine(
	campaigns *store.CampaignStore,
	contacts *store.ContactStore,
	templates *store.TemplateStore,
	messages *store.MessageStore,
	gw Gateway,
	limiter *TenantLimiter,
	opts Options,
) *Engine {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if opts.Workers < 1 {
		opts.Workers = 8
	}
	return &Engine{
		campaigns:   campaigns,
		contacts:    contacts,
		templates:   templates,
		messages:    messages,
		gw:          gw,
		limiter:     limiter,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.RetryBaseDelay,
		workers:     opts.Workers,
	}
}

// Dispatch sends the campaign's template to every target contact that does
// not already have a non-failed message. Preconditions (campaign active,
// template approved, targets non-empty) abort the whole call; per-contact
// failures are isolated and recorded on their own message.
func (e *Engine) Dispatch(ctx context.Context, tenantID, campaignID string) error {
	camp, err := e.campaigns.Get(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if camp.Status != models.CampaignActive {
		return types.NewValidationError(fmt.Sprintf("campaign %q is %s, not active", camp.Name, camp.Status))
	}

	tpl, err := e.templates.Get(ctx, tenantID, camp.TemplateID)
	if err != nil {
		return err
	}
	if tpl.Status != models.TemplateApproved {
		return types.NewValidationError(fmt.Sprintf("template %q is %s, not approved", tpl.Name, tpl.Status))
	}

	targets := camp.TargetIDs()
	if len(targets) == 0 {
		return types.NewValidationError("campaign has no target contacts")
	}

	// Contacts already holding a pending/sent/delivered/read message are
	// skipped, so re-invoking dispatch never double-sends.
	active, err := e.messages.ActiveByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	contactRecs, err := e.contacts.GetByIDs(ctx, tenantID, targets)
	if err != nil {
		return err
	}
	byID := make(map[string]models.Contact, len(contactRecs))
	for _, c := range contactRecs {
		byID[c.ID] = c
	}

	var pending []string
	for _, id := range targets {
		if _, done := active[id]; done {
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		if _, err := e.campaigns.CompleteIfDone(ctx, tenantID, campaignID); err != nil {
			log.Printf("Completion check for campaign %s: %v", campaignID, err)
		}
		return nil
	}

	log.Printf("Dispatching campaign %s: %d of %d contacts remaining", campaignID, len(pending), len(targets))

	varNames := tpl.VariableList()
	jobs := make(chan string, len(pending))
	var wg sync.WaitGroup
	var halted atomic.Bool

	numWorkers := min(len(pending), e.workers)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for contactID := range jobs {
				if halted.Load() {
					continue
				}
				if ctx.Err() != nil {
					halted.Store(true)
					continue
				}
				// An external pause stops new submissions; in-flight ones finish.
				status, err := e.campaigns.GetStatus(ctx, campaignID)
				if err != nil || status != models.CampaignActive {
					halted.Store(true)
					continue
				}
				contact, ok := byID[contactID]
				if !ok || !contact.Active {
					e.recordUnreachable(ctx, tenantID, camp, contactID)
					continue
				}
				e.sendToContact(ctx, tenantID, camp, tpl, varNames, &contact)
			}
		}()
	}

	for _, id := range pending {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	if _, err := e.campaigns.CompleteIfDone(ctx, tenantID, campaignID); err != nil {
		log.Printf("Completion check for campaign %s: %v", campaignID, err)
	}
	e.publishProgress(ctx, tenantID, campaignID)
	return nil
}

// recordUnreachable writes a terminally failed message for a target that no
// longer resolves to a sendable contact, so the campaign can still complete.
func (e *Engine) recordUnreachable(ctx context.Context, tenantID string, camp *models.Campaign, contactID string) {
	msg := &models.Message{
		TenantID:      tenantID,
		CampaignID:    camp.ID,
		ContactID:     contactID,
		TemplateID:    camp.TemplateID,
		Status:        models.MessageFailed,
		FailureReason: "contact missing or inactive",
	}
	if err := e.messages.Create(ctx, msg); err != nil {
		log.Printf("Record unreachable contact %s: %v", contactID, err)
		return
	}
	if err := e.campaigns.Increment(ctx, camp.ID, store.CounterFailed); err != nil {
		log.Printf("Increment failed count for campaign %s: %v", camp.ID, err)
	}
}

func (e *Engine) sendToContact(ctx context.Context, tenantID string, camp *models.Campaign, tpl *models.Template, varNames []string, contact *models.Contact) {
	values := contactValues(contact, varNames)

	rendered, err := template.Render(tpl.Body, varNames, values)
	if err != nil {
		log.Printf("Render for contact %s: %v", contact.ID, err)
		return
	}

	msg := &models.Message{
		TenantID:   tenantID,
		CampaignID: camp.ID,
		ContactID:  contact.ID,
		TemplateID: tpl.ID,
		Status:     models.MessagePending,
		Content:    rendered,
	}
	if err := e.messages.Create(ctx, msg); err != nil {
		log.Printf("Create message for contact %s: %v", contact.ID, err)
		return
	}

	wire := gateway.TemplateMessage(contact.Phone, tpl.Name, tpl.Language, bodyParams(varNames, values))
	externalID, err := e.submitWithRetry(ctx, tenantID, wire)
	if err != nil {
		if markErr := e.messages.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
			log.Printf("Mark message %s failed: %v", msg.ID, markErr)
		}
		if incErr := e.campaigns.Increment(ctx, camp.ID, store.CounterFailed); incErr != nil {
			log.Printf("Increment failed count: %v", incErr)
		}
		msg.Status = models.MessageFailed
		msg.FailureReason = err.Error()
		e.notifyMessage(*msg)
		e.publishProgress(ctx, tenantID, camp.ID)
		return
	}

	now := time.Now()
	if err := e.messages.MarkSent(ctx, msg.ID, externalID, now); err != nil {
		log.Printf("Mark message %s sent: %v", msg.ID, err)
		return
	}
	if err := e.campaigns.Increment(ctx, camp.ID, store.CounterSent); err != nil {
		log.Printf("Increment sent count: %v", err)
	}
	msg.Status = models.MessageSent
	msg.ExternalID = externalID
	msg.SentAt = &now
	e.notifyMessage(*msg)
	e.publishProgress(ctx, tenantID, camp.ID)
}

// SendDirect submits a single message outside any campaign. CampaignID stays
// empty on the stored message.
func (e *Engine) SendDirect(ctx context.Context, tenantID string, contact *models.Contact, tpl *models.Template, values map[string]string, text string) (*models.Message, error) {
	var (
		rendered string
		wire     gateway.OutboundMessage
		tplID    string
	)
	if tpl != nil {
		if tpl.Status != models.TemplateApproved {
			return nil, types.NewValidationError(fmt.Sprintf("template %q is %s, not approved", tpl.Name, tpl.Status))
		}
		varNames := tpl.VariableList()
		var err error
		rendered, err = template.Render(tpl.Body, varNames, values)
		if err != nil {
			return nil, err
		}
		wire = gateway.TemplateMessage(contact.Phone, tpl.Name, tpl.Language, bodyParams(varNames, values))
		tplID = tpl.ID
	} else {
		if text == "" {
			return nil, types.NewValidationError("either a template or a text body is required")
		}
		rendered = text
		wire = gateway.TextMessage(contact.Phone, text)
	}

	msg := &models.Message{
		TenantID:   tenantID,
		ContactID:  contact.ID,
		TemplateID: tplID,
		Status:     models.MessagePending,
		Content:    rendered,
	}
	if err := e.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	externalID, err := e.submitWithRetry(ctx, tenantID, wire)
	if err != nil {
		if markErr := e.messages.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
			log.Printf("Mark message %s failed: %v", msg.ID, markErr)
		}
		msg.Status = models.MessageFailed
		msg.FailureReason = err.Error()
		return msg, err
	}

	now := time.Now()
	if err := e.messages.MarkSent(ctx, msg.ID, externalID, now); err != nil {
		return msg, err
	}
	msg.Status = models.MessageSent
	msg.ExternalID = externalID
	msg.SentAt = &now
	e.notifyMessage(*msg)
	return msg, nil
}

// submitWithRetry pushes one message through the tenant's rate budget,
// retrying transient failures with exponential backoff. A rejection or an
// exhausted attempt ceiling is terminal.
func (e *Engine) submitWithRetry(ctx context.Context, tenantID string, wire gateway.OutboundMessage) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := e.limiter.Acquire(ctx, tenantID); err != nil {
			return "", err
		}
		externalID, err := e.gw.Submit(ctx, wire)
		e.limiter.Release(tenantID)

		if err == nil {
			return externalID, nil
		}

		var rejection *gateway.RejectionError
		if errors.As(err, &rejection) {
			return "", rejection
		}

		lastErr = err
		if attempt == e.maxAttempts {
			break
		}
		select {
		case <-time.After(e.backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("gave up after %d attempts: %w", e.maxAttempts, lastErr)
}

func (e *Engine) backoff(attempt int) time.Duration {
	delay := e.baseDelay << uint(attempt-1)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// RunScheduler promotes due scheduled campaigns to active and dispatches
// them. Blocks until ctx is cancelled.
func (e *Engine) RunScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Println("Campaign scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Println("Campaign scheduler stopping")
			return
		case now := <-ticker.C:
			due, err := e.campaigns.DueScheduled(ctx, now)
			if err != nil {
				log.Printf("Scheduler poll: %v", err)
				continue
			}
			for _, camp := range due {
				ok, err := e.campaigns.SetStatus(ctx, camp.ID, models.CampaignActive, models.CampaignScheduled)
				if err != nil {
					log.Printf("Activate campaign %s: %v", camp.ID, err)
					continue
				}
				if !ok {
					continue // someone else got there first
				}
				go func(c models.Campaign) {
					if err := e.Dispatch(ctx, c.TenantID, c.ID); err != nil {
						log.Printf("Scheduled dispatch of campaign %s: %v", c.ID, err)
					}
				}(camp)
			}
		}
	}
}

func (e *Engine) notifyMessage(msg models.Message) {
	if e.Hub != nil {
		e.Hub.NotifyMessageStatus(msg)
	}
}

func (e *Engine) publishProgress(ctx context.Context, tenantID, campaignID string) {
	camp, err := e.campaigns.Get(ctx, tenantID, campaignID)
	if err != nil {
		return
	}
	stats := cache.SnapshotOf(camp)
	if err := e.Stats.Set(ctx, tenantID, stats); err != nil {
		log.Printf("Cache campaign stats: %v", err)
	}
	if e.Hub != nil {
		e.Hub.NotifyCampaignProgress(stats)
	}
}

// contactValues maps each template variable name to the contact's matching
// field. Variables with no matching field are left unset so the placeholder
// survives verbatim.
func contactValues(contact *models.Contact, varNames []string) map[string]string {
	fields := contact.FieldMap()
	values := make(map[string]string, len(varNames))
	for _, name := range varNames {
		if v, ok := fields[name]; ok && v != "" {
			values[name] = v
		}
	}
	return values
}

// bodyParams produces the gateway component parameters in placeholder order.
// Unresolved variables keep their literal placeholder text, matching the
// rendered content.
func bodyParams(varNames []string, values map[string]string) []string {
	params := make([]string, len(varNames))
	for i, name := range varNames {
		if v, ok := values[name]; ok {
			params[i] = v
		} else {
			params[i] = fmt.Sprintf("{{%d}}", i+1)
		}
	}
	return params
}
