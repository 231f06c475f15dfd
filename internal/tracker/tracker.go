package tracker

import (
	"context"
	"hash/fnv"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"campaign-gateway/internal/cache"
	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/types"
	pkgmodels "campaign-gateway/pkg/models"
)

// Notifier receives live status updates. The websocket hub implements it.
type Notifier interface {
	NotifyMessageStatus(msg models.Message)
	NotifyCampaignProgress(stats cache.CampaignStats)
}

const lockStripes = 64

// Tracker reconciles asynchronous gateway webhooks with local message state.
// Updates to one message are serialized on a lock stripe keyed by the
// external id, so duplicate or out-of-order webhook delivery cannot regress
// a status. Striping keeps the lock footprint fixed no matter how many
// messages have ever been tracked.
type Tracker struct {
	campaigns *store.CampaignStore
	contacts  *store.ContactStore
	messages  *store.MessageStore
	events    *store.WebhookEventStore

	// Optional collaborators, nil-safe.
	Hub   Notifier
	Stats *cache.StatsCache

	locks [lockStripes]sync.Mutex
}

func NewTracker(
	campaigns *store.CampaignStore,
	contacts *store.ContactStore,
	messages *store.MessageStore,
	events *store.WebhookEventStore,
) *Tracker {
	return &Tracker{
		campaigns: campaigns,
		contacts:  contacts,
		messages:  messages,
		events:    events,
	}
}

func (t *Tracker) lockFor(externalID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(externalID))
	return &t.locks[h.Sum32()%lockStripes]
}

// ApplyStatus applies one delivery-status change. It is idempotent: a status
// that is not strictly later than the message's current status is a no-op.
// An unknown external id returns types.ErrUnknownMessage so the caller keeps
// the raw event unprocessed for later reconciliation.
func (t *Tracker) ApplyStatus(ctx context.Context, tenantID string, change pkgmodels.StatusChange) error {
	l := t.lockFor(change.ID)
	l.Lock()
	defer l.Unlock()

	msg, err := t.messages.FindByExternalID(ctx, tenantID, change.ID)
	if err == types.ErrNotFound {
		return types.ErrUnknownMessage
	}
	if err != nil {
		return err
	}

	if change.Status == "failed" {
		return t.applyFailure(ctx, tenantID, msg, change)
	}

	newRank := models.StatusRank(change.Status)
	if newRank < 0 {
		log.Printf("Ignoring unknown status %q for message %s", change.Status, msg.ID)
		return nil
	}
	if msg.Status == models.MessageFailed || newRank <= models.StatusRank(msg.Status) {
		// Duplicate or out-of-order event; already at or past this state.
		return nil
	}

	at := eventTime(change.Timestamp)
	if err := t.messages.AdvanceStatus(ctx, msg.ID, change.Status, at); err != nil {
		return err
	}
	msg.Status = change.Status
	switch change.Status {
	case models.MessageDelivered:
		msg.DeliveredAt = &at
	case models.MessageRead:
		msg.ReadAt = &at
	}

	if msg.CampaignID != "" {
		if change.Status == models.MessageDelivered {
			if err := t.campaigns.Increment(ctx, msg.CampaignID, store.CounterDelivered); err != nil {
				log.Printf("Increment delivered count: %v", err)
			}
		}
		if models.IsTerminalStatus(msg.Status) {
			if _, err := t.campaigns.CompleteIfDone(ctx, tenantID, msg.CampaignID); err != nil {
				log.Printf("Completion check for campaign %s: %v", msg.CampaignID, err)
			}
		}
		t.publishProgress(ctx, tenantID, msg.CampaignID)
	}
	t.notifyMessage(*msg)
	return nil
}

func (t *Tracker) applyFailure(ctx context.Context, tenantID string, msg *models.Message, change pkgmodels.StatusChange) error {
	// failed is reachable from pending or sent only; a message already
	// delivered or read keeps its state.
	if msg.Status != models.MessagePending && msg.Status != models.MessageSent {
		return nil
	}

	reason := "gateway reported failure"
	if len(change.Errors) > 0 {
		parts := make([]string, 0, len(change.Errors))
		for _, e := range change.Errors {
			parts = append(parts, e.Title)
		}
		reason = strings.Join(parts, "; ")
	}

	if err := t.messages.MarkFailed(ctx, msg.ID, reason); err != nil {
		return err
	}
	msg.Status = models.MessageFailed
	msg.FailureReason = reason

	if msg.CampaignID != "" {
		if err := t.campaigns.Increment(ctx, msg.CampaignID, store.CounterFailed); err != nil {
			log.Printf("Increment failed count: %v", err)
		}
		if _, err := t.campaigns.CompleteIfDone(ctx, tenantID, msg.CampaignID); err != nil {
			log.Printf("Completion check for campaign %s: %v", msg.CampaignID, err)
		}
		t.publishProgress(ctx, tenantID, msg.CampaignID)
	}
	t.notifyMessage(*msg)
	return nil
}

// ApplyInbound handles a reply from a contact: it bumps the response counter
// of the campaign that most recently messaged them. Message statuses are not
// touched. An unknown sender returns types.ErrUnknownMessage.
func (t *Tracker) ApplyInbound(ctx context.Context, tenantID string, inbound pkgmodels.InboundMessage) error {
	already, err := t.events.HasProcessed(ctx, tenantID, inbound.ID, models.EventMessageReceived)
	if err != nil {
		return err
	}
	if already {
		return nil // redelivered webhook
	}

	contact, err := t.contacts.GetByPhone(ctx, tenantID, canonicalPhone(inbound.From))
	if err == types.ErrNotFound {
		return types.ErrUnknownMessage
	}
	if err != nil {
		return err
	}

	msg, err := t.messages.LatestCampaignMessage(ctx, tenantID, contact.ID)
	if err == types.ErrNotFound {
		return nil // reply outside any campaign context, nothing to count
	}
	if err != nil {
		return err
	}

	if err := t.campaigns.Increment(ctx, msg.CampaignID, store.CounterResponse); err != nil {
		return err
	}
	t.publishProgress(ctx, tenantID, msg.CampaignID)
	return nil
}

func (t *Tracker) notifyMessage(msg models.Message) {
	if t.Hub != nil {
		t.Hub.NotifyMessageStatus(msg)
	}
}

func (t *Tracker) publishProgress(ctx context.Context, tenantID, campaignID string) {
	camp, err := t.campaigns.Get(ctx, tenantID, campaignID)
	if err != nil {
		return
	}
	stats := cache.SnapshotOf(camp)
	if err := t.Stats.Set(ctx, tenantID, stats); err != nil {
		log.Printf("Cache campaign stats: %v", err)
	}
	if t.Hub != nil {
		t.Hub.NotifyCampaignProgress(stats)
	}
}

// eventTime parses the unix-seconds timestamp the gateway puts on webhook
// events, falling back to now.
func eventTime(ts string) time.Time {
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	return time.Now()
}

func canonicalPhone(waID string) string {
	if strings.HasPrefix(waID, "+") {
		return waID
	}
	return "+" + waID
}
