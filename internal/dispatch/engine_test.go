package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"campaign-gateway/internal/database"
	"campaign-gateway/internal/gateway"
	"campaign-gateway/internal/models"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeGateway struct {
	mu          sync.Mutex
	submissions []gateway.OutboundMessage
	reject      map[string]bool // phone -> permanently rejected
	flaky       int             // transient failures before the first success
	nextID      int
}

func (f *fakeGateway) Submit(_ context.Context, msg gateway.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[msg.To] {
		return "", &gateway.RejectionError{Code: 131026, Message: "recipient not on platform"}
	}
	if f.flaky > 0 {
		f.flaky--
		return "", &gateway.TransientError{Err: errors.New("upstream timeout")}
	}
	f.submissions = append(f.submissions, msg)
	f.nextID++
	return fmt.Sprintf("wamid.test.%d", f.nextID), nil
}

func (f *fakeGateway) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}

type fixture struct {
	db        *gorm.DB
	campaigns *store.CampaignStore
	contacts  *store.ContactStore
	templates *store.TemplateStore
	messages  *store.MessageStore
	gw        *fakeGateway
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	f := &fixture{
		db:        db,
		campaigns: store.NewCampaignStore(db),
		contacts:  store.NewContactStore(db),
		templates: store.NewTemplateStore(db),
		messages:  store.NewMessageStore(db),
		gw:        &fakeGateway{reject: map[string]bool{}},
	}
	f.engine = NewEngine(f.campaigns, f.contacts, f.templates, f.messages, f.gw, NewTenantLimiter(5), Options{
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		Workers:        4,
	})
	return f
}

// seed creates an approved one-variable template, n contacts and an active
// campaign targeting all of them.
func (f *fixture) seed(t *testing.T, n int) (*models.Campaign, []models.Contact) {
	t.Helper()
	ctx := context.Background()

	tpl := &models.Template{
		TenantID: "t1",
		Name:     "welcome",
		Language: "en",
		Body:     "Hi {{1}}, welcome aboard",
		Status:   models.TemplateApproved,
	}
	tpl.SetVariableList([]string{"first_name"})
	require.NoError(t, f.templates.Create(ctx, tpl))

	contacts := make([]models.Contact, 0, n)
	targets := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c := models.Contact{
			TenantID:  "t1",
			Phone:     fmt.Sprintf("+1202555%04d", i),
			FirstName: fmt.Sprintf("Contact%d", i),
			Active:    true,
		}
		require.NoError(t, f.contacts.Create(ctx, &c))
		contacts = append(contacts, c)
		targets = append(targets, c.ID)
	}

	camp := &models.Campaign{
		TenantID:   "t1",
		Name:       "launch",
		TemplateID: tpl.ID,
		Status:     models.CampaignActive,
	}
	camp.SetTargetIDs(targets)
	require.NoError(t, f.campaigns.Create(ctx, camp))
	return camp, contacts
}

func TestDispatchSendsToEveryTarget(t *testing.T) {
	f := newFixture(t)
	camp, _ := f.seed(t, 3)
	ctx := context.Background()

	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))

	assert.Equal(t, 3, f.gw.submitted())

	msgs, err := f.messages.ListByCampaign(ctx, "t1", camp.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, models.MessageSent, m.Status)
		assert.NotEmpty(t, m.ExternalID)
		assert.NotNil(t, m.SentAt)
		assert.Contains(t, m.Content, "Contact")
	}

	got, err := f.campaigns.Get(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SentCount)
	assert.Equal(t, 0, got.FailedCount)
	// Sent is not terminal; the campaign stays active until delivery resolves.
	assert.Equal(t, models.CampaignActive, got.Status)
}

func TestDispatchIsolatesRejections(t *testing.T) {
	f := newFixture(t)
	camp, contacts := f.seed(t, 3)
	ctx := context.Background()

	f.gw.reject[contacts[1].Phone] = true

	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))

	got, err := f.campaigns.Get(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)

	msgs, err := f.messages.ListByCampaign(ctx, "t1", camp.ID)
	require.NoError(t, err)
	var failed *models.Message
	for i := range msgs {
		if msgs[i].ContactID == contacts[1].ID {
			failed = &msgs[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, models.MessageFailed, failed.Status)
	assert.Contains(t, failed.FailureReason, "recipient not on platform")
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	camp, _ := f.seed(t, 1)
	ctx := context.Background()

	f.gw.flaky = 2 // succeeds on the third attempt, within MaxAttempts=3

	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))

	got, err := f.campaigns.Get(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, 0, got.FailedCount)
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	camp, _ := f.seed(t, 1)
	ctx := context.Background()

	f.gw.flaky = 10 // more transient failures than the attempt budget

	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))

	got, err := f.campaigns.Get(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)

	msgs, err := f.messages.ListByCampaign(ctx, "t1", camp.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageFailed, msgs[0].Status)
	assert.Contains(t, msgs[0].FailureReason, "gave up after 3 attempts")
}

func TestDispatchSkipsAlreadyMessagedContacts(t *testing.T) {
	f := newFixture(t)
	camp, _ := f.seed(t, 3)
	ctx := context.Background()

	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))
	require.Equal(t, 3, f.gw.submitted())

	// A second invocation finds every target already holding a live message.
	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))
	assert.Equal(t, 3, f.gw.submitted())

	msgs, err := f.messages.ListByCampaign(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	got, err := f.campaigns.Get(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SentCount)
}

func TestDispatchRetriesOnlyFailedContacts(t *testing.T) {
	f := newFixture(t)
	camp, contacts := f.seed(t, 3)
	ctx := context.Background()

	f.gw.reject[contacts[2].Phone] = true
	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))
	require.Equal(t, 2, f.gw.submitted())

	// The rejected contact gets a fresh message on re-dispatch, the two
	// delivered ones do not.
	delete(f.gw.reject, contacts[2].Phone)
	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))
	assert.Equal(t, 3, f.gw.submitted())

	got, err := f.campaigns.Get(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
}

func TestRedispatchAfterFailureKeepsCampaignActive(t *testing.T) {
	f := newFixture(t)
	camp, contacts := f.seed(t, 2)
	ctx := context.Background()

	f.gw.reject[contacts[1].Phone] = true
	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))

	// The first contact's delivery resolves before the retry pass runs.
	msgs, err := f.messages.ListByCampaign(ctx, "t1", camp.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.ContactID == contacts[0].ID {
			require.NoError(t, f.messages.AdvanceStatus(ctx, m.ID, models.MessageRead, time.Now()))
		}
	}

	delete(f.gw.reject, contacts[1].Phone)
	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))

	// The retried contact's fresh message is only sent, not yet resolved, so
	// the stale failed message must not close the campaign.
	status, err := f.campaigns.GetStatus(ctx, camp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignActive, status)

	var retried *models.Message
	msgs, err = f.messages.ListByCampaign(ctx, "t1", camp.ID)
	require.NoError(t, err)
	for i := range msgs {
		if msgs[i].ContactID == contacts[1].ID && msgs[i].Status == models.MessageSent {
			retried = &msgs[i]
		}
	}
	require.NotNil(t, retried)

	require.NoError(t, f.messages.AdvanceStatus(ctx, retried.ID, models.MessageDelivered, time.Now()))
	done, err := f.campaigns.CompleteIfDone(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestDispatchPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tpl := &models.Template{TenantID: "t1", Name: "draft-tpl", Body: "hello", Status: models.TemplatePending}
	require.NoError(t, f.templates.Create(ctx, tpl))

	draft := &models.Campaign{TenantID: "t1", Name: "not-yet", TemplateID: tpl.ID, Status: models.CampaignDraft}
	draft.SetTargetIDs([]string{"someone"})
	require.NoError(t, f.campaigns.Create(ctx, draft))

	err := f.engine.Dispatch(ctx, "t1", draft.ID)
	assert.True(t, types.IsValidation(err), "draft campaign must be refused: %v", err)

	active := &models.Campaign{TenantID: "t1", Name: "unapproved", TemplateID: tpl.ID, Status: models.CampaignActive}
	active.SetTargetIDs([]string{"someone"})
	require.NoError(t, f.campaigns.Create(ctx, active))

	err = f.engine.Dispatch(ctx, "t1", active.ID)
	assert.True(t, types.IsValidation(err), "unapproved template must be refused: %v", err)

	require.NoError(t, f.templates.SetApprovalStatus(ctx, "t1", tpl.ID, models.TemplateApproved, ""))
	empty := &models.Campaign{TenantID: "t1", Name: "no-targets", TemplateID: tpl.ID, Status: models.CampaignActive}
	require.NoError(t, f.campaigns.Create(ctx, empty))

	err = f.engine.Dispatch(ctx, "t1", empty.ID)
	assert.True(t, types.IsValidation(err), "empty target set must be refused: %v", err)

	assert.Equal(t, 0, f.gw.submitted())
}

func TestDispatchRecordsUnreachableTargets(t *testing.T) {
	f := newFixture(t)
	camp, _ := f.seed(t, 2)
	ctx := context.Background()

	// Add a target id that resolves to no contact.
	got, err := f.campaigns.Get(ctx, "t1", camp.ID)
	require.NoError(t, err)
	got.SetTargetIDs(append(got.TargetIDs(), "ghost-contact"))
	require.NoError(t, f.campaigns.Update(ctx, got))

	require.NoError(t, f.engine.Dispatch(ctx, "t1", camp.ID))

	assert.Equal(t, 2, f.gw.submitted())

	after, err := f.campaigns.Get(ctx, "t1", camp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.SentCount)
	assert.Equal(t, 1, after.FailedCount)

	msgs, err := f.messages.ListByCampaign(ctx, "t1", camp.ID)
	require.NoError(t, err)
	var ghost *models.Message
	for i := range msgs {
		if msgs[i].ContactID == "ghost-contact" {
			ghost = &msgs[i]
		}
	}
	require.NotNil(t, ghost)
	assert.Equal(t, models.MessageFailed, ghost.Status)
	assert.Equal(t, "contact missing or inactive", ghost.FailureReason)
}

func TestSendDirectOutsideCampaign(t *testing.T) {
	f := newFixture(t)
	_, contacts := f.seed(t, 1)
	ctx := context.Background()

	msg, err := f.engine.SendDirect(ctx, "t1", &contacts[0], nil, nil, "ad-hoc hello")
	require.NoError(t, err)
	assert.Equal(t, models.MessageSent, msg.Status)
	assert.Empty(t, msg.CampaignID)
	assert.Equal(t, "ad-hoc hello", msg.Content)

	_, err = f.engine.SendDirect(ctx, "t1", &contacts[0], nil, nil, "")
	assert.True(t, types.IsValidation(err))
}

func TestTenantLimiterBoundsConcurrency(t *testing.T) {
	limiter := NewTenantLimiter(2)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx, "t1"))
	require.NoError(t, limiter.Acquire(ctx, "t1"))

	// Third slot for the same tenant blocks until a release.
	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Acquire(blocked, "t1"))

	// Other tenants have their own budget.
	require.NoError(t, limiter.Acquire(ctx, "t2"))

	limiter.Release("t1")
	require.NoError(t, limiter.Acquire(ctx, "t1"))
}
