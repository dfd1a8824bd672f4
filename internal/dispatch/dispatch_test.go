package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/herald/internal/audience"
	"github.com/foxzi/herald/internal/automation"
	"github.com/foxzi/herald/internal/db"
	"github.com/foxzi/herald/internal/metrics"
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/repository"
	"github.com/foxzi/herald/internal/transport"
)

// fakeTransport records envelopes and fails for configured recipients
type fakeTransport struct {
	mu        sync.Mutex
	delivered []*transport.Envelope
	failFor   map[string]error
	hook      func(env *transport.Envelope)
}

func (f *fakeTransport) Deliver(ctx context.Context, settings models.SMTPSettings, env *transport.Envelope) error {
	f.mu.Lock()
	f.delivered = append(f.delivered, env)
	hook := f.hook
	err := f.failFor[env.To[0]]
	f.mu.Unlock()

	if hook != nil {
		hook(env)
	}
	return err
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

type harness struct {
	d         *Dispatcher
	tr        *fakeTransport
	templates *repository.TemplateRepository
	campaigns *repository.CampaignRepository
	logs      *repository.SendLogRepository
	settings  *repository.SettingsRepository
	users     *repository.UserRepository
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completeConfig() models.MailConfig {
	cfg := models.DefaultMailConfig()
	cfg.SMTP = models.SMTPSettings{
		Host: "smtp.example.com",
		Port: 587,
		User: "mailer",
		Pass: "secret",
		From: "Herald <noreply@example.com>",
	}
	return cfg
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	database, err := db.New(db.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	h := &harness{
		tr:        &fakeTransport{failFor: map[string]error{}},
		templates: repository.NewTemplateRepository(database.DB),
		campaigns: repository.NewCampaignRepository(database.DB),
		logs:      repository.NewSendLogRepository(database.DB),
		settings:  repository.NewSettingsRepository(database.DB),
		users:     repository.NewUserRepository(database.DB),
	}

	if err := h.settings.SaveMailConfig(context.Background(), completeConfig()); err != nil {
		t.Fatalf("SaveMailConfig() error = %v", err)
	}

	h.d = New(Stores{
		Templates: h.templates,
		Campaigns: h.campaigns,
		Logs:      h.logs,
		Settings:  h.settings,
	}, audience.NewResolver(h.users), transport.NewGateway(h.tr, testLogger()), metrics.New(), opts, testLogger())
	return h
}

func (h *harness) entries(t *testing.T, filter models.SendLogFilter) []models.SendLogEntry {
	t.Helper()
	entries, _, err := h.logs.List(context.Background(), filter)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return entries
}

func (h *harness) setConfig(t *testing.T, mutate func(*models.MailConfig)) {
	t.Helper()
	cfg := completeConfig()
	mutate(&cfg)
	if err := h.settings.SaveMailConfig(context.Background(), cfg); err != nil {
		t.Fatalf("SaveMailConfig() error = %v", err)
	}
}

func (h *harness) campaign(t *testing.T, spec models.AudienceSpec) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		Name:     "Launch",
		Subject:  "News for {{firstName}}",
		Body:     "<p>Hello {{fullName}} ({{email}})</p>",
		Audience: spec,
	}
	if err := h.d.SaveCampaign(context.Background(), c); err != nil {
		t.Fatalf("SaveCampaign() error = %v", err)
	}
	return c
}

func TestSendTemplated_DisabledAutomationIsSkipped(t *testing.T) {
	h := newHarness(t, Options{})
	h.setConfig(t, func(c *models.MailConfig) { c.Automations.OnRegister = false })

	res := h.d.SendTemplated(context.Background(), TemplatedRequest{To: "ann@example.com", Ref: automation.KeyWelcome})

	if res.Status != models.SendStatusSkipped || res.Error != automation.DisabledReason {
		t.Fatalf("result = %+v, want skipped/%q", res, automation.DisabledReason)
	}
	if h.tr.count() != 0 {
		t.Errorf("transport called %d times, want 0", h.tr.count())
	}

	entries := h.entries(t, models.SendLogFilter{})
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if entries[0].Status != models.SendStatusSkipped || entries[0].AutomationKey != automation.KeyWelcome {
		t.Errorf("entry = %+v", entries[0])
	}
	if entries[0].Subject == "" {
		t.Error("skipped entry has no subject")
	}
}

func TestSendTemplated_UnsentEntriesKeepSubject(t *testing.T) {
	vars := map[string]any{"firstName": "Ann"}

	tests := []struct {
		name        string
		settings    func(h *harness) SettingsStore
		req         TemplatedRequest
		wantStatus  string
		wantSubject string
	}{
		{
			name:        "automation disabled",
			req:         TemplatedRequest{To: "ann@example.com", Ref: automation.KeyWelcome, Variables: vars},
			wantStatus:  models.SendStatusSkipped,
			wantSubject: "Ann!",
		},
		{
			name:        "mail config unavailable",
			settings:    func(*harness) SettingsStore { return failingSettings{errors.New("store down")} },
			req:         TemplatedRequest{To: "ann@example.com", Ref: automation.KeyWelcome, Variables: vars},
			wantStatus:  models.SendStatusFailed,
			wantSubject: "Ann!",
		},
		{
			name:        "template not found with subject override",
			req:         TemplatedRequest{To: "ann@example.com", Ref: "does-not-exist", Variables: vars, Overrides: &Overrides{Subject: "Hi {{firstName}}"}},
			wantStatus:  models.SendStatusFailed,
			wantSubject: "Hi Ann",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.setConfig(t, func(c *models.MailConfig) { c.Automations.OnRegister = false })

			d := h.d
			if tt.settings != nil {
				d = New(Stores{
					Templates: h.templates,
					Campaigns: h.campaigns,
					Logs:      h.logs,
					Settings:  tt.settings(h),
				}, audience.NewResolver(h.users), transport.NewGateway(h.tr, testLogger()), metrics.New(), Options{}, testLogger())
			}

			res := d.SendTemplated(context.Background(), tt.req)
			if res.Status != tt.wantStatus {
				t.Fatalf("result = %+v, want %s", res, tt.wantStatus)
			}

			entries := h.entries(t, models.SendLogFilter{})
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if !strings.Contains(entries[0].Subject, tt.wantSubject) {
				t.Errorf("entry subject = %q, want it to contain %q", entries[0].Subject, tt.wantSubject)
			}
		})
	}
}

func TestSendTemplated_Resolution(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		stored       []*models.Template
		req          func(ids map[string]string) TemplatedRequest
		wantSubject  string
		wantCategory string
		wantKey      string
	}{
		{
			name: "built-in fallback for automation key",
			req: func(map[string]string) TemplatedRequest {
				return TemplatedRequest{Ref: automation.KeyWelcome, Variables: map[string]any{"appName": "Acme", "firstName": "Ann"}}
			},
			wantSubject:  "Welcome to Acme, Ann!",
			wantCategory: models.CategoryAutomation,
			wantKey:      automation.KeyWelcome,
		},
		{
			name: "stored automation template beats built-in",
			stored: []*models.Template{
				{Name: "Custom welcome", Subject: "Hey {{firstName}}", Body: "<p>hi</p>", Category: models.CategoryAutomation, AutomationKey: automation.KeyWelcome},
			},
			req: func(map[string]string) TemplatedRequest {
				return TemplatedRequest{Ref: automation.KeyWelcome, Variables: map[string]any{"firstName": "Ann"}}
			},
			wantSubject:  "Hey Ann",
			wantCategory: models.CategoryAutomation,
			wantKey:      automation.KeyWelcome,
		},
		{
			name: "explicit subject and body win",
			stored: []*models.Template{
				{Name: "Custom welcome", Subject: "Stored", Body: "<p>stored</p>", Category: models.CategoryAutomation, AutomationKey: automation.KeyWelcome},
			},
			req: func(map[string]string) TemplatedRequest {
				return TemplatedRequest{
					Ref:       automation.KeyWelcome,
					Variables: map[string]any{"firstName": "Ann"},
					Overrides: &Overrides{Subject: "Override {{firstName}}", Body: "<p>o</p>"},
				}
			},
			wantSubject:  "Override Ann",
			wantCategory: models.CategoryAutomation,
			wantKey:      automation.KeyWelcome,
		},
		{
			name: "explicit template id beats automation key",
			stored: []*models.Template{
				{Name: "Custom welcome", Subject: "Stored", Body: "<p>stored</p>", Category: models.CategoryAutomation, AutomationKey: automation.KeyWelcome},
				{Name: "Notice", Subject: "Notice for {{firstName}}", Body: "<p>n</p>", Category: models.CategorySystem},
			},
			req: func(ids map[string]string) TemplatedRequest {
				return TemplatedRequest{
					Ref:       automation.KeyWelcome,
					Variables: map[string]any{"firstName": "Ann"},
					Overrides: &Overrides{TemplateID: ids["Notice"]},
				}
			},
			wantSubject:  "Notice for Ann",
			wantCategory: models.CategoryAutomation,
			wantKey:      automation.KeyWelcome,
		},
		{
			name: "ref used as template id",
			stored: []*models.Template{
				{Name: "Notice", Subject: "Maintenance at {{time}}", Body: "<p>n</p>", Category: models.CategorySystem},
			},
			req: func(ids map[string]string) TemplatedRequest {
				return TemplatedRequest{Ref: ids["Notice"], Variables: map[string]any{"time": "22:00"}}
			},
			wantSubject:  "Maintenance at 22:00",
			wantCategory: models.CategorySystem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			ids := map[string]string{}
			for _, tmpl := range tt.stored {
				if err := h.templates.Create(ctx, tmpl); err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				ids[tmpl.Name] = tmpl.ID
			}

			req := tt.req(ids)
			req.To = "ann@example.com"
			res := h.d.SendTemplated(ctx, req)
			if !res.OK() {
				t.Fatalf("result = %+v, want sent", res)
			}

			entries := h.entries(t, models.SendLogFilter{})
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			e := entries[0]
			if e.Subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", e.Subject, tt.wantSubject)
			}
			if e.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", e.Category, tt.wantCategory)
			}
			if e.AutomationKey != tt.wantKey {
				t.Errorf("automation key = %q, want %q", e.AutomationKey, tt.wantKey)
			}
			if e.SentAt == nil || e.ProviderMessageID == "" {
				t.Errorf("sent entry missing sentAt or provider id: %+v", e)
			}
		})
	}
}

func TestSendTemplated_TemplateNotFound(t *testing.T) {
	h := newHarness(t, Options{})

	res := h.d.SendTemplated(context.Background(), TemplatedRequest{To: "ann@example.com", Ref: "does-not-exist"})

	if res.Status != models.SendStatusFailed || res.Error != MessageTemplateNotFound {
		t.Fatalf("result = %+v", res)
	}
	if res.Reason != models.ReasonTemplateNotFound {
		t.Errorf("reason = %q", res.Reason)
	}
	if h.tr.count() != 0 {
		t.Error("transport must not be called without a template")
	}
	if entries := h.entries(t, models.SendLogFilter{Status: models.SendStatusFailed}); len(entries) != 1 {
		t.Errorf("failed entries = %d, want 1", len(entries))
	}
}

func TestSendTemplated_GatewayOutcomesAreLogged(t *testing.T) {
	tests := []struct {
		name       string
		to         string
		config     func(*models.MailConfig)
		failWith   error
		wantStatus string
		wantError  string
	}{
		{
			name:       "incomplete config",
			to:         "ann@example.com",
			config:     func(c *models.MailConfig) { c.SMTP.Pass = "" },
			wantStatus: models.SendStatusSkipped,
			wantError:  transport.MessageConfigIncomplete,
		},
		{
			name:       "invalid address",
			to:         "not-an-address",
			wantStatus: models.SendStatusFailed,
			wantError:  transport.MessageInvalidAddress,
		},
		{
			name:       "transport error",
			to:         "ann@example.com",
			failWith:   &transport.DeliveryError{Stage: "RCPT TO", Message: "550 no such user"},
			wantStatus: models.SendStatusFailed,
			wantError:  "RCPT TO failed: 550 no such user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			if tt.config != nil {
				h.setConfig(t, tt.config)
			}
			if tt.failWith != nil {
				h.tr.failFor[tt.to] = tt.failWith
			}

			res := h.d.SendTemplated(context.Background(), TemplatedRequest{To: tt.to, Ref: automation.KeyPayment})
			if res.Status != tt.wantStatus || res.Error != tt.wantError {
				t.Fatalf("result = %+v, want %s/%q", res, tt.wantStatus, tt.wantError)
			}

			entries := h.entries(t, models.SendLogFilter{})
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Status != tt.wantStatus || entries[0].ErrorMessage != tt.wantError {
				t.Errorf("entry = %+v", entries[0])
			}
			if entries[0].SentAt != nil {
				t.Error("sentAt set on unsent entry")
			}
		})
	}
}

func TestSendTest_IgnoresAutomationSwitches(t *testing.T) {
	h := newHarness(t, Options{StaticVars: map[string]any{"supportEmail": "help@example.com"}})
	h.setConfig(t, func(c *models.MailConfig) { c.Automations = models.AutomationFlags{} })

	res := h.d.SendTest(context.Background(), TestRequest{
		To:      "ops@example.com",
		Subject: "Test via {{supportEmail}}",
		Body:    "<p>{{note}}</p>",
		Variables: map[string]any{
			"note": "<b>hi</b>",
		},
	})
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}

	entries := h.entries(t, models.SendLogFilter{Category: models.CategoryTest})
	if len(entries) != 1 || entries[0].Subject != "Test via help@example.com" {
		t.Fatalf("entries = %+v", entries)
	}
	if data := string(h.tr.delivered[0].Data); !strings.Contains(data, "&lt;b&gt;hi&lt;/b&gt;") {
		t.Errorf("body was not escaped:\n%s", data)
	}
}

func TestDispatchCampaign_Stats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{Concurrency: 3})
	h.tr.failFor["bob@example.com"] = errors.New("mailbox unavailable")

	c := h.campaign(t, models.AudienceSpec{
		Type:         models.AudienceCustomEmails,
		CustomEmails: []string{"ann@example.com", "ANN@example.com", "bob@example.com", "broken", "cy@example.com"},
	})

	res, err := h.d.DispatchCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("DispatchCampaign() error = %v", err)
	}

	want := models.CampaignStats{Total: 3, Sent: 2, Failed: 1}
	if res.Stats != want {
		t.Errorf("stats = %+v, want %+v", res.Stats, want)
	}
	if !res.Stats.Consistent() {
		t.Error("stats are not consistent")
	}
	if res.Status != models.CampaignStatusSent {
		t.Errorf("status = %q, want sent", res.Status)
	}
	if res.LastError != "mailbox unavailable" {
		t.Errorf("lastError = %q", res.LastError)
	}

	stored, err := h.campaigns.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.CampaignStatusSent || stored.Stats != want || stored.SentAt == nil {
		t.Errorf("stored campaign = %+v", stored)
	}
	if stored.Audience.LastResolvedCount != 3 || len(stored.RecipientsSnapshot) != 3 {
		t.Errorf("snapshot = %d recipients, lastResolvedCount = %d", len(stored.RecipientsSnapshot), stored.Audience.LastResolvedCount)
	}

	entries := h.entries(t, models.SendLogFilter{CampaignID: c.ID})
	if len(entries) != want.Total {
		t.Fatalf("log entries = %d, want %d", len(entries), want.Total)
	}
	for _, e := range entries {
		if e.Category != models.CategoryCampaign || e.CampaignName != "Launch" {
			t.Errorf("entry = %+v", e)
		}
	}
}

func TestDispatchCampaign_Personalisation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})

	if err := h.users.Create(ctx, &models.User{Email: "ann@example.com", FirstName: "Ann", LastName: "Lee"}); err != nil {
		t.Fatal(err)
	}
	c := h.campaign(t, models.AudienceSpec{Type: models.AudienceAllUsers})

	if _, err := h.d.DispatchCampaign(ctx, c.ID); err != nil {
		t.Fatalf("DispatchCampaign() error = %v", err)
	}

	entries := h.entries(t, models.SendLogFilter{CampaignID: c.ID})
	if len(entries) != 1 || entries[0].Subject != "News for Ann" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].UserID == "" {
		t.Error("user id not recorded")
	}
	if data := string(h.tr.delivered[0].Data); !strings.Contains(data, "Hello Ann Lee") {
		t.Errorf("body not personalised:\n%s", data)
	}
}

func TestDispatchCampaign_EmptyAudience(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	c := h.campaign(t, models.AudienceSpec{Type: models.AudienceCustomEmails, CustomEmails: []string{"nope", ""}})

	res, err := h.d.DispatchCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("DispatchCampaign() error = %v", err)
	}
	if res.Status != models.CampaignStatusFailed || res.LastError != MessageNoRecipients || res.Reason != models.ReasonAudienceEmpty {
		t.Errorf("result = %+v", res)
	}
	if res.Stats != (models.CampaignStats{}) {
		t.Errorf("stats = %+v, want zero", res.Stats)
	}
	if entries := h.entries(t, models.SendLogFilter{}); len(entries) != 0 {
		t.Errorf("log entries = %d, want 0", len(entries))
	}

	stored, _ := h.campaigns.GetByID(ctx, c.ID)
	if stored.Status != models.CampaignStatusFailed || stored.LastError != MessageNoRecipients {
		t.Errorf("stored campaign = %+v", stored)
	}
}

func TestDispatchCampaign_NothingSent(t *testing.T) {
	h := newHarness(t, Options{})
	h.setConfig(t, func(c *models.MailConfig) { c.SMTP.Host = "" })
	c := h.campaign(t, models.AudienceSpec{Type: models.AudienceCustomEmails, CustomEmails: []string{"a@example.com", "b@example.com"}})

	res, err := h.d.DispatchCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("DispatchCampaign() error = %v", err)
	}
	if res.Status != models.CampaignStatusFailed {
		t.Errorf("status = %q, want failed", res.Status)
	}
	want := models.CampaignStats{Total: 2, Skipped: 2}
	if res.Stats != want {
		t.Errorf("stats = %+v, want %+v", res.Stats, want)
	}
	if res.LastError != transport.MessageConfigIncomplete {
		t.Errorf("lastError = %q", res.LastError)
	}
}

func TestDispatchCampaign_NotFound(t *testing.T) {
	h := newHarness(t, Options{})
	if _, err := h.d.DispatchCampaign(context.Background(), "missing"); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("error = %v, want ErrCampaignNotFound", err)
	}
}

func TestDispatchCampaign_ConcurrentCallsSendOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{Concurrency: 2})
	recipients := []string{"a@example.com", "b@example.com", "c@example.com"}
	c := h.campaign(t, models.AudienceSpec{Type: models.AudienceCustomEmails, CustomEmails: recipients})

	release := make(chan struct{})
	h.tr.hook = func(*transport.Envelope) { <-release }

	const callers = 5
	type callResult struct {
		res *DispatchResult
		err error
	}
	results := make(chan callResult, callers)
	for i := 0; i < callers; i++ {
		go func() {
			res, err := h.d.DispatchCampaign(ctx, c.ID)
			results <- callResult{res, err}
		}()
	}

	// The winner is parked in the transport until every loser has returned.
	for i := 0; i < callers-1; i++ {
		r := <-results
		if !errors.Is(r.err, ErrDispatchInProgress) {
			t.Fatalf("losing call error = %v, want ErrDispatchInProgress", r.err)
		}
	}

	if err := h.d.SaveCampaign(ctx, &models.Campaign{
		ID: c.ID, Name: "Edited", Subject: "s", Audience: c.Audience,
	}); !errors.Is(err, ErrDispatchInProgress) {
		t.Errorf("SaveCampaign() while sending error = %v, want ErrDispatchInProgress", err)
	}

	close(release)
	winner := <-results
	if winner.err != nil {
		t.Fatalf("winning call error = %v", winner.err)
	}
	if winner.res.Stats.Sent != len(recipients) {
		t.Errorf("sent = %d, want %d", winner.res.Stats.Sent, len(recipients))
	}
	if h.tr.count() != len(recipients) {
		t.Errorf("deliveries = %d, want %d", h.tr.count(), len(recipients))
	}
	if entries := h.entries(t, models.SendLogFilter{CampaignID: c.ID}); len(entries) != len(recipients) {
		t.Errorf("log entries = %d, want %d", len(entries), len(recipients))
	}
}

func TestDispatchCampaign_Cancellation(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 1})
	c := h.campaign(t, models.AudienceSpec{
		Type:         models.AudienceCustomEmails,
		CustomEmails: []string{"a@example.com", "b@example.com", "c@example.com"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.tr.hook = func(*transport.Envelope) { cancel() }

	res, err := h.d.DispatchCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("DispatchCampaign() error = %v", err)
	}

	want := models.CampaignStats{Total: 3, Sent: 1, Skipped: 2}
	if res.Stats != want {
		t.Errorf("stats = %+v, want %+v", res.Stats, want)
	}
	if res.LastError != MessageCancelled {
		t.Errorf("lastError = %q", res.LastError)
	}

	stored, err := h.campaigns.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status == models.CampaignStatusSending {
		t.Error("campaign left in sending state")
	}

	skipped := h.entries(t, models.SendLogFilter{Status: models.SendStatusSkipped})
	if len(skipped) != 2 {
		t.Fatalf("skipped entries = %d, want 2", len(skipped))
	}
	for _, e := range skipped {
		if e.ErrorMessage != MessageCancelled {
			t.Errorf("skipped entry message = %q", e.ErrorMessage)
		}
	}
}

func TestDispatchCampaign_Redispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	c := h.campaign(t, models.AudienceSpec{Type: models.AudienceCustomEmails, CustomEmails: []string{"a@example.com"}})

	for i := 0; i < 2; i++ {
		res, err := h.d.DispatchCampaign(ctx, c.ID)
		if err != nil {
			t.Fatalf("dispatch %d error = %v", i, err)
		}
		if res.Stats.Total != 1 {
			t.Errorf("dispatch %d total = %d, want 1", i, res.Stats.Total)
		}
	}
	if h.tr.count() != 2 {
		t.Errorf("deliveries = %d, want 2", h.tr.count())
	}
}

// failingResolver resolves nothing and reports err
type failingResolver struct {
	AudienceResolver
	err error
}

func (r failingResolver) Resolve(context.Context, models.AudienceSpec) ([]models.Recipient, error) {
	return nil, r.err
}

// failingSettings cannot load the mail configuration
type failingSettings struct{ err error }

func (s failingSettings) GetMailConfig(context.Context) (models.MailConfig, error) {
	return models.MailConfig{}, s.err
}

func TestDispatchCampaign_FailedRedispatchClearsSnapshot(t *testing.T) {
	storeDown := errors.New("store down")

	tests := []struct {
		name      string
		settings  func(h *harness) SettingsStore
		resolver  func(h *harness) AudienceResolver
		wantError string
	}{
		{
			name:      "audience resolution fails",
			settings:  func(h *harness) SettingsStore { return h.settings },
			resolver:  func(h *harness) AudienceResolver { return failingResolver{audience.NewResolver(h.users), storeDown} },
			wantError: "audience resolution failed: store down",
		},
		{
			name:      "mail config unavailable",
			settings:  func(*harness) SettingsStore { return failingSettings{storeDown} },
			resolver:  func(h *harness) AudienceResolver { return audience.NewResolver(h.users) },
			wantError: "mail config unavailable: store down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, Options{})
			c := h.campaign(t, models.AudienceSpec{Type: models.AudienceCustomEmails, CustomEmails: []string{"a@example.com", "b@example.com"}})

			if _, err := h.d.DispatchCampaign(ctx, c.ID); err != nil {
				t.Fatalf("first dispatch error = %v", err)
			}

			d := New(Stores{
				Templates: h.templates,
				Campaigns: h.campaigns,
				Logs:      h.logs,
				Settings:  tt.settings(h),
			}, tt.resolver(h), transport.NewGateway(h.tr, testLogger()), metrics.New(), Options{}, testLogger())

			res, err := d.DispatchCampaign(ctx, c.ID)
			if err != nil {
				t.Fatalf("second dispatch error = %v", err)
			}
			if res.Status != models.CampaignStatusFailed || res.LastError != tt.wantError {
				t.Errorf("result = %+v", res)
			}

			stored, err := h.campaigns.GetByID(ctx, c.ID)
			if err != nil {
				t.Fatal(err)
			}
			if stored.Stats.Total != len(stored.RecipientsSnapshot) {
				t.Errorf("stats.total = %d, snapshot = %d", stored.Stats.Total, len(stored.RecipientsSnapshot))
			}
			if stored.Stats.Total != 0 || stored.Audience.LastResolvedCount != 0 {
				t.Errorf("stored stats = %+v, lastResolvedCount = %d", stored.Stats, stored.Audience.LastResolvedCount)
			}
		})
	}
}

// flakyCampaigns fails the first failures calls to Finish
type flakyCampaigns struct {
	CampaignStore
	failures int
	calls    int
}

func (f *flakyCampaigns) Finish(ctx context.Context, id, status string, stats models.CampaignStats, lastError string, sentAt *time.Time) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("database is locked")
	}
	return f.CampaignStore.Finish(ctx, id, status, stats, lastError, sentAt)
}

func TestDispatchCampaign_FinishWrite(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		wantErr    bool
		wantStatus string
	}{
		{"first write succeeds", 0, false, models.CampaignStatusSent},
		{"retry after one failure", 1, false, models.CampaignStatusSent},
		{"both writes fail", 2, true, models.CampaignStatusSending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, Options{})
			c := h.campaign(t, models.AudienceSpec{Type: models.AudienceCustomEmails, CustomEmails: []string{"a@example.com"}})

			d := New(Stores{
				Templates: h.templates,
				Campaigns: &flakyCampaigns{CampaignStore: h.campaigns, failures: tt.failures},
				Logs:      h.logs,
				Settings:  h.settings,
			}, audience.NewResolver(h.users), transport.NewGateway(h.tr, testLogger()), metrics.New(), Options{}, testLogger())

			_, err := d.DispatchCampaign(ctx, c.ID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DispatchCampaign() error = %v, wantErr %v", err, tt.wantErr)
			}

			stored, err := h.campaigns.GetByID(ctx, c.ID)
			if err != nil {
				t.Fatal(err)
			}
			if stored.Status != tt.wantStatus {
				t.Errorf("stored status = %q, want %q", stored.Status, tt.wantStatus)
			}
		})
	}
}

func TestSaveCampaign_Validation(t *testing.T) {
	h := newHarness(t, Options{})

	tests := []struct {
		name string
		c    models.Campaign
	}{
		{"missing name", models.Campaign{Subject: "s", Audience: models.AudienceSpec{Type: models.AudienceAllUsers}}},
		{"missing subject", models.Campaign{Name: "n", Audience: models.AudienceSpec{Type: models.AudienceAllUsers}}},
		{"unknown audience", models.Campaign{Name: "n", Subject: "s", Audience: models.AudienceSpec{Type: "everyone"}}},
		{"negative window", models.Campaign{Name: "n", Subject: "s", Audience: models.AudienceSpec{Type: models.AudienceRecentUsers, DaysSinceSignup: -1}}},
		{"malformed placeholder", models.Campaign{Name: "n", Subject: "Hi {{first name}}", Audience: models.AudienceSpec{Type: models.AudienceAllUsers}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.c
			if err := h.d.SaveCampaign(context.Background(), &c); !errors.Is(err, ErrInvalidCampaign) {
				t.Errorf("SaveCampaign() error = %v, want ErrInvalidCampaign", err)
			}
		})
	}
}

func TestSaveCampaign_UpdateMissing(t *testing.T) {
	h := newHarness(t, Options{})
	c := &models.Campaign{ID: "missing", Name: "n", Subject: "s", Audience: models.AudienceSpec{Type: models.AudienceAllUsers}}
	if err := h.d.SaveCampaign(context.Background(), c); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("SaveCampaign() error = %v, want ErrCampaignNotFound", err)
	}
}

func TestSaveTemplate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})

	tmpl := &models.Template{
		Name:     "Receipt",
		Subject:  "Receipt {{number}}",
		Body:     "<p>{{firstName}} paid {{{amountHtml}}} for {{number}}</p>",
		Category: models.CategorySystem,
	}
	if err := h.d.SaveTemplate(ctx, tmpl); err != nil {
		t.Fatalf("SaveTemplate() error = %v", err)
	}
	want := []string{"number", "firstName", "amountHtml"}
	if strings.Join(tmpl.VariableNames, ",") != strings.Join(want, ",") {
		t.Errorf("VariableNames = %v, want %v", tmpl.VariableNames, want)
	}

	invalid := []models.Template{
		{Subject: "s", Category: models.CategorySystem},
		{Name: "n", Subject: "s", Category: "marketing"},
		{Name: "n", Subject: "s", Category: models.CategoryAutomation},
		{Name: "n", Subject: "s", Category: models.CategoryCampaign, AutomationKey: automation.KeyWelcome},
		{Name: "n", Subject: "{{ broken", Category: models.CategorySystem},
	}
	for i := range invalid {
		if err := h.d.SaveTemplate(ctx, &invalid[i]); !errors.Is(err, ErrInvalidTemplate) {
			t.Errorf("SaveTemplate(%+v) error = %v, want ErrInvalidTemplate", invalid[i], err)
		}
	}
}

func TestPreviewAudience(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{SampleSize: 2})

	for _, addr := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if err := h.users.Create(ctx, &models.User{Email: addr}); err != nil {
			t.Fatal(err)
		}
	}

	preview, err := h.d.PreviewAudience(ctx, models.AudienceSpec{Type: models.AudienceAllUsers})
	if err != nil {
		t.Fatalf("PreviewAudience() error = %v", err)
	}
	if preview.Count != 3 || len(preview.Sample) != 2 {
		t.Errorf("preview = count %d, sample %d", preview.Count, len(preview.Sample))
	}
	if h.tr.count() != 0 {
		t.Error("preview must not send")
	}

	if _, err := h.d.PreviewAudience(ctx, models.AudienceSpec{Type: "bogus"}); !errors.Is(err, ErrInvalidAudience) {
		t.Errorf("error = %v, want ErrInvalidAudience", err)
	}
}
