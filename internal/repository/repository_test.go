package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/herald/internal/db"
	"github.com/foxzi/herald/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.New(db.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return database.DB
}

func TestTemplateRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(setupTestDB(t))

	tmpl := &models.Template{
		Name:          "Welcome",
		Subject:       "Hi {{firstName}}",
		Body:          "<p>{{firstName}}</p>",
		Category:      models.CategoryAutomation,
		AutomationKey: "welcome",
		VariableNames: []string{"firstName"},
	}
	if err := repo.Create(ctx, tmpl); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tmpl.ID == "" {
		t.Fatal("Create() did not set ID")
	}

	got, err := repo.GetByID(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil || got.Subject != tmpl.Subject {
		t.Fatalf("GetByID() = %+v", got)
	}
	if len(got.VariableNames) != 1 || got.VariableNames[0] != "firstName" {
		t.Errorf("VariableNames = %v", got.VariableNames)
	}

	byKey, err := repo.GetByAutomationKey(ctx, "welcome")
	if err != nil {
		t.Fatalf("GetByAutomationKey() error = %v", err)
	}
	if byKey == nil || byKey.ID != tmpl.ID {
		t.Errorf("GetByAutomationKey() = %+v", byKey)
	}

	missing, err := repo.GetByID(ctx, "non-existent")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if missing != nil {
		t.Error("GetByID() should return nil for non-existent ID")
	}
}

func TestTemplateRepository_UpdateListDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(setupTestDB(t))

	for _, name := range []string{"News A", "News B"} {
		if err := repo.Create(ctx, &models.Template{Name: name, Subject: "s", Body: "b", Category: models.CategoryCampaign}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	sys := &models.Template{Name: "System", Subject: "s", Body: "b", Category: models.CategorySystem}
	if err := repo.Create(ctx, sys); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	list, total, err := repo.List(ctx, models.TemplateListFilter{Category: models.CategoryCampaign})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Errorf("List() total = %d, len = %d, want 2", total, len(list))
	}

	list, total, err = repo.List(ctx, models.TemplateListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 || len(list) != 1 {
		t.Errorf("List(limit 1) total = %d, len = %d", total, len(list))
	}

	sys.Subject = "changed"
	if err := repo.Update(ctx, sys); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, sys.ID)
	if got.Subject != "changed" {
		t.Errorf("Subject = %q after update", got.Subject)
	}

	if err := repo.Update(ctx, &models.Template{ID: "missing"}); err == nil {
		t.Error("Update() of missing template should fail")
	}

	if err := repo.Delete(ctx, sys.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := repo.GetByID(ctx, sys.ID); got != nil {
		t.Error("template still present after Delete()")
	}
}

func newDraft(t *testing.T, repo *CampaignRepository) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		Name:     "Launch",
		Subject:  "News",
		Body:     "<p>Hello {{firstName}}</p>",
		Audience: models.AudienceSpec{Type: models.AudienceCustomEmails, CustomEmails: []string{"a@x.com"}},
	}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}

func TestCampaignRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepository(setupTestDB(t))
	c := newDraft(t, repo)

	got, err := repo.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.CampaignStatusDraft {
		t.Errorf("Status = %q, want draft", got.Status)
	}
	if got.Audience.Type != models.AudienceCustomEmails || len(got.Audience.CustomEmails) != 1 {
		t.Errorf("Audience = %+v", got.Audience)
	}

	won, err := repo.TryStartSending(ctx, c.ID)
	if err != nil || !won {
		t.Fatalf("TryStartSending() = %v, %v, want true", won, err)
	}
	won, err = repo.TryStartSending(ctx, c.ID)
	if err != nil || won {
		t.Fatalf("second TryStartSending() = %v, %v, want false", won, err)
	}

	c.Name = "Renamed"
	if err := repo.UpdateDraft(ctx, c); !errors.Is(err, ErrCampaignBusy) {
		t.Errorf("UpdateDraft() while sending error = %v, want ErrCampaignBusy", err)
	}
	if err := repo.Delete(ctx, c.ID); !errors.Is(err, ErrCampaignBusy) {
		t.Errorf("Delete() while sending error = %v, want ErrCampaignBusy", err)
	}

	recipients := []models.Recipient{{Email: "a@x.com"}}
	audience := got.Audience
	audience.LastResolvedCount = 1
	if err := repo.SaveSnapshot(ctx, c.ID, audience, recipients); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	sentAt := time.Now().UTC()
	stats := models.CampaignStats{Total: 1, Sent: 1}
	if err := repo.Finish(ctx, c.ID, models.CampaignStatusSent, stats, "", &sentAt); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, _ = repo.GetByID(ctx, c.ID)
	if got.Status != models.CampaignStatusSent {
		t.Errorf("Status = %q, want sent", got.Status)
	}
	if got.Stats != stats {
		t.Errorf("Stats = %+v, want %+v", got.Stats, stats)
	}
	if got.Audience.LastResolvedCount != 1 || len(got.RecipientsSnapshot) != 1 {
		t.Errorf("snapshot not stored: %+v / %v", got.Audience, got.RecipientsSnapshot)
	}
	if got.SentAt == nil {
		t.Error("SentAt not stored")
	}

	// Terminal campaigns can be sent again
	won, err = repo.TryStartSending(ctx, c.ID)
	if err != nil || !won {
		t.Errorf("TryStartSending() from sent = %v, %v, want true", won, err)
	}
}

func TestCampaignRepository_ResetStale(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepository(setupTestDB(t))

	stuck := newDraft(t, repo)
	if won, err := repo.TryStartSending(ctx, stuck.ID); err != nil || !won {
		t.Fatalf("TryStartSending() = %v, %v", won, err)
	}
	audience := stuck.Audience
	audience.LastResolvedCount = 1
	if err := repo.SaveSnapshot(ctx, stuck.ID, audience, []models.Recipient{{Email: "a@x.com"}}); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	sent := newDraft(t, repo)
	repo.TryStartSending(ctx, sent.ID)
	sentAt := time.Now().UTC()
	if err := repo.Finish(ctx, sent.ID, models.CampaignStatusSent, models.CampaignStats{Total: 1, Sent: 1}, "", &sentAt); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	draft := newDraft(t, repo)

	n, err := repo.ResetStale(ctx)
	if err != nil {
		t.Fatalf("ResetStale() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ResetStale() = %d, want 1", n)
	}

	tests := []struct {
		name       string
		id         string
		wantStatus string
		wantError  string
		wantTotal  int
	}{
		{"stuck campaign", stuck.ID, models.CampaignStatusFailed, MessageDispatchInterrupted, 0},
		{"sent campaign", sent.ID, models.CampaignStatusSent, "", 1},
		{"draft campaign", draft.ID, models.CampaignStatusDraft, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetByID(ctx, tt.id)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if got.Status != tt.wantStatus || got.LastError != tt.wantError {
				t.Errorf("status = %q, lastError = %q", got.Status, got.LastError)
			}
			if got.Stats.Total != tt.wantTotal || len(got.RecipientsSnapshot) != tt.wantTotal {
				t.Errorf("stats.total = %d, snapshot = %d, want %d", got.Stats.Total, len(got.RecipientsSnapshot), tt.wantTotal)
			}
		})
	}

	got, _ := repo.GetByID(ctx, stuck.ID)
	if got.Audience.LastResolvedCount != 0 || got.Audience.Type != models.AudienceCustomEmails {
		t.Errorf("audience = %+v", got.Audience)
	}
	if won, err := repo.TryStartSending(ctx, stuck.ID); err != nil || !won {
		t.Errorf("TryStartSending() after reset = %v, %v, want true", won, err)
	}

	if n, err := repo.ResetStale(ctx); err != nil || n != 1 {
		t.Errorf("second ResetStale() = %d, %v, want 1", n, err)
	}
}

func TestCampaignRepository_TryStartSendingConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepository(setupTestDB(t))
	c := newDraft(t, repo)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.TryStartSending(ctx, c.ID)
			if err != nil {
				t.Errorf("TryStartSending() error = %v", err)
				return
			}
			if won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestCampaignRepository_UpdateDraftAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepository(setupTestDB(t))
	c := newDraft(t, repo)
	newDraft(t, repo)

	c.Subject = "Updated"
	if err := repo.UpdateDraft(ctx, c); err != nil {
		t.Fatalf("UpdateDraft() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, c.ID)
	if got.Subject != "Updated" {
		t.Errorf("Subject = %q", got.Subject)
	}

	list, total, err := repo.List(ctx, models.CampaignListFilter{Status: models.CampaignStatusDraft})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Errorf("List() total = %d, len = %d", total, len(list))
	}

	if err := repo.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := repo.GetByID(ctx, c.ID); got != nil {
		t.Error("campaign still present after Delete()")
	}
}

func TestUserRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(setupTestDB(t))
	now := time.Now().UTC()

	users := []*models.User{
		{Email: "admin@x.com", FirstName: "Ada", Role: models.RoleAdmin, NotificationsEnabled: true, CreatedAt: now.AddDate(0, 0, -100)},
		{Email: "old@x.com", FirstName: "Olga", NotificationsEnabled: false, CreatedAt: now.AddDate(0, 0, -60)},
		{Email: "new@x.com", FirstName: "Ned", LastName: "New", NotificationsEnabled: true, CreatedAt: now.AddDate(0, 0, -2)},
	}
	for _, u := range users {
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	since := now.AddDate(0, 0, -30)
	tests := []struct {
		name   string
		filter models.UserFilter
		want   int
	}{
		{"all", models.UserFilter{}, 3},
		{"admins", models.UserFilter{Role: models.RoleAdmin}, 1},
		{"notifications enabled", models.UserFilter{NotificationsEnabled: true}, 2},
		{"recent", models.UserFilter{CreatedSince: &since}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List() returned %d users, want %d", len(got), tt.want)
			}
		})
	}

	recent, _ := repo.List(ctx, models.UserFilter{CreatedSince: &since})
	if len(recent) == 1 && (recent[0].Email != "new@x.com" || recent[0].LastName != "New") {
		t.Errorf("recent user = %+v", recent[0])
	}
}

func TestSendLogRepository_AppendListStats(t *testing.T) {
	ctx := context.Background()
	repo := NewSendLogRepository(setupTestDB(t))
	sentAt := time.Now().UTC()

	entries := []*models.SendLogEntry{
		{To: "a@x.com", Subject: "s", Status: models.SendStatusSent, Category: models.CategoryCampaign, CampaignID: "c1", ProviderMessageID: "<m1@x.com>", SentAt: &sentAt},
		{To: "b@x.com", Subject: "s", Status: models.SendStatusFailed, Category: models.CategoryCampaign, CampaignID: "c1", ErrorMessage: "550 rejected"},
		{To: "c@x.com", Subject: "s", Status: models.SendStatusSkipped, Category: models.CategoryAutomation, AutomationKey: "welcome", ErrorMessage: "automation disabled",
			Variables: map[string]any{"firstName": "Cy"}},
	}
	for _, e := range entries {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if e.ID == "" {
			t.Fatal("Append() did not set ID")
		}
	}

	list, total, err := repo.List(ctx, models.SendLogFilter{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Errorf("List(campaign) total = %d, len = %d", total, len(list))
	}

	list, _, err = repo.List(ctx, models.SendLogFilter{AutomationKey: "welcome"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Variables["firstName"] != "Cy" || list[0].ErrorMessage != "automation disabled" {
		t.Errorf("List(automation) = %+v", list)
	}

	stats, err := repo.Stats(ctx, models.SendLogFilter{})
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := models.SendLogStats{Total: 3, Sent: 1, Failed: 1, Skipped: 1}
	if *stats != want {
		t.Errorf("Stats() = %+v, want %+v", *stats, want)
	}

	empty, err := repo.Stats(ctx, models.SendLogFilter{Category: models.CategoryTest})
	if err != nil {
		t.Fatalf("Stats() on empty set error = %v", err)
	}
	if empty.Total != 0 {
		t.Errorf("Stats() on empty set = %+v", empty)
	}
}

func TestSettingsRepository_MailConfig(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingsRepository(setupTestDB(t))

	cfg, err := repo.GetMailConfig(ctx)
	if err != nil {
		t.Fatalf("GetMailConfig() error = %v", err)
	}
	if cfg != models.DefaultMailConfig() {
		t.Errorf("GetMailConfig() = %+v, want defaults", cfg)
	}

	cfg.SMTP = models.SMTPSettings{Host: "smtp.x.com", Port: 465, Secure: true, User: "u", Pass: "p", From: "no-reply@x.com"}
	cfg.Automations.OnPayment = false
	if err := repo.SaveMailConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveMailConfig() error = %v", err)
	}

	got, err := repo.GetMailConfig(ctx)
	if err != nil {
		t.Fatalf("GetMailConfig() error = %v", err)
	}
	if got != cfg {
		t.Errorf("GetMailConfig() = %+v, want %+v", got, cfg)
	}
}
