package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/herald/internal/models"
	"github.com/google/uuid"
)

// SendLogRepository is the append-only dispatch log
type SendLogRepository struct {
	db *sql.DB
}

func NewSendLogRepository(db *sql.DB) *SendLogRepository {
	return &SendLogRepository{db: db}
}

const sendLogColumns = `id, recipient, subject, status, category, template_id, template_name, automation_key,
	campaign_id, campaign_name, user_id, provider_message_id, variables, error_message, sent_at, created_at`

// Append inserts a new entry. Entries are never updated.
func (r *SendLogRepository) Append(ctx context.Context, e *models.SendLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var vars sql.NullString
	if len(e.Variables) > 0 {
		data, err := toJSON(e.Variables)
		if err != nil {
			return fmt.Errorf("failed to encode variables: %w", err)
		}
		vars = nullString(data)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_logs (`+sendLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.To, e.Subject, e.Status, e.Category,
		nullString(e.TemplateID), nullString(e.TemplateName), nullString(e.AutomationKey),
		nullString(e.CampaignID), nullString(e.CampaignName), nullString(e.UserID),
		nullString(e.ProviderMessageID), vars, nullString(e.ErrorMessage), e.SentAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append send log: %w", err)
	}
	return nil
}

// List returns entries newest first with the total matching count
func (r *SendLogRepository) List(ctx context.Context, filter models.SendLogFilter) ([]models.SendLogEntry, int, error) {
	where, args := sendLogWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM send_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args := appendPage("SELECT "+sendLogColumns+" FROM send_logs"+where+" ORDER BY created_at DESC", args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []models.SendLogEntry{}
	for rows.Next() {
		var e models.SendLogEntry
		var templateID, templateName, automationKey, campaignID, campaignName, userID, providerID, vars, errMsg sql.NullString
		var sentAt sql.NullTime

		err := rows.Scan(&e.ID, &e.To, &e.Subject, &e.Status, &e.Category,
			&templateID, &templateName, &automationKey, &campaignID, &campaignName, &userID,
			&providerID, &vars, &errMsg, &sentAt, &e.CreatedAt)
		if err != nil {
			return nil, 0, err
		}

		e.TemplateID = templateID.String
		e.TemplateName = templateName.String
		e.AutomationKey = automationKey.String
		e.CampaignID = campaignID.String
		e.CampaignName = campaignName.String
		e.UserID = userID.String
		e.ProviderMessageID = providerID.String
		e.ErrorMessage = errMsg.String
		if sentAt.Valid {
			e.SentAt = &sentAt.Time
		}
		if err := fromJSON(vars, &e.Variables); err != nil {
			return nil, 0, fmt.Errorf("failed to decode variables of %s: %w", e.ID, err)
		}

		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Stats returns counts by status
func (r *SendLogRepository) Stats(ctx context.Context, filter models.SendLogFilter) (*models.SendLogStats, error) {
	where, args := sendLogWhere(filter)

	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0) as sent,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) as failed,
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0) as skipped
		FROM send_logs` + where

	stats := &models.SendLogStats{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Sent, &stats.Failed, &stats.Skipped)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func sendLogWhere(filter models.SendLogFilter) (string, []any) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		where += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.CampaignID != "" {
		where += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.AutomationKey != "" {
		where += " AND automation_key = ?"
		args = append(args, filter.AutomationKey)
	}
	if filter.To != "" {
		where += " AND recipient LIKE ?"
		args = append(args, "%"+filter.To+"%")
	}
	if filter.FromDate != nil {
		where += " AND created_at >= ?"
		args = append(args, filter.FromDate.UTC())
	}
	if filter.ToDate != nil {
		where += " AND created_at <= ?"
		args = append(args, filter.ToDate.UTC())
	}
	return where, args
}
