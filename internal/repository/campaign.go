package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/herald/internal/models"
	"github.com/google/uuid"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, subject, body, audience, status,
	stats_total, stats_sent, stats_failed, stats_skipped,
	recipients_snapshot, last_error, sent_at, created_at, updated_at`

// Create creates a new draft campaign
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.Status = models.CampaignStatusDraft
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	audience, err := toJSON(c.Audience)
	if err != nil {
		return fmt.Errorf("failed to encode audience: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, subject, body, audience, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Subject, c.Body, audience, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

// List returns campaigns with optional filtering
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args := appendPage("SELECT "+campaignColumns+" FROM campaigns"+where+" ORDER BY created_at DESC", args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, total, rows.Err()
}

// UpdateDraft updates the authored fields of a campaign. It fails with
// ErrCampaignBusy while the campaign is being sent.
func (r *CampaignRepository) UpdateDraft(ctx context.Context, c *models.Campaign) error {
	c.UpdatedAt = time.Now().UTC()

	audience, err := toJSON(c.Audience)
	if err != nil {
		return fmt.Errorf("failed to encode audience: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET name = ?, subject = ?, body = ?, audience = ?, updated_at = ?
		WHERE id = ? AND status <> ?`,
		c.Name, c.Subject, c.Body, audience, c.UpdatedAt, c.ID, models.CampaignStatusSending,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCampaignBusy
	}
	return nil
}

// TryStartSending moves a campaign into the sending state unless it is
// already there. It reports whether this caller won the transition.
func (r *CampaignRepository) TryStartSending(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status <> ?`,
		models.CampaignStatusSending, time.Now().UTC(), id, models.CampaignStatusSending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign sending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveSnapshot stores the resolved recipients and the audience with its
// updated lastResolvedCount
func (r *CampaignRepository) SaveSnapshot(ctx context.Context, id string, audience models.AudienceSpec, recipients []models.Recipient) error {
	if recipients == nil {
		recipients = []models.Recipient{}
	}
	audienceJSON, err := toJSON(audience)
	if err != nil {
		return fmt.Errorf("failed to encode audience: %w", err)
	}
	snapshot, err := toJSON(recipients)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE campaigns SET audience = ?, recipients_snapshot = ?, updated_at = ?
		WHERE id = ?`,
		audienceJSON, snapshot, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to save recipients snapshot: %w", err)
	}
	return nil
}

// Finish writes the terminal state of a dispatch in one statement
func (r *CampaignRepository) Finish(ctx context.Context, id, status string, stats models.CampaignStats, lastError string, sentAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, stats_total = ?, stats_sent = ?, stats_failed = ?, stats_skipped = ?,
			last_error = ?, sent_at = ?, updated_at = ?
		WHERE id = ?`,
		status, stats.Total, stats.Sent, stats.Failed, stats.Skipped,
		nullString(lastError), sentAt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish campaign: %w", err)
	}
	return nil
}

// ResetStale fails every campaign left in sending by a dispatch that did not
// finish. Stats and snapshot are cleared together. Returns the number of
// campaigns reset.
func (r *CampaignRepository) ResetStale(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id, audience FROM campaigns WHERE status = ?", models.CampaignStatusSending)
	if err != nil {
		return 0, fmt.Errorf("failed to list sending campaigns: %w", err)
	}
	type stale struct {
		id       string
		audience models.AudienceSpec
	}
	var found []stale
	for rows.Next() {
		var s stale
		var audience sql.NullString
		if err := rows.Scan(&s.id, &audience); err != nil {
			rows.Close()
			return 0, err
		}
		if err := fromJSON(audience, &s.audience); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to decode audience of %s: %w", s.id, err)
		}
		found = append(found, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, s := range found {
		s.audience.LastResolvedCount = 0
		audienceJSON, err := toJSON(s.audience)
		if err != nil {
			return 0, fmt.Errorf("failed to encode audience: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET status = ?, stats_total = 0, stats_sent = 0, stats_failed = 0, stats_skipped = 0,
				audience = ?, recipients_snapshot = '[]', last_error = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			models.CampaignStatusFailed, audienceJSON, MessageDispatchInterrupted, now,
			s.id, models.CampaignStatusSending,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to reset campaign %s: %w", s.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(found), nil
}

// Delete deletes a campaign unless it is being sent
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ? AND status <> ?", id, models.CampaignStatusSending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if c != nil {
			return ErrCampaignBusy
		}
	}
	return nil
}

func scanCampaign(s scanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var audience, snapshot, lastError sql.NullString
	var sentAt sql.NullTime

	err := s.Scan(&c.ID, &c.Name, &c.Subject, &c.Body, &audience, &c.Status,
		&c.Stats.Total, &c.Stats.Sent, &c.Stats.Failed, &c.Stats.Skipped,
		&snapshot, &lastError, &sentAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := fromJSON(audience, &c.Audience); err != nil {
		return nil, fmt.Errorf("failed to decode audience of %s: %w", c.ID, err)
	}
	if err := fromJSON(snapshot, &c.RecipientsSnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode recipients of %s: %w", c.ID, err)
	}
	if c.RecipientsSnapshot == nil {
		c.RecipientsSnapshot = []models.Recipient{}
	}
	c.LastError = lastError.String
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	return c, nil
}
