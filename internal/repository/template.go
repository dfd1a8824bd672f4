package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/herald/internal/models"
	"github.com/google/uuid"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, name, subject, body, category, automation_key, variable_names, created_at, updated_at`

// Create creates a new template
func (r *TemplateRepository) Create(ctx context.Context, t *models.Template) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt

	vars, err := toJSON(variableNames(t))
	if err != nil {
		return fmt.Errorf("failed to encode variable names: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Subject, t.Body, t.Category, nullString(t.AutomationKey), vars, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// Update overwrites an existing template
func (r *TemplateRepository) Update(ctx context.Context, t *models.Template) error {
	t.UpdatedAt = time.Now().UTC()

	vars, err := toJSON(variableNames(t))
	if err != nil {
		return fmt.Errorf("failed to encode variable names: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE templates SET name = ?, subject = ?, body = ?, category = ?, automation_key = ?,
			variable_names = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Subject, t.Body, t.Category, nullString(t.AutomationKey), vars, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s not found", t.ID)
	}
	return nil
}

// GetByID returns a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	return scanTemplate(row)
}

// GetByAutomationKey returns the template bound to an automation key
func (r *TemplateRepository) GetByAutomationKey(ctx context.Context, key string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE automation_key = ?`, key)
	return scanTemplate(row)
}

// List returns templates with optional filtering
func (r *TemplateRepository) List(ctx context.Context, filter models.TemplateListFilter) ([]models.Template, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Category != "" {
		where += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		where += " AND (name LIKE ? OR subject LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM templates"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args := appendPage("SELECT "+templateColumns+" FROM templates"+where+" ORDER BY updated_at DESC", args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		templates = append(templates, *t)
	}
	return templates, total, rows.Err()
}

// Delete deletes a template
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s scanner) (*models.Template, error) {
	t := &models.Template{}
	var automationKey, vars sql.NullString

	err := s.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Category, &automationKey, &vars, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t.AutomationKey = automationKey.String
	if err := fromJSON(vars, &t.VariableNames); err != nil {
		return nil, fmt.Errorf("failed to decode variable names of %s: %w", t.ID, err)
	}
	if t.VariableNames == nil {
		t.VariableNames = []string{}
	}
	return t, nil
}

func variableNames(t *models.Template) []string {
	if t.VariableNames == nil {
		return []string{}
	}
	return t.VariableNames
}
