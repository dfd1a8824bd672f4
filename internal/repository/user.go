package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/herald/internal/models"
	"github.com/google/uuid"
)

// UserRepository reads the host application's users table
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// List returns users matching filter ordered by creation time
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, error) {
	query := `
		SELECT id, email, COALESCE(first_name, ''), COALESCE(last_name, ''), role, notifications_enabled, created_at
		FROM users WHERE 1=1`
	args := []any{}

	if filter.Role != "" {
		query += " AND role = ?"
		args = append(args, filter.Role)
	}
	if filter.NotificationsEnabled {
		query += " AND notifications_enabled = 1"
	}
	if filter.CreatedSince != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.CreatedSince.UTC())
	}
	query += " ORDER BY created_at, email"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.NotificationsEnabled, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create inserts a user. Used for development data; production users come
// from the host application.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = u.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, role, notifications_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, nullString(u.FirstName), nullString(u.LastName), u.Role, u.NotificationsEnabled, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
