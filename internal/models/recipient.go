package models

import (
	"strings"
	"time"
)

// Recipient is a concrete, normalized message destination
type Recipient struct {
	Email     string `json:"email"`
	UserID    string `json:"userId,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// FullName joins first and last name
func (r Recipient) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a projection of an account from the user store
type User struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	FirstName            string    `json:"firstName"`
	LastName             string    `json:"lastName"`
	Role                 string    `json:"role"`
	NotificationsEnabled bool      `json:"notificationsEnabled"`
	CreatedAt            time.Time `json:"createdAt"`
}

// UserFilter narrows a user store query. Zero values mean "no filter".
type UserFilter struct {
	Role                 string
	NotificationsEnabled bool
	CreatedSince         *time.Time
}
