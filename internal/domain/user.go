package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is the user's role within the care network.
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdvocate Role = "advocate"
)

// User is a directory entry. Authentication itself is external; this record
// only maps the stable user identifier to display data.
type User struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
