package models

import (
	"fmt"
	"strings"
	"time"
)

// User roles. Owner outranks admin; both pass admin-only checks.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

const DefaultReputation = 50

// UserStats holds the per-user activity counters shown on profiles and in the
// admin dashboard. Spent/earned amounts are in the smallest currency unit.
type UserStats struct {
	MarkersPosted         int   `json:"markersPosted"`
	QuestsPosted          int   `json:"questsPosted"`
	CompletedTransactions int   `json:"completedTransactions"`
	TotalSpent            int64 `json:"totalSpent"`
	TotalEarned           int64 `json:"totalEarned"`
}

// User is created on first authentication and never deleted. Reputation is
// mutated only by the credibility engine and the escrow state machine.
type User struct {
	SchemaVersion int       `json:"schemaVersion"`
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Reputation    int       `json:"reputation"`
	Role          string    `json:"role"`
	Stats         UserStats `json:"stats"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user: missing id")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user: missing email")
	}
	switch u.Role {
	case RoleUser, RoleAdmin, RoleOwner:
	default:
		return fmt.Errorf("user: unknown role %q", u.Role)
	}
	if u.Reputation < 0 || u.Reputation > 100 {
		return fmt.Errorf("user: reputation %d out of range", u.Reputation)
	}
	return nil
}

// IsAdmin reports whether the user passes admin-only checks.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleOwner
}
