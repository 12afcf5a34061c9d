package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Arbiters resolve disputed bookings and are provisioned
// manually, never via self-registration.
const (
	RoleClient  = "client"
	RoleHauler  = "hauler"
	RoleArbiter = "arbiter"
)

// Account status values driven by the strike pipeline.
const (
	AccountActive    = "active"
	AccountWarned    = "warned"
	AccountSuspended = "suspended"
	AccountBanned    = "banned"
)

type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	AccountStatus string    `json:"account_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HaulerProfile carries reliability counters for the strike pipeline.
type HaulerProfile struct {
	UserID            uuid.UUID  `json:"user_id"`
	NoShowCount       int        `json:"no_show_count"`
	CancellationCount int        `json:"cancellation_count"`
	SuspendedUntil    *time.Time `json:"suspended_until,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
