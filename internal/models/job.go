package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Job status values.
const (
	JobOpen      = "open"
	JobAssigned  = "assigned"
	JobCompleted = "completed"
	JobCancelled = "cancelled"
)

// Application status values.
const (
	ApplicationPending  = "pending"
	ApplicationAccepted = "accepted"
	ApplicationRejected = "rejected"
)

type Job struct {
	ID              uuid.UUID       `json:"id"`
	ClientID        uuid.UUID       `json:"client_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	Budget          decimal.Decimal `json:"budget"`
	LocationAddress string          `json:"location_address"`
	Lat             *float64        `json:"lat,omitempty"`
	Lng             *float64        `json:"lng,omitempty"`
	ScheduledDate   time.Time       `json:"scheduled_date"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type JobApplication struct {
	ID              uuid.UUID `json:"id"`
	JobID           uuid.UUID `json:"job_id"`
	HaulerID        uuid.UUID `json:"hauler_id"`
	ProposalMessage string    `json:"proposal_message"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}
