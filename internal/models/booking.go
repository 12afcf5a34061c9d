package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Booking status values. Terminal: completed, resolved_hauler,
// resolved_client, cancelled.
const (
	BookingAssigned          = "assigned"
	BookingInProgress        = "in_progress"
	BookingPendingCompletion = "pending_completion"
	BookingCompleted         = "completed"
	BookingDisputed          = "disputed"
	BookingResolvedHauler    = "resolved_hauler"
	BookingResolvedClient    = "resolved_client"
	BookingCancelled         = "cancelled"
)

// Evidence kinds.
const (
	EvidencePickup  = "pickup"
	EvidenceDropoff = "dropoff"
)

// Amendment status values.
const (
	AmendmentPending  = "pending"
	AmendmentAccepted = "accepted"
	AmendmentRejected = "rejected"
)

// Booking binds a client, a hauler, a job and the escrowed amount. Terminal
// bookings are never deleted; they are the audit trail.
type Booking struct {
	ID                 uuid.UUID       `json:"id"`
	JobID              uuid.UUID       `json:"job_id"`
	ClientID           uuid.UUID       `json:"client_id"`
	HaulerID           uuid.UUID       `json:"hauler_id"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status"`
	PickupPIN          string          `json:"-"`
	ScheduledDate      time.Time       `json:"scheduled_date"`
	EscrowLockedAt     *time.Time      `json:"escrow_locked_at,omitempty"`
	PickupConfirmedAt  *time.Time      `json:"pickup_confirmed_at,omitempty"`
	HaulerMarkedDoneAt *time.Time      `json:"hauler_marked_done_at,omitempty"`
	DisputeOpenedAt    *time.Time      `json:"dispute_opened_at,omitempty"`
	AutoReleaseAt      *time.Time      `json:"auto_release_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Terminal reports whether no further transitions are possible.
func (b *Booking) Terminal() bool {
	switch b.Status {
	case BookingCompleted, BookingResolvedHauler, BookingResolvedClient, BookingCancelled:
		return true
	}
	return false
}

// Evidence is a GPS-stamped proof record. captured_at is always
// server-assigned; client-supplied timestamps are never trusted.
type Evidence struct {
	ID          uuid.UUID `json:"id"`
	BookingID   uuid.UUID `json:"booking_id"`
	Kind        string    `json:"kind"`
	SubmittedBy uuid.UUID `json:"submitted_by"`
	PhotoRef    string    `json:"photo_ref"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Amendment is a proposed change to the booking amount, requestable by the
// hauler only before pickup confirmation. At most one pending per booking.
type Amendment struct {
	ID             uuid.UUID       `json:"id"`
	BookingID      uuid.UUID       `json:"booking_id"`
	RequestedBy    uuid.UUID       `json:"requested_by"`
	ProposedAmount decimal.Decimal `json:"proposed_amount"`
	Reason         string          `json:"reason"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}
