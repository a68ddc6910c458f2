// README: Order aggregate, status and payment enums, actors and history entries.
package order

import (
	"fmt"
	"time"

	"drop/internal/types"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusPickedUp       Status = "PICKED_UP"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusFailed         Status = "FAILED"
	StatusRefunded       Status = "REFUNDED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReadyForPickup,
	StatusPickedUp,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
	StatusFailed,
	StatusRefunded,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrBadRequest, s)
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Assigned reports whether an order in s must carry a rider.
func (s Status) Assigned() bool {
	switch s {
	case StatusPickedUp, StatusOutForDelivery, StatusDelivered:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "CARD"
	PaymentWallet PaymentMethod = "WALLET"
	PaymentCash   PaymentMethod = "CASH"
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleRider, RoleVendor, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID   types.ID
	Role Role
}

type Order struct {
	ID            types.ID      `json:"id"`
	OrderNumber   string        `json:"order_number"`
	CustomerID    types.ID      `json:"customer_id"`
	VendorID      types.ID      `json:"vendor_id"`
	RiderID       *types.ID     `json:"rider_id"`
	Status        Status        `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Subtotal      types.Money   `json:"subtotal"`
	DeliveryFee   types.Money   `json:"delivery_fee"`
	PlatformFee   types.Money   `json:"platform_fee"`
	Tip           types.Money   `json:"tip"`
	Total         types.Money   `json:"total"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	DeliveredAt   *time.Time    `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason  *string       `json:"cancel_reason,omitempty"`
}

// HistoryEntry is one row of the append-only status log.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	OrderID   types.ID  `json:"order_id"`
	Status    Status    `json:"status"`
	Note      string    `json:"note"`
	ActorRole Role      `json:"actor_role"`
	ActorID   *types.ID `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type FeedType string

const (
	FeedAvailable FeedType = "available"
	FeedActive    FeedType = "active"
	FeedCompleted FeedType = "completed"
	FeedAll       FeedType = "all"
)

func ParseFeedType(s string) FeedType {
	switch FeedType(s) {
	case FeedAvailable, FeedActive, FeedCompleted:
		return FeedType(s)
	default:
		return FeedAll
	}
}
