// README: Rider earning records, summaries and lifetime aggregates.
package earnings

import (
	"errors"
	"time"

	"drop/internal/types"
)

var (
	ErrRiderNotFound = errors.New("rider not found")
	ErrNotFound      = errors.New("earning record not found")
)

// Record is immutable once written; (RiderID, OrderID) is unique.
type Record struct {
	ID          types.ID    `json:"id"`
	RiderID     types.ID    `json:"rider_id"`
	OrderID     types.ID    `json:"order_id"`
	BaseEarning types.Money `json:"base_earning"`
	Tip         types.Money `json:"tip"`
	Incentive   types.Money `json:"incentive"`
	Penalty     types.Money `json:"penalty"`
	Total       types.Money `json:"total"`
	Date        time.Time   `json:"date"`
}

// Delivery is the input the ledger needs from a delivered order.
type Delivery struct {
	RiderID     types.ID
	OrderID     types.ID
	DeliveryFee types.Money
	Tip         types.Money
	At          time.Time
}

type Summary struct {
	BaseEarning types.Money `json:"base_earning"`
	Tips        types.Money `json:"tips"`
	Incentives  types.Money `json:"incentives"`
	Penalties   types.Money `json:"penalties"`
	Total       types.Money `json:"total"`
	Deliveries  int         `json:"deliveries"`
}

type Lifetime struct {
	TotalDeliveries int         `json:"total_deliveries"`
	TotalEarnings   types.Money `json:"total_earnings"`
	Rating          float64     `json:"rating"`
}

type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// Start returns the first instant covered by p, relative to now in now's location.
func (p Period) Start(now time.Time) time.Time {
	switch p {
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case PeriodAll:
		return time.Unix(0, 0).UTC()
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}
}

func ParsePeriod(s string) Period {
	switch Period(s) {
	case PeriodWeek, PeriodMonth, PeriodAll:
		return Period(s)
	default:
		return PeriodToday
	}
}
