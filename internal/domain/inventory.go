package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bead is a bead SKU. Stock counts units free to reserve; ReservedStock counts
// units held by unpaid orders.
type Bead struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	DiameterMM    decimal.Decimal `json:"diameter_mm"`
	Price         decimal.Decimal `json:"price"`
	Stock         int             `json:"stock"`
	ReservedStock int             `json:"reserved_stock"`
	Active        bool            `json:"active"`
}

type AddOnProduct struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Active bool            `json:"active"`
}

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
	ReservationExpired  ReservationStatus = "expired"
)

type Reservation struct {
	ID         string            `json:"id"`
	OrderID    string            `json:"order_id"`
	UserID     string            `json:"user_id"`
	SKU        string            `json:"sku"`
	Quantity   int               `json:"quantity"`
	Status     ReservationStatus `json:"status"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at"`
	ConsumedAt *time.Time        `json:"consumed_at,omitempty"`
	ReleasedAt *time.Time        `json:"released_at,omitempty"`
}
