package models

import (
	"errors"
	"fmt"
)

// ErrInvalidOrder is wrapped by every OrderRecord validation failure.
var ErrInvalidOrder = errors.New("invalid order")

// OrderRecord is the canonical in-memory representation of an order, shared
// by the stream, the poller and the REST client.
type OrderRecord struct {
	ID               string       `json:"id"`
	CustomerName     string       `json:"customerName"`
	CustomerPhone    string       `json:"customerPhone"`
	Address          string       `json:"address"`
	Items            []OrderItem  `json:"items"`
	Status           OrderStatus  `json:"status"`
	Total            float64      `json:"total"`
	Payment          *PaymentInfo `json:"payment,omitempty"`
	RestaurantID     string       `json:"restaurantId,omitempty"`
	UserID           string       `json:"userId,omitempty"`
	PaymentSessionID string       `json:"paymentSessionId,omitempty"`
	DronePath        []string     `json:"dronePath,omitempty"`
	InternalNotes    string       `json:"internalNotes,omitempty"`
	ConfirmedBy      string       `json:"confirmedBy,omitempty"`
	CreatedAt        int64        `json:"createdAt"`
	UpdatedAt        int64        `json:"updatedAt"`
	ConfirmedAt      *int64       `json:"confirmedAt,omitempty"`
	CancelledAt      *int64       `json:"cancelledAt,omitempty"`
	// Placeholder marks an optimistic local record that has not been
	// confirmed by the server yet.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Validate checks the invariants every record must satisfy, whatever its
// source: id present, non-negative total, prices and quantities.
func (o *OrderRecord) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOrder)
	}
	if o.Total < 0 {
		return fmt.Errorf("%w: order %s has negative total %.2f", ErrInvalidOrder, o.ID, o.Total)
	}
	for i, item := range o.Items {
		if item.Price < 0 || item.Quantity < 0 {
			return fmt.Errorf("%w: order %s item %d has negative price or quantity", ErrInvalidOrder, o.ID, i)
		}
	}
	return nil
}

// ItemsConsistent reports whether an order that has left Pending carries
// line items. Status-only stream events legitimately omit them.
func (o *OrderRecord) ItemsConsistent() bool {
	return o.Status == StatusPending || len(o.Items) > 0
}

// ValidateForCreate checks a new order before it is sent to the backend.
func (o *OrderRecord) ValidateForCreate() error {
	if o.CustomerName == "" || o.CustomerPhone == "" {
		return fmt.Errorf("%w: missing customer name or phone", ErrInvalidOrder)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidOrder)
	}
	if o.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOrder)
	}
	return o.Validate()
}

// Clone returns a deep copy so snapshots never share mutable slices.
func (o OrderRecord) Clone() OrderRecord {
	c := o
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	if o.DronePath != nil {
		c.DronePath = make([]string, len(o.DronePath))
		copy(c.DronePath, o.DronePath)
	}
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	if o.ConfirmedAt != nil {
		v := *o.ConfirmedAt
		c.ConfirmedAt = &v
	}
	if o.CancelledAt != nil {
		v := *o.CancelledAt
		c.CancelledAt = &v
	}
	return c
}

// Less orders records by creation time, then id.
func Less(a, b OrderRecord) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}
