package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/utils"
)

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

// flexMillis accepts epoch milliseconds as a number or numeric string, or
// an RFC3339 timestamp.
type flexMillis int64

func (m *flexMillis) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		ms, err := parseMillis(v)
		if err != nil {
			return err
		}
		*m = flexMillis(ms)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*m = flexMillis(int64(f))
	return nil
}

func parseMillis(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", v)
}

type wireItem struct {
	Name     string   `json:"name"`
	Price    *float64 `json:"price"`
	Quantity *int     `json:"quantity"`
	Qty      *int     `json:"qty"`
}

type wireOrder struct {
	ID               flexString          `json:"id"`
	CustomerName     string              `json:"customerName"`
	Name             string              `json:"name"`
	CustomerPhone    string              `json:"customerPhone"`
	Phone            string              `json:"phone"`
	Address          string              `json:"address"`
	CustomerAddress  string              `json:"customerAddress"`
	Items            []wireItem          `json:"items"`
	Total            *float64            `json:"total"`
	Status           string              `json:"status"`
	Payment          *models.PaymentInfo `json:"payment"`
	PaymentMethod    string              `json:"paymentMethod"`
	PaymentStatus    string              `json:"paymentStatus"`
	VnpayTxnID       string              `json:"vnpayTransactionId"`
	RestaurantID     flexString          `json:"restaurantId"`
	UserID           flexString          `json:"userId"`
	PaymentSessionID flexString          `json:"paymentSessionId"`
	DronePath        []string            `json:"dronePath"`
	InternalNotes    string              `json:"internalNotes"`
	ConfirmedBy      string              `json:"confirmedBy"`
	CreatedAt        *flexMillis         `json:"createdAt"`
	OrderTime        *flexMillis         `json:"orderTime"`
	UpdatedAt        *flexMillis         `json:"updatedAt"`
	ConfirmedAt      *flexMillis         `json:"confirmedAt"`
	CancelledAt      *flexMillis         `json:"cancelledAt"`
}

// orderEnvelope is the event wrapper some backends emit, e.g.
// {"event":"NEW_ORDER","orderId":"A","order":{...}}.
type orderEnvelope struct {
	Event   string          `json:"event"`
	OrderID flexString      `json:"orderId"`
	Order   json.RawMessage `json:"order"`
}

// DecodeOrder turns one stream message or REST object into an OrderRecord.
func DecodeOrder(raw []byte) (models.OrderRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return models.OrderRecord{}, errors.New("empty order payload")
	}

	var env orderEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.OrderRecord{}, fmt.Errorf("decode order: %w", err)
	}
	body := raw
	if len(env.Order) > 0 && env.Order[0] == '{' {
		body = env.Order
	}

	var w wireOrder
	if err := json.Unmarshal(body, &w); err != nil {
		return models.OrderRecord{}, fmt.Errorf("decode order: %w", err)
	}
	if w.ID == "" {
		w.ID = env.OrderID
	}
	return w.toRecord()
}

// DecodeOrderList accepts a bare JSON array or {"data":[...]}. Elements
// that fail to decode are skipped and returned as errors alongside the
// decoded records.
func DecodeOrderList(raw []byte) ([]models.OrderRecord, []error, error) {
	raw = bytes.TrimSpace(raw)
	var items []json.RawMessage
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped struct {
			Data   []json.RawMessage `json:"data"`
			Orders []json.RawMessage `json:"orders"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, nil, fmt.Errorf("decode order list: %w", err)
		}
		items = wrapped.Data
		if items == nil {
			items = wrapped.Orders
		}
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("decode order list: %w", err)
	}

	records := make([]models.OrderRecord, 0, len(items))
	var skipped []error
	for _, item := range items {
		rec, err := DecodeOrder(item)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func (w wireOrder) toRecord() (models.OrderRecord, error) {
	rec := models.OrderRecord{
		ID:               strings.TrimSpace(string(w.ID)),
		CustomerName:     firstNonEmpty(w.CustomerName, w.Name),
		CustomerPhone:    firstNonEmpty(w.CustomerPhone, w.Phone),
		Address:          firstNonEmpty(w.Address, w.CustomerAddress),
		RestaurantID:     string(w.RestaurantID),
		UserID:           string(w.UserID),
		PaymentSessionID: string(w.PaymentSessionID),
		DronePath:        w.DronePath,
		InternalNotes:    w.InternalNotes,
		ConfirmedBy:      w.ConfirmedBy,
	}
	if rec.ID == "" {
		return models.OrderRecord{}, fmt.Errorf("%w: missing id", models.ErrInvalidOrder)
	}

	status := models.StatusPending
	if strings.TrimSpace(w.Status) != "" {
		parsed, err := models.ParseOrderStatus(w.Status)
		if err != nil {
			return models.OrderRecord{}, fmt.Errorf("order %s: %w", rec.ID, err)
		}
		status = parsed
	}
	rec.Status = status

	prices := make([]float64, 0, len(w.Items))
	quantities := make([]int, 0, len(w.Items))
	for _, it := range w.Items {
		item := models.OrderItem{Name: it.Name, Quantity: 1}
		if it.Price != nil {
			item.Price = *it.Price
		}
		switch {
		case it.Quantity != nil:
			item.Quantity = *it.Quantity
		case it.Qty != nil:
			item.Quantity = *it.Qty
		}
		rec.Items = append(rec.Items, item)
		prices = append(prices, item.Price)
		quantities = append(quantities, item.Quantity)
	}

	rec.Total = reconcileTotal(rec.ID, w.Total, prices, quantities)

	switch {
	case w.Payment != nil:
		p := *w.Payment
		rec.Payment = &p
	case w.PaymentMethod != "" || w.PaymentStatus != "" || w.VnpayTxnID != "":
		rec.Payment = &models.PaymentInfo{
			Method:        w.PaymentMethod,
			Status:        w.PaymentStatus,
			TransactionID: w.VnpayTxnID,
		}
	}

	switch {
	case w.CreatedAt != nil:
		rec.CreatedAt = int64(*w.CreatedAt)
	case w.OrderTime != nil:
		rec.CreatedAt = int64(*w.OrderTime)
	}
	if w.UpdatedAt != nil {
		rec.UpdatedAt = int64(*w.UpdatedAt)
	}
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = rec.CreatedAt
	}
	if w.ConfirmedAt != nil {
		v := int64(*w.ConfirmedAt)
		rec.ConfirmedAt = &v
	}
	if w.CancelledAt != nil {
		v := int64(*w.CancelledAt)
		rec.CancelledAt = &v
	}

	if err := rec.Validate(); err != nil {
		return models.OrderRecord{}, err
	}
	if !rec.ItemsConsistent() {
		utils.Component("decoder").Debugf("Order %s is %s without line items", rec.ID, rec.Status)
	}
	return rec, nil
}

// reconcileTotal prefers the server total unless it is missing or differs
// from the item sum by more than the rounding tolerance.
func reconcileTotal(id string, server *float64, prices []float64, quantities []int) float64 {
	if len(prices) == 0 {
		if server == nil {
			return 0
		}
		return *server
	}
	computed := utils.ItemsTotal(prices, quantities)
	if server == nil {
		return computed.InexactFloat64()
	}
	if utils.WithinTolerance(decimal.NewFromFloat(*server), computed) {
		return *server
	}
	utils.Component("decoder").Warnf("Order %s total %s disagrees with items total %s, using items total",
		id, utils.FormatCurrencyVND(*server), utils.FormatCurrencyVND(computed.InexactFloat64()))
	return computed.InexactFloat64()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// orderPayload is the body sent on create and full update.
type orderPayload struct {
	ID               string              `json:"id,omitempty"`
	CustomerName     string              `json:"customerName"`
	CustomerPhone    string              `json:"customerPhone"`
	Address          string              `json:"address"`
	Items            []models.OrderItem  `json:"items"`
	Total            float64             `json:"total"`
	Status           string              `json:"status"`
	PaymentMethod    string              `json:"paymentMethod,omitempty"`
	PaymentStatus    string              `json:"paymentStatus,omitempty"`
	Payment          *models.PaymentInfo `json:"payment,omitempty"`
	RestaurantID     string              `json:"restaurantId,omitempty"`
	UserID           string              `json:"userId,omitempty"`
	PaymentSessionID string              `json:"paymentSessionId,omitempty"`
	CreatedAt        int64               `json:"createdAt,omitempty"`
	UpdatedAt        int64               `json:"updatedAt,omitempty"`
}

// EncodeOrder renders a record in the backend shape with the uppercase
// status enum.
func EncodeOrder(o models.OrderRecord) ([]byte, error) {
	p := orderPayload{
		ID:               o.ID,
		CustomerName:     o.CustomerName,
		CustomerPhone:    o.CustomerPhone,
		Address:          o.Address,
		Items:            o.Items,
		Total:            o.Total,
		Status:           o.Status.WireValue(),
		Payment:          o.Payment,
		RestaurantID:     o.RestaurantID,
		UserID:           o.UserID,
		PaymentSessionID: o.PaymentSessionID,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.Payment != nil {
		p.PaymentMethod = o.Payment.Method
		p.PaymentStatus = o.Payment.Status
	}
	return json.Marshal(p)
}
