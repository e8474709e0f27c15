package models

import (
	"fmt"
	"strings"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "Pending"
	StatusConfirmed  OrderStatus = "Confirmed"
	StatusInProgress OrderStatus = "In Progress"
	StatusReady      OrderStatus = "Ready"
	StatusDelivering OrderStatus = "Delivering"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCancelled  OrderStatus = "Cancelled"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusInProgress,
	StatusReady,
	StatusDelivering,
	StatusDelivered,
	StatusCancelled,
}

var wireStatus = map[OrderStatus]string{
	StatusPending:    "PENDING",
	StatusConfirmed:  "CONFIRMED",
	StatusInProgress: "PREPARING",
	StatusReady:      "READY",
	StatusDelivering: "DELIVERING",
	StatusDelivered:  "DELIVERED",
	StatusCancelled:  "CANCELLED",
}

// statusAliases is keyed by the lower-cased, trimmed input.
var statusAliases = map[string]OrderStatus{
	"pending":        StatusPending,
	"confirmed":      StatusConfirmed,
	"preparing":      StatusInProgress,
	"in progress":    StatusInProgress,
	"in_progress":    StatusInProgress,
	"inprogress":     StatusInProgress,
	"ready":          StatusReady,
	"delivering":     StatusDelivering,
	"delivered":      StatusDelivered,
	"completed":      StatusDelivered,
	"cancelled":      StatusCancelled,
	"canceled":       StatusCancelled,
	"chờ xác nhận":   StatusPending,
	"đã xác nhận":    StatusConfirmed,
	"đang chuẩn bị":  StatusInProgress,
	"sẵn sàng":       StatusReady,
	"đang giao":      StatusDelivering,
	"đang giao hàng": StatusDelivering,
	"đã giao":        StatusDelivered,
	"hoàn thành":     StatusDelivered,
	"đã hủy":         StatusCancelled,
	"hủy":            StatusCancelled,
}

// ParseOrderStatus normalizes any wire, canonical or localized spelling of
// a status into its canonical value.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if status, ok := statusAliases[key]; ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// WireValue returns the uppercase enum the backend expects.
func (s OrderStatus) WireValue() string {
	if v, ok := wireStatus[s]; ok {
		return v
	}
	return wireStatus[StatusPending]
}

// Rank is the position of s in the lifecycle, or -1 when unknown.
func (s OrderStatus) Rank() int {
	for i, st := range OrderStatuses {
		if st == s {
			return i
		}
	}
	return -1
}

func (s OrderStatus) Valid() bool { return s.Rank() >= 0 }
