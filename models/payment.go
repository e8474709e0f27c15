package models

// PaymentInfo carries the optional payment metadata attached to an order.
type PaymentInfo struct {
	Method        string `json:"method,omitempty"` // visa, momo, zalopay, cod, vnpay
	Status        string `json:"status,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}
