package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected        = errors.New("order stream is not connected")
	ErrRefreshInProgress   = errors.New("order refresh already in progress")
	ErrNoOrderAPI          = errors.New("no order API configured")
	ErrReconnectsExhausted = errors.New("maximum reconnect attempts reached")
)

// APIError is a non-2xx answer from the REST API or the stream handshake.
type APIError struct {
	StatusCode int
	Op         string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 }

// IsServerError reports whether err carries a 5xx status.
func IsServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsServerError()
}

// IsTransient reports connectivity failures that are expected while the
// backend is starting or restarting: refused, reset, DNS, timeouts and
// abnormal closes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		return true
	}
	return false
}
