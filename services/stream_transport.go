package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FrameConn is an open STOMP session transport.
type FrameConn interface {
	WriteFrame(Frame) error
	// ReadFrame blocks for the next frame; heart-beats are consumed silently.
	ReadFrame() (Frame, error)
	WriteHeartbeat() error
	// SetReadTimeout bounds every following ReadFrame; zero disables it.
	SetReadTimeout(time.Duration)
	Close() error
}

// StreamDialer opens a FrameConn to the order stream.
type StreamDialer interface {
	Dial(ctx context.Context) (FrameConn, error)
}

// WebSocketDialer dials a STOMP endpoint over a raw WebSocket, e.g. the
// /ws/websocket endpoint of a SockJS-enabled broker.
type WebSocketDialer struct {
	URL    string
	Header http.Header
}

func (d *WebSocketDialer) Dial(ctx context.Context) (FrameConn, error) {
	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = []string{"v12.stomp", "v11.stomp"}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Op: "stream handshake", Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsFrameConn{conn: conn}, nil
}

type wsFrameConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	readMu      sync.Mutex
	pending     []Frame
	readTimeout time.Duration
}

const wsWriteTimeout = 5 * time.Second

func (c *wsFrameConn) WriteFrame(f Frame) error {
	return c.write(f.Encode())
}

func (c *wsFrameConn) WriteHeartbeat() error {
	return c.write([]byte{'\n'})
}

func (c *wsFrameConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsFrameConn) SetReadTimeout(d time.Duration) {
	c.readMu.Lock()
	c.readTimeout = d
	c.readMu.Unlock()
}

func (c *wsFrameConn) ReadFrame() (Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.pending) == 0 {
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		} else {
			_ = c.conn.SetReadDeadline(time.Time{})
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		frames, err := DecodeFrames(data)
		if err != nil {
			return Frame{}, &FrameError{Raw: data, Err: err}
		}
		c.pending = frames
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

func (c *wsFrameConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// FrameError reports a transport message that is not valid STOMP. The
// session stays usable.
type FrameError struct {
	Raw []byte
	Err error
}

func (e *FrameError) Error() string { return fmt.Sprintf("malformed stomp frame: %v", e.Err) }
func (e *FrameError) Unwrap() error { return e.Err }
