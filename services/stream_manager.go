package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/utils"
)

const (
	OrdersTopic            = "/topic/orders"
	OrderUpdateDestination = "/app/order-update"

	stompHeartBeat = "10000,10000"
	// dedupeLimit bounds the per-session duplicate filter.
	dedupeLimit = 4096
)

// StreamOptions configures the order stream session.
type StreamOptions struct {
	Host               string
	AuthToken          string
	ConnectTimeout     time.Duration
	HealthMaxWait      time.Duration
	HealthPollInterval time.Duration
}

// StompError is an ERROR frame sent by the broker.
type StompError struct {
	Message string
	Body    string
}

func (e *StompError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stomp error: %s: %s", e.Message, e.Body)
	}
	return "stomp error: " + e.Message
}

// StreamManager owns the single order stream connection: it connects,
// subscribes, hands decoded orders to sink in receive order and reconnects
// with backoff after failures.
type StreamManager struct {
	dialer  StreamDialer
	prober  *HealthProber
	sink    OrderListener
	policy  *ReconnectPolicy
	metrics *SyncMetrics
	opts    StreamOptions
	log     *logrus.Entry

	// afterFunc schedules reconnects; tests replace it.
	afterFunc func(time.Duration, func()) *time.Timer

	state atomic.Int32

	mu            sync.Mutex
	gen           uint64
	conn          FrameConn
	done          chan struct{}
	timer         *time.Timer
	cancelAttempt context.CancelFunc
	inBurst       bool
	exhausted     bool
	restaurantID  string
	scopeSubID    string
	scopeSubSeq   int
	lastBody      map[string]string
	onTerminal    func(error)
}

func NewStreamManager(dialer StreamDialer, prober *HealthProber, sink OrderListener,
	policy *ReconnectPolicy, metrics *SyncMetrics, opts StreamOptions) *StreamManager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Host == "" {
		opts.Host = "/"
	}
	return &StreamManager{
		dialer:    dialer,
		prober:    prober,
		sink:      sink,
		policy:    policy,
		metrics:   metrics,
		opts:      opts,
		log:       utils.Component("stream"),
		afterFunc: time.AfterFunc,
	}
}

// OnTerminalFailure sets the hook called once automatic reconnection gives
// up. It runs on its own goroutine.
func (sm *StreamManager) OnTerminalFailure(fn func(error)) {
	sm.mu.Lock()
	sm.onTerminal = fn
	sm.mu.Unlock()
}

func (sm *StreamManager) State() models.ConnectionState {
	return models.ConnectionState(sm.state.Load())
}

func (sm *StreamManager) IsConnected() bool { return sm.State() == models.Connected }

func (sm *StreamManager) Attempts() int { return sm.policy.Attempts() }

// Connect starts a connection attempt and blocks until it succeeds or
// fails. It is a no-op while connecting or connected. A manual call resets
// the reconnect counter, including after it was exhausted.
func (sm *StreamManager) Connect(ctx context.Context) error {
	sm.mu.Lock()
	if sm.State() != models.Disconnected {
		sm.mu.Unlock()
		return nil
	}
	sm.stopTimerLocked()
	sm.policy.Reset()
	sm.exhausted = false
	sm.mu.Unlock()

	return sm.attempt(ctx, nil)
}

// EnsureConnected connects when the manager is idle: disconnected with no
// reconnect pending.
func (sm *StreamManager) EnsureConnected(ctx context.Context) error {
	sm.mu.Lock()
	idle := sm.State() == models.Disconnected && sm.timer == nil
	sm.mu.Unlock()
	if !idle {
		return nil
	}
	return sm.Connect(ctx)
}

// Disconnect cancels any pending reconnect, closes the session and waits
// for the receive loop to exit. It is idempotent; listeners stay registered.
// It must not be called from an OrderListener.
func (sm *StreamManager) Disconnect() {
	sm.mu.Lock()
	sm.gen++
	sm.stopTimerLocked()
	if sm.cancelAttempt != nil {
		sm.cancelAttempt()
		sm.cancelAttempt = nil
	}
	conn, done := sm.conn, sm.done
	wasConnected := sm.State() == models.Connected
	sm.conn, sm.done = nil, nil
	sm.scopeSubID = ""
	sm.setStateLocked(models.Disconnected)
	sm.mu.Unlock()

	if conn != nil {
		if wasConnected {
			_ = conn.WriteFrame(NewFrame(CmdDisconnect))
		}
		_ = conn.Close()
		sm.log.Info("Order stream disconnected")
	}
	if done != nil {
		<-done
	}
}

// SetRestaurantScope records the restaurant whose topic is subscribed on
// the next connect. A live session subscribes to it immediately.
func (sm *StreamManager) SetRestaurantScope(restaurantID string) {
	restaurantID = strings.TrimSpace(restaurantID)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.restaurantID == restaurantID {
		return
	}
	sm.restaurantID = restaurantID
	if sm.State() != models.Connected || sm.conn == nil {
		return
	}
	sm.resubscribeScopeLocked()
}

// resubscribeScopeLocked moves the live session's scoped subscription to
// the current restaurantID.
func (sm *StreamManager) resubscribeScopeLocked() {
	if sm.scopeSubID != "" {
		_ = sm.conn.WriteFrame(NewFrame(CmdUnsubscribe, "id", sm.scopeSubID))
		sm.scopeSubID = ""
	}
	if sm.restaurantID == "" {
		return
	}
	sm.scopeSubSeq++
	subID := fmt.Sprintf("sub-scope-%d", sm.scopeSubSeq)
	topic := scopedTopic(sm.restaurantID)
	if err := sm.conn.WriteFrame(NewFrame(CmdSubscribe, "id", subID, "destination", topic)); err != nil {
		sm.log.Warnf("Could not subscribe to %s: %v", topic, err)
		return
	}
	sm.scopeSubID = subID
	sm.log.Infof("Subscribed to %s", topic)
}

func (sm *StreamManager) RestaurantScope() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.restaurantID
}

// Publish sends an order update to the broker, e.g. to
// OrderUpdateDestination.
func (sm *StreamManager) Publish(destination string, order models.OrderRecord) error {
	body, err := EncodeOrder(order)
	if err != nil {
		return err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.State() != models.Connected || sm.conn == nil {
		return ErrNotConnected
	}
	f := NewFrame(CmdSend, "destination", destination, "content-type", "application/json")
	f.Body = body
	return sm.conn.WriteFrame(f)
}

// attempt runs one connection attempt. A reconnect timer passes the
// generation it was armed in; the attempt is abandoned if Disconnect ran
// since.
func (sm *StreamManager) attempt(ctx context.Context, expectGen *uint64) error {
	sm.mu.Lock()
	if sm.State() != models.Disconnected || (expectGen != nil && sm.gen != *expectGen) {
		sm.mu.Unlock()
		return nil
	}
	sm.gen++
	gen := sm.gen
	sm.setStateLocked(models.Connecting)
	attemptCtx, cancel := context.WithCancel(ctx)
	sm.cancelAttempt = cancel
	restaurantID := sm.restaurantID
	firstAttempt := sm.policy.Attempts() == 0
	sm.mu.Unlock()
	defer cancel()

	sm.metrics.ConnectAttempt()

	if sm.prober != nil && sm.opts.HealthMaxWait > 0 {
		if !sm.prober.WaitForBackend(attemptCtx, sm.opts.HealthMaxWait, sm.opts.HealthPollInterval) && firstAttempt {
			sm.log.Info("Backend not ready yet, connecting anyway")
		}
	}

	conn, heartbeat, scopeSubID, err := sm.handshake(attemptCtx, restaurantID)
	if err != nil {
		sm.attemptFailed(gen, err)
		return err
	}

	sm.mu.Lock()
	if sm.gen != gen {
		sm.mu.Unlock()
		_ = conn.Close()
		return context.Canceled
	}
	done := make(chan struct{})
	sm.conn = conn
	sm.done = done
	sm.cancelAttempt = nil
	sm.scopeSubID = scopeSubID
	sm.inBurst = false
	sm.lastBody = make(map[string]string)
	sm.policy.Reset()
	sm.setStateLocked(models.Connected)
	if sm.restaurantID != restaurantID {
		// scope changed during the handshake
		sm.resubscribeScopeLocked()
	}
	sm.mu.Unlock()

	sm.log.Info("Order stream connected")
	go sm.receiveLoop(gen, conn, heartbeat, done)
	return nil
}

func (sm *StreamManager) handshake(ctx context.Context, restaurantID string) (FrameConn, time.Duration, string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, sm.opts.ConnectTimeout)
	defer cancel()

	conn, err := sm.dialer.Dial(dialCtx)
	if err != nil {
		return nil, 0, "", err
	}
	stop := context.AfterFunc(dialCtx, func() { _ = conn.Close() })
	defer stop()

	fail := func(err error) (FrameConn, time.Duration, string, error) {
		_ = conn.Close()
		if ctxErr := dialCtx.Err(); ctxErr != nil {
			return nil, 0, "", fmt.Errorf("stomp handshake: %w", ctxErr)
		}
		return nil, 0, "", err
	}

	connect := NewFrame(CmdConnect,
		"accept-version", "1.1,1.2",
		"host", sm.opts.Host,
		"heart-beat", stompHeartBeat)
	if sm.opts.AuthToken != "" {
		connect.SetHeader("Authorization", "Bearer "+sm.opts.AuthToken)
	}
	if err := conn.WriteFrame(connect); err != nil {
		return fail(fmt.Errorf("send CONNECT: %w", err))
	}

	conn.SetReadTimeout(sm.opts.ConnectTimeout)
	reply, err := conn.ReadFrame()
	if err != nil {
		return fail(fmt.Errorf("await CONNECTED: %w", err))
	}
	switch reply.Command {
	case CmdConnected:
	case CmdError:
		return fail(&StompError{Message: reply.Header("message"), Body: string(reply.Body)})
	default:
		return fail(fmt.Errorf("unexpected %s frame during handshake", reply.Command))
	}

	if err := conn.WriteFrame(NewFrame(CmdSubscribe, "id", "sub-0", "destination", OrdersTopic)); err != nil {
		return fail(fmt.Errorf("subscribe %s: %w", OrdersTopic, err))
	}
	var scopeSubID string
	if restaurantID != "" {
		sm.mu.Lock()
		sm.scopeSubSeq++
		scopeSubID = fmt.Sprintf("sub-scope-%d", sm.scopeSubSeq)
		sm.mu.Unlock()
		if err := conn.WriteFrame(NewFrame(CmdSubscribe, "id", scopeSubID, "destination", scopedTopic(restaurantID))); err != nil {
			return fail(fmt.Errorf("subscribe %s: %w", scopedTopic(restaurantID), err))
		}
	}

	outgoing, incoming := negotiateHeartBeat(stompHeartBeat, reply.Header("heart-beat"))
	if incoming > 0 {
		conn.SetReadTimeout(3 * incoming)
	} else {
		conn.SetReadTimeout(0)
	}
	return conn, outgoing, scopeSubID, nil
}

func (sm *StreamManager) receiveLoop(gen uint64, conn FrameConn, heartbeat time.Duration, done chan struct{}) {
	defer close(done)

	stopBeat := make(chan struct{})
	defer close(stopBeat)
	if heartbeat > 0 {
		go func() {
			ticker := time.NewTicker(heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := conn.WriteHeartbeat(); err != nil {
						return
					}
				case <-stopBeat:
					return
				}
			}
		}()
	}

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			var frameErr *FrameError
			if errors.As(err, &frameErr) {
				sm.metrics.DecodeFailure()
				sm.log.Warnf("Dropping malformed stream frame: %v", err)
				continue
			}
			sm.sessionLost(gen, err)
			return
		}

		switch f.Command {
		case CmdMessage:
			if !sm.current(gen) {
				return
			}
			sm.deliver(f)
		case CmdError:
			sm.sessionLost(gen, &StompError{Message: f.Header("message"), Body: string(f.Body)})
			return
		}
	}
}

func (sm *StreamManager) deliver(f Frame) {
	sm.metrics.StreamMessage()

	order, err := DecodeOrder(f.Body)
	if err != nil {
		sm.metrics.DecodeFailure()
		sm.log.Warnf("Dropping undecodable order message from %s: %v", f.Header("destination"), err)
		return
	}
	if sm.duplicate(order.ID, f.Body) {
		return
	}
	sm.log.Debugf("Received order update %s (%s)", order.ID, order.Status)
	sm.sink(order)
}

// duplicate reports whether body is byte-identical to the last message for
// the same order in this session, as happens when an order is published on
// both the global and the restaurant topic.
func (sm *StreamManager) duplicate(id string, body []byte) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.lastBody == nil {
		sm.lastBody = make(map[string]string)
	}
	if prev, ok := sm.lastBody[id]; ok && prev == string(body) {
		return true
	}
	if len(sm.lastBody) >= dedupeLimit {
		sm.lastBody = make(map[string]string)
	}
	sm.lastBody[id] = string(body)
	return false
}

func (sm *StreamManager) current(gen uint64) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.gen == gen
}

func (sm *StreamManager) attemptFailed(gen uint64, err error) {
	sm.mu.Lock()
	if sm.gen != gen {
		sm.mu.Unlock()
		return
	}
	sm.cancelAttempt = nil
	sm.setStateLocked(models.Disconnected)
	sm.metrics.ConnectFailure()
	sm.logFailureLocked("Order stream connection failed", err)
	notify := sm.scheduleReconnectLocked()
	sm.mu.Unlock()
	notify()
}

func (sm *StreamManager) sessionLost(gen uint64, err error) {
	sm.mu.Lock()
	if sm.gen != gen {
		sm.mu.Unlock()
		return
	}
	conn := sm.conn
	sm.conn, sm.done = nil, nil
	sm.scopeSubID = ""
	sm.setStateLocked(models.Disconnected)
	sm.metrics.ConnectFailure()
	sm.logFailureLocked("Order stream lost", err)
	notify := sm.scheduleReconnectLocked()
	sm.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	notify()
}

// scheduleReconnectLocked arms the reconnect timer, or marks the manager
// exhausted. The returned func must be called after unlocking.
func (sm *StreamManager) scheduleReconnectLocked() func() {
	delay, attempt, ok := sm.policy.Next()
	if !ok {
		if sm.exhausted {
			return func() {}
		}
		sm.exhausted = true
		sm.metrics.TerminalFailure()
		utils.ErrorLogger.WithField("component", "stream").
			Errorf("Order stream gave up after %d reconnect attempts", sm.policy.MaxAttempts)
		if hook := sm.onTerminal; hook != nil {
			return func() { go hook(ErrReconnectsExhausted) }
		}
		return func() {}
	}

	sm.log.Infof("Reconnecting order stream (%d/%d) in %s", attempt, sm.policy.MaxAttempts, delay)
	gen := sm.gen
	sm.stopTimerLocked()
	sm.timer = sm.afterFunc(delay, func() { sm.reconnectFired(gen) })
	return func() {}
}

func (sm *StreamManager) reconnectFired(gen uint64) {
	sm.mu.Lock()
	if sm.gen != gen || sm.State() != models.Disconnected {
		sm.mu.Unlock()
		return
	}
	sm.timer = nil
	sm.mu.Unlock()

	_ = sm.attempt(context.Background(), &gen)
}

func (sm *StreamManager) stopTimerLocked() {
	if sm.timer != nil {
		sm.timer.Stop()
		sm.timer = nil
	}
}

// logFailureLocked logs the first failure of a burst at warn level (error
// for unexpected failures) and the rest at debug until the next success.
func (sm *StreamManager) logFailureLocked(msg string, err error) {
	if sm.inBurst {
		sm.log.Debugf("%s: %v", msg, err)
		return
	}
	sm.inBurst = true
	if IsTransient(err) {
		sm.log.Warnf("%s (backend may be starting), will retry: %v", msg, err)
		return
	}
	utils.ErrorLogger.WithField("component", "stream").Errorf("%s: %v", msg, err)
}

func (sm *StreamManager) setStateLocked(state models.ConnectionState) {
	sm.state.Store(int32(state))
	sm.metrics.SetConnected(state == models.Connected)
}

func scopedTopic(restaurantID string) string {
	return OrdersTopic + "/" + restaurantID
}
