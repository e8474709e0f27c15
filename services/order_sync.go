package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/order-sync/config"
	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/utils"
)

// OrderBackend is the REST side of the order service.
type OrderBackend interface {
	FetchAll(ctx context.Context) ([]models.OrderRecord, error)
	FetchByID(ctx context.Context, id string) (models.OrderRecord, error)
	Create(ctx context.Context, order models.OrderRecord) (models.OrderRecord, error)
	Patch(ctx context.Context, id string, fields map[string]interface{}) (models.OrderRecord, error)
	Delete(ctx context.Context, id string) error
}

// OrderSyncDeps overrides the collaborators NewOrderSync would build from
// the configuration. Nil fields get defaults; a nil Backend disables
// polling and order commands.
type OrderSyncDeps struct {
	Dialer  StreamDialer
	Backend OrderBackend
	Prober  *HealthProber
	Metrics *SyncMetrics
}

// OrderSync is the entry point for order consumers: it keeps the local
// order collection in sync from the stream and the poller and exposes the
// order commands.
type OrderSync struct {
	cfg        config.Config
	backend    OrderBackend
	reconciler *Reconciler
	registry   *SubscriptionRegistry
	stream     *StreamManager
	poller     *PollScheduler
	metrics    *SyncMetrics
	log        *logrus.Entry

	mu      sync.Mutex
	started bool
}

// NewOrderSync wires the components for cfg. Use NewOrderSyncFromConfig
// for the default REST client and WebSocket transport.
func NewOrderSync(cfg config.Config, deps OrderSyncDeps) *OrderSync {
	s := &OrderSync{
		cfg:        cfg,
		backend:    deps.Backend,
		reconciler: NewReconciler(),
		metrics:    deps.Metrics,
		log:        utils.Component("order-sync"),
	}
	if s.metrics == nil {
		s.metrics = NewSyncMetrics()
	}
	s.reconciler.OnChange(func(orders []models.OrderRecord) {
		s.metrics.SetOrderCount(len(orders))
	})

	s.registry = NewSubscriptionRegistry(s.metrics)

	dialer := deps.Dialer
	if dialer == nil {
		header := http.Header{}
		if cfg.AuthToken != "" {
			header.Set("Authorization", "Bearer "+cfg.AuthToken)
		}
		dialer = &WebSocketDialer{URL: cfg.StreamURL, Header: header}
	}
	prober := deps.Prober
	if prober == nil && cfg.RESTURL != "" {
		prober = NewHealthProber(cfg.RESTURL, cfg.HealthTimeout)
	}

	s.stream = NewStreamManager(dialer, prober, s.receive,
		NewReconnectPolicy(cfg.MaxReconnectAttempts, cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay),
		s.metrics,
		StreamOptions{
			Host:               streamHost(cfg.StreamURL),
			AuthToken:          cfg.AuthToken,
			ConnectTimeout:     cfg.ConnectTimeout,
			HealthMaxWait:      cfg.HealthMaxWait,
			HealthPollInterval: cfg.HealthPollInterval,
		})
	s.stream.SetRestaurantScope(cfg.RestaurantID)

	if s.backend != nil {
		s.poller = NewPollScheduler(s.backend.FetchAll, s.reconciler.ApplyFullSnapshot, s.stream.IsConnected, s.metrics)
		s.poller.DisconnectedInterval = cfg.PollIntervalDisconnected
		s.poller.ConnectedInterval = cfg.PollIntervalConnected
		s.poller.Cooldown = cfg.ServerErrorCooldown
		s.poller.RequestTimeout = cfg.RequestTimeout
	}
	return s
}

// NewOrderSyncFromConfig uses the REST client at cfg.RESTURL.
func NewOrderSyncFromConfig(cfg config.Config, metrics *SyncMetrics) *OrderSync {
	var backend OrderBackend
	if cfg.RESTURL != "" {
		backend = NewOrderAPI(cfg.RESTURL, cfg.AuthToken, cfg.RequestTimeout)
	}
	return NewOrderSync(cfg, OrderSyncDeps{Backend: backend, Metrics: metrics})
}

// receive applies a stream update to the collection, then fans it out.
func (s *OrderSync) receive(order models.OrderRecord) {
	s.reconciler.ApplyIncremental(order)
	s.registry.Dispatch(order)
}

// Start begins polling and connects the stream in the background.
func (s *OrderSync) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if s.poller != nil {
		s.poller.Start()
	}
	go func() { _ = s.stream.Connect(ctx) }()
	s.log.Infof("Order sync started (stream %s)", s.cfg.StreamURL)
}

// Stop disconnects the stream and stops polling; both are joined before it
// returns. Listeners stay registered.
func (s *OrderSync) Stop() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	s.stream.Disconnect()
	if s.poller != nil {
		s.poller.Stop()
	}
	s.log.Info("Order sync stopped")
}

// Subscribe registers onUpdate for every stream update and makes sure the
// stream is connecting. The returned func unsubscribes; calling it more
// than once is harmless.
func (s *OrderSync) Subscribe(onUpdate OrderListener) func() {
	handle := s.registry.Subscribe(onUpdate)
	go func() { _ = s.stream.EnsureConnected(context.Background()) }()
	return func() { s.registry.Unsubscribe(handle) }
}

func (s *OrderSync) SubscriberCount() int { return s.registry.Len() }

func (s *OrderSync) OnTerminalFailure(fn func(error)) { s.stream.OnTerminalFailure(fn) }

func (s *OrderSync) IsConnected() bool { return s.stream.IsConnected() }

func (s *OrderSync) ConnectionState() models.ConnectionState { return s.stream.State() }

func (s *OrderSync) ReconnectAttempts() int { return s.stream.Attempts() }

func (s *OrderSync) ConfigureRestaurantScope(restaurantID string) {
	s.stream.SetRestaurantScope(restaurantID)
}

func (s *OrderSync) Metrics() *SyncMetrics { return s.metrics }

// Refresh fetches the full list now and returns the resulting collection.
func (s *OrderSync) Refresh(ctx context.Context) ([]models.OrderRecord, error) {
	if s.poller == nil {
		return nil, ErrNoOrderAPI
	}
	if err := s.poller.RefreshNow(ctx); err != nil {
		return nil, err
	}
	return s.Orders(), nil
}

// Orders returns a copy of the current collection sorted by creation time.
func (s *OrderSync) Orders() []models.OrderRecord {
	snap := s.reconciler.Snapshot()
	out := make([]models.OrderRecord, len(snap))
	for i, o := range snap {
		out[i] = o.Clone()
	}
	return out
}

func (s *OrderSync) Order(id string) (models.OrderRecord, bool) { return s.reconciler.Get(id) }

func (s *OrderSync) OrdersByPhone(phone string) []models.OrderRecord {
	return s.reconciler.ByPhone(phone)
}

func (s *OrderSync) OrdersByUser(userID string) []models.OrderRecord {
	return s.reconciler.ByUserID(userID)
}

func (s *OrderSync) OrdersByRestaurant(restaurantID string) []models.OrderRecord {
	return s.reconciler.ByRestaurantID(restaurantID)
}

func (s *OrderSync) OrdersByPaymentSession(sessionID string) []models.OrderRecord {
	return s.reconciler.ByPaymentSession(sessionID)
}

// SendOrderUpdate publishes order on the stream to OrderUpdateDestination.
func (s *OrderSync) SendOrderUpdate(order models.OrderRecord) error {
	return s.stream.Publish(OrderUpdateDestination, order)
}

// CreateOrder shows order immediately as a placeholder and replaces it with
// the server's record. The placeholder is removed if the backend rejects
// the order.
func (s *OrderSync) CreateOrder(ctx context.Context, order models.OrderRecord) (models.OrderRecord, error) {
	if s.backend == nil {
		return models.OrderRecord{}, ErrNoOrderAPI
	}
	order = order.Clone()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = models.StatusPending
	}
	now := nowMillis()
	if order.CreatedAt == 0 {
		order.CreatedAt = now
	}
	if order.UpdatedAt == 0 {
		order.UpdatedAt = order.CreatedAt
	}
	if len(order.Items) > 0 && order.Total == 0 {
		prices, quantities := itemColumns(order.Items)
		order.Total = utils.ItemsTotal(prices, quantities).InexactFloat64()
	}
	if err := order.ValidateForCreate(); err != nil {
		return models.OrderRecord{}, err
	}

	s.reconciler.AddPlaceholder(order)
	created, err := s.backend.Create(ctx, order)
	if err != nil {
		s.reconciler.Remove(order.ID)
		return models.OrderRecord{}, err
	}
	if created.ID != order.ID {
		s.reconciler.Remove(order.ID)
	}
	s.reconciler.ApplyIncremental(created)
	s.log.Infof("Created order %s", created.ID)
	return created, nil
}

func (s *OrderSync) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (models.OrderRecord, error) {
	if !status.Valid() {
		return models.OrderRecord{}, fmt.Errorf("%w: unknown status %q", models.ErrInvalidOrder, status)
	}
	fields := map[string]interface{}{"status": status.WireValue()}
	if status == models.StatusCancelled {
		fields["cancelledAt"] = nowMillis()
	}
	return s.patch(ctx, id, fields)
}

// ConfirmOrder marks the order confirmed by staff member confirmedBy.
func (s *OrderSync) ConfirmOrder(ctx context.Context, id, confirmedBy string) (models.OrderRecord, error) {
	fields := map[string]interface{}{
		"status":      models.StatusConfirmed.WireValue(),
		"confirmedAt": nowMillis(),
	}
	if confirmedBy != "" {
		fields["confirmedBy"] = confirmedBy
	}
	return s.patch(ctx, id, fields)
}

// RejectOrder cancels the order and records reason in its internal notes.
func (s *OrderSync) RejectOrder(ctx context.Context, id, reason string) (models.OrderRecord, error) {
	fields := map[string]interface{}{
		"status":      models.StatusCancelled.WireValue(),
		"cancelledAt": nowMillis(),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		fields["internalNotes"] = s.appendNote(id, "[Rejected]: "+reason)
	}
	return s.patch(ctx, id, fields)
}

func (s *OrderSync) AddNote(ctx context.Context, id, note string) (models.OrderRecord, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return models.OrderRecord{}, fmt.Errorf("%w: empty note", models.ErrInvalidOrder)
	}
	return s.patch(ctx, id, map[string]interface{}{"internalNotes": s.appendNote(id, note)})
}

func (s *OrderSync) DeleteOrder(ctx context.Context, id string) error {
	if s.backend == nil {
		return ErrNoOrderAPI
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return err
	}
	s.reconciler.Remove(id)
	s.log.Infof("Deleted order %s", id)
	return nil
}

func (s *OrderSync) patch(ctx context.Context, id string, fields map[string]interface{}) (models.OrderRecord, error) {
	if s.backend == nil {
		return models.OrderRecord{}, ErrNoOrderAPI
	}
	if id == "" {
		return models.OrderRecord{}, fmt.Errorf("%w: missing id", models.ErrInvalidOrder)
	}
	updated, err := s.backend.Patch(ctx, id, fields)
	if err != nil {
		return models.OrderRecord{}, err
	}
	s.reconciler.ApplyIncremental(updated)
	return updated, nil
}

func (s *OrderSync) appendNote(id, note string) string {
	held, ok := s.reconciler.Get(id)
	if !ok || held.InternalNotes == "" {
		return note
	}
	return held.InternalNotes + "\n" + note
}

func itemColumns(items []models.OrderItem) ([]float64, []int) {
	prices := make([]float64, len(items))
	quantities := make([]int, len(items))
	for i, it := range items {
		prices[i] = it.Price
		quantities[i] = it.Quantity
	}
	return prices, quantities
}

// streamHost is the STOMP host header: the host of the stream URL.
func streamHost(streamURL string) string {
	u, err := url.Parse(streamURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func nowMillis() int64 { return time.Now().UnixMilli() }
