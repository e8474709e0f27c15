package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/order-sync/config"
	"github.com/yeremiapane/order-sync/models"
)

type fakeBackend struct {
	mu         sync.Mutex
	orders     []models.OrderRecord
	fetchCalls int
	patches    []map[string]interface{}
	deleted    []string
	created    []models.OrderRecord
	createGate chan struct{}
	createErr  error
}

func (b *fakeBackend) FetchAll(ctx context.Context) ([]models.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchCalls++
	out := make([]models.OrderRecord, len(b.orders))
	copy(out, b.orders)
	return out, nil
}

func (b *fakeBackend) FetchByID(ctx context.Context, id string) (models.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return models.OrderRecord{}, &APIError{StatusCode: 404, Op: "fetch order"}
}

func (b *fakeBackend) Create(ctx context.Context, order models.OrderRecord) (models.OrderRecord, error) {
	if b.createGate != nil {
		<-b.createGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, order)
	if b.createErr != nil {
		return models.OrderRecord{}, b.createErr
	}
	out := order.Clone()
	out.ID = "srv-" + order.ID
	out.UpdatedAt = order.UpdatedAt + 1
	return out, nil
}

func (b *fakeBackend) Patch(ctx context.Context, id string, fields map[string]interface{}) (models.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patches = append(b.patches, fields)
	out := models.OrderRecord{ID: id, UpdatedAt: 100 + int64(len(b.patches))}
	if s, ok := fields["status"].(string); ok {
		out.Status, _ = models.ParseOrderStatus(s)
	}
	if notes, ok := fields["internalNotes"].(string); ok {
		out.InternalNotes = notes
	}
	if by, ok := fields["confirmedBy"].(string); ok {
		out.ConfirmedBy = by
	}
	return out, nil
}

func (b *fakeBackend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) lastPatch() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.patches[len(b.patches)-1]
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HealthMaxWait = 0
	cfg.MaxReconnectAttempts = 2
	cfg.ReconnectBaseDelay = 5 * time.Millisecond
	cfg.ReconnectMaxDelay = 20 * time.Millisecond
	cfg.PollIntervalDisconnected = 10 * time.Millisecond
	cfg.PollIntervalConnected = time.Hour
	cfg.ConnectTimeout = time.Second
	return cfg
}

func newTestSync(backend OrderBackend, dialer StreamDialer) *OrderSync {
	return NewOrderSync(testConfig(), OrderSyncDeps{Dialer: dialer, Backend: backend})
}

func TestOrderSync_SubscribeConnectsAndReconciles(t *testing.T) {
	dialer := acceptingDialer()
	s := newTestSync(nil, dialer)
	defer s.Stop()

	got := &orderSink{}
	unsubscribe := s.Subscribe(got.listener)
	require.Eventually(t, s.IsConnected, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.Connected, s.ConnectionState())
	assert.Equal(t, 1, s.SubscriberCount())

	dialer.conn(0).message(`{"id":"A","status":"PENDING","createdAt":10,"updatedAt":10}`)
	dialer.conn(0).message(`{"id":"A","status":"READY","updatedAt":20}`)
	require.Eventually(t, func() bool { return len(got.ids()) == 2 }, time.Second, 5*time.Millisecond)

	orders := s.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, models.StatusReady, orders[0].Status)
	assert.Equal(t, int64(10), orders[0].CreatedAt)
	assert.Equal(t, int64(1), s.Metrics().GetStats().OrdersInCollection)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, s.SubscriberCount())
	// the stream stays up without listeners
	assert.True(t, s.IsConnected())
}

func TestOrderSync_RefreshRequiresBackend(t *testing.T) {
	s := newTestSync(nil, acceptingDialer())
	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoOrderAPI)

	_, err = s.CreateOrder(context.Background(), models.OrderRecord{})
	assert.ErrorIs(t, err, ErrNoOrderAPI)
	assert.ErrorIs(t, s.DeleteOrder(context.Background(), "A"), ErrNoOrderAPI)
}

func TestOrderSync_Refresh(t *testing.T) {
	backend := &fakeBackend{orders: []models.OrderRecord{
		{ID: "B", CreatedAt: 2, RestaurantID: "R1"},
		{ID: "A", CreatedAt: 1, CustomerPhone: "0900"},
	}}
	s := newTestSync(backend, acceptingDialer())

	orders, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(orders))
	assert.Equal(t, []string{"B"}, ids(s.OrdersByRestaurant("r1")))
	assert.Equal(t, []string{"A"}, ids(s.OrdersByPhone("0900")))

	o, ok := s.Order("A")
	require.True(t, ok)
	assert.Equal(t, "0900", o.CustomerPhone)
}

func TestOrderSync_CreateOrderShowsPlaceholder(t *testing.T) {
	backend := &fakeBackend{createGate: make(chan struct{})}
	s := newTestSync(backend, acceptingDialer())

	done := make(chan models.OrderRecord, 1)
	go func() {
		created, err := s.CreateOrder(context.Background(), models.OrderRecord{
			CustomerName:  "Lan",
			CustomerPhone: "0900",
			Items:         []models.OrderItem{{Name: "Pho", Price: 45000, Quantity: 2}},
		})
		assert.NoError(t, err)
		done <- created
	}()

	require.Eventually(t, func() bool { return len(s.Orders()) == 1 }, time.Second, 5*time.Millisecond)
	placeholder := s.Orders()[0]
	assert.True(t, placeholder.Placeholder)
	assert.Equal(t, models.StatusPending, placeholder.Status)
	assert.Equal(t, 90000.0, placeholder.Total)
	assert.NotEmpty(t, placeholder.ID)

	close(backend.createGate)
	created := <-done

	orders := s.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, created.ID, orders[0].ID)
	assert.Equal(t, "srv-"+placeholder.ID, created.ID)
	assert.False(t, orders[0].Placeholder)
}

func TestOrderSync_CreateOrderFailureRemovesPlaceholder(t *testing.T) {
	backend := &fakeBackend{createErr: &APIError{StatusCode: 500, Op: "create order"}}
	s := newTestSync(backend, acceptingDialer())

	_, err := s.CreateOrder(context.Background(), models.OrderRecord{
		ID:            "P",
		CustomerName:  "Lan",
		CustomerPhone: "0900",
		Items:         []models.OrderItem{{Name: "Pho", Price: 1, Quantity: 1}},
	})
	assert.True(t, IsServerError(err))
	assert.Empty(t, s.Orders())
}

func TestOrderSync_CreateOrderValidates(t *testing.T) {
	backend := &fakeBackend{}
	s := newTestSync(backend, acceptingDialer())

	_, err := s.CreateOrder(context.Background(), models.OrderRecord{CustomerName: "Lan"})
	assert.ErrorIs(t, err, models.ErrInvalidOrder)
	assert.Empty(t, backend.created)
	assert.Empty(t, s.Orders())
}

func TestOrderSync_Commands(t *testing.T) {
	backend := &fakeBackend{orders: []models.OrderRecord{{ID: "A", InternalNotes: "no onions", CreatedAt: 1, UpdatedAt: 1}}}
	s := newTestSync(backend, acceptingDialer())
	ctx := context.Background()
	_, err := s.Refresh(ctx)
	require.NoError(t, err)

	confirmed, err := s.ConfirmOrder(ctx, "A", "chef-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.Equal(t, "CONFIRMED", backend.lastPatch()["status"])
	assert.Equal(t, "chef-1", backend.lastPatch()["confirmedBy"])
	assert.Contains(t, backend.lastPatch(), "confirmedAt")

	_, err = s.UpdateStatus(ctx, "A", models.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, "PREPARING", backend.lastPatch()["status"])

	_, err = s.UpdateStatus(ctx, "A", models.OrderStatus("Lost"))
	assert.ErrorIs(t, err, models.ErrInvalidOrder)

	_, err = s.AddNote(ctx, "A", "extra chili")
	require.NoError(t, err)
	assert.Equal(t, "extra chili", backend.lastPatch()["internalNotes"])

	rejected, err := s.RejectOrder(ctx, "A", "kitchen closed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, rejected.Status)
	assert.Equal(t, "extra chili\n[Rejected]: kitchen closed", backend.lastPatch()["internalNotes"])

	held, _ := s.Order("A")
	assert.Equal(t, models.StatusCancelled, held.Status)

	require.NoError(t, s.DeleteOrder(ctx, "A"))
	_, ok := s.Order("A")
	assert.False(t, ok)
	assert.Equal(t, []string{"A"}, backend.deleted)
}

func TestOrderSync_AddNoteRejectsEmpty(t *testing.T) {
	s := newTestSync(&fakeBackend{}, acceptingDialer())
	_, err := s.AddNote(context.Background(), "A", "  ")
	assert.ErrorIs(t, err, models.ErrInvalidOrder)
}

func TestOrderSync_StartPollsWhileDisconnectedAndStopJoins(t *testing.T) {
	backend := &fakeBackend{orders: []models.OrderRecord{{ID: "A"}}}
	dialer := &fakeDialer{dial: func(int) (*fakeConn, error) { return nil, errors.New("refused") }}
	s := newTestSync(backend, dialer)

	terminal := make(chan error, 1)
	s.OnTerminalFailure(func(err error) { terminal <- err })

	s.Start(context.Background())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.fetchCalls >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, s.Orders(), 1)

	select {
	case err := <-terminal:
		assert.ErrorIs(t, err, ErrReconnectsExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal failure was not reported")
	}

	s.Stop()
	backend.mu.Lock()
	calls := backend.fetchCalls
	backend.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	backend.mu.Lock()
	assert.Equal(t, calls, backend.fetchCalls)
	backend.mu.Unlock()
	assert.Equal(t, models.Disconnected, s.ConnectionState())
}

func TestOrderSync_SendOrderUpdate(t *testing.T) {
	dialer := acceptingDialer()
	s := newTestSync(nil, dialer)
	defer s.Stop()

	assert.ErrorIs(t, s.SendOrderUpdate(models.OrderRecord{ID: "A"}), ErrNotConnected)

	s.Start(context.Background())
	require.Eventually(t, s.IsConnected, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.SendOrderUpdate(models.OrderRecord{ID: "A", Status: models.StatusReady}))
	assert.Len(t, dialer.conn(0).frames(CmdSend), 1)
}

func TestStreamHost(t *testing.T) {
	assert.Equal(t, "localhost", streamHost("ws://localhost:8080/ws/websocket"))
	assert.Equal(t, "orders.example.com", streamHost("wss://orders.example.com/ws"))
}
