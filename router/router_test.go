package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/order-sync/config"
	"github.com/yeremiapane/order-sync/kds"
	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/services"
	"github.com/yeremiapane/order-sync/utils"
)

type refusingDialer struct{}

func (refusingDialer) Dial(ctx context.Context) (services.FrameConn, error) {
	return nil, errors.New("connection refused")
}

func setupTestRouter(t *testing.T, allowedOrigin string) (*gin.Engine, *services.OrderSync, *kds.Hub) {
	utils.InitLogger()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.HealthMaxWait = 0
	orderSync := services.NewOrderSync(cfg, services.OrderSyncDeps{Dialer: refusingDialer{}})
	hub := kds.NewHub()
	return SetupRouter(orderSync, hub, allowedOrigin), orderSync, hub
}

func TestPing(t *testing.T) {
	r, _, _ := setupTestRouter(t, "*")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	r, orderSync, _ := setupTestRouter(t, "*")
	orderSync.Metrics().Poll("ok")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "order_sync_")
}

func TestPreflight(t *testing.T) {
	r, _, _ := setupTestRouter(t, "http://kitchen.local")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/orders", nil)
	req.Header.Set("Origin", "http://kitchen.local")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://kitchen.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCommandsAreRateLimited(t *testing.T) {
	r, _, _ := setupTestRouter(t, "*")

	codes := map[int]int{}
	for i := 0; i < 31; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refresh", nil))
		codes[w.Code]++
	}
	// no backend configured, so admitted requests answer 503
	assert.Equal(t, 30, codes[http.StatusServiceUnavailable])
	assert.Equal(t, 1, codes[http.StatusTooManyRequests])

	// reads are not limited
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDisplaySocketReceivesOrderUpdates(t *testing.T) {
	r, orderSync, hub := setupTestRouter(t, "*")
	unsubscribe := orderSync.Subscribe(hub.BroadcastOrderUpdate)
	defer unsubscribe()
	defer orderSync.Stop()

	srv := httptest.NewServer(r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/kds/ws?role=chef"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastOrderUpdate(models.OrderRecord{ID: "A", Status: models.StatusReady})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Event string             `json:"event"`
		Data  models.OrderRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, kds.EventOrderUpdate, msg.Event)
	assert.Equal(t, "A", msg.Data.ID)
	assert.Equal(t, models.StatusReady, msg.Data.Status)

	_, resp, err := websocket.DefaultDialer.Dial(strings.Replace(wsURL, "role=chef", "role=guest", 1), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
