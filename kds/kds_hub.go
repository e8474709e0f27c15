package kds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/utils"
)

// Event types
const (
	EventOrderUpdate = "order_update"
)

const writeWait = 5 * time.Second

type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub holds the local display clients (kitchen screens, dashboards) and
// re-broadcasts order updates to them.
type Hub struct {
	clients map[*websocket.Conn]string // conn -> role
	mutex   sync.Mutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]string)}
}

func (h *Hub) Register(conn *websocket.Conn, role string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = role
	utils.Component("kds").Infof("Display client registered (role=%s, clients=%d)", role, len(h.clients))
}

// Unregister removes and closes conn. Unknown connections are ignored.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
}

func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// BroadcastOrderUpdate has the signature of an order listener so the hub can
// subscribe to the sync client directly.
func (h *Hub) BroadcastOrderUpdate(order models.OrderRecord) {
	h.Broadcast(Message{
		Event: EventOrderUpdate,
		Data:  order,
	})
}

// Broadcast sends msg to every client; clients that fail the write are
// dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		utils.ErrorLogger.Errorf("Error marshaling %s message: %v", msg.Event, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	log := utils.Component("kds")
	log.Debugf("Broadcasting %s to %d clients", msg.Event, len(h.clients))

	for conn, role := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warnf("Dropping display client with role %s: %v", role, err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}
