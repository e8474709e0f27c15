package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeremiapane/order-sync/kds"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // display clients are served from other local origins
	},
}

var displayRoles = map[string]bool{"chef": true, "staff": true, "admin": true, "display": true}

type KDSController struct {
	Hub *kds.Hub
}

func NewKDSController(hub *kds.Hub) *KDSController {
	return &KDSController{Hub: hub}
}

// Handler upgrades to a WebSocket and keeps the client registered until it
// disconnects. ?role= defaults to "display".
func (kc *KDSController) Handler(c *gin.Context) {
	role := c.DefaultQuery("role", "display")
	if !displayRoles[role] {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	kc.Hub.Register(ws, role)

	// drain client frames until it goes away
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	kc.Hub.Unregister(ws)
}
