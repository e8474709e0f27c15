package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/order-sync/kds"
	"github.com/yeremiapane/order-sync/services"
	"github.com/yeremiapane/order-sync/utils"
)

type StatusController struct {
	Sync *services.OrderSync
	Hub  *kds.Hub
}

func NewStatusController(orderSync *services.OrderSync, hub *kds.Hub) *StatusController {
	return &StatusController{Sync: orderSync, Hub: hub}
}

type statusResponse struct {
	State             string             `json:"state"`
	Connected         bool               `json:"connected"`
	ReconnectAttempts int                `json:"reconnect_attempts"`
	Subscribers       int                `json:"subscribers"`
	Orders            int                `json:"orders"`
	DisplayClients    int                `json:"display_clients"`
	Stats             services.SyncStats `json:"stats"`
}

// GetStatus -> connection state and sync counters
func (sc *StatusController) GetStatus(c *gin.Context) {
	resp := statusResponse{
		State:             sc.Sync.ConnectionState().String(),
		Connected:         sc.Sync.IsConnected(),
		ReconnectAttempts: sc.Sync.ReconnectAttempts(),
		Subscribers:       sc.Sync.SubscriberCount(),
		Orders:            len(sc.Sync.Orders()),
		Stats:             sc.Sync.Metrics().GetStats(),
	}
	if sc.Hub != nil {
		resp.DisplayClients = sc.Hub.ClientCount()
	}
	utils.RespondJSON(c, http.StatusOK, "Sync status", resp)
}
