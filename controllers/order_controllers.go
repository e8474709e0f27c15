package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/services"
	"github.com/yeremiapane/order-sync/utils"
)

type OrderController struct {
	Sync *services.OrderSync
}

func NewOrderController(orderSync *services.OrderSync) *OrderController {
	return &OrderController{Sync: orderSync}
}

// GetAllOrders -> local collection, optionally filtered by ?restaurant_id=
func (oc *OrderController) GetAllOrders(c *gin.Context) {
	var orders []models.OrderRecord
	if restaurantID := c.Query("restaurant_id"); restaurantID != "" {
		orders = oc.Sync.OrdersByRestaurant(restaurantID)
	} else if phone := c.Query("phone"); phone != "" {
		orders = oc.Sync.OrdersByPhone(phone)
	} else {
		orders = oc.Sync.Orders()
	}
	if orders == nil {
		orders = []models.OrderRecord{}
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", orders)
}

func (oc *OrderController) GetOrderByID(c *gin.Context) {
	order, ok := oc.Sync.Order(c.Param("order_id"))
	if !ok {
		utils.RespondError(c, http.StatusNotFound, errors.New("order not found"))
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

// Refresh -> fetch the full list from the backend now
func (oc *OrderController) Refresh(c *gin.Context) {
	orders, err := oc.Sync.Refresh(c.Request.Context())
	if err != nil {
		utils.RespondError(c, statusFor(err), err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Orders refreshed", orders)
}

func (oc *OrderController) CreateOrder(c *gin.Context) {
	var body models.OrderRecord
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if body.Status != "" {
		status, err := models.ParseOrderStatus(string(body.Status))
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, err)
			return
		}
		body.Status = status
	}
	order, err := oc.Sync.CreateOrder(c.Request.Context(), body)
	if err != nil {
		utils.RespondError(c, statusFor(err), err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

func (oc *OrderController) UpdateStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	status, err := models.ParseOrderStatus(body.Status)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	order, err := oc.Sync.UpdateStatus(c.Request.Context(), c.Param("order_id"), status)
	if err != nil {
		utils.RespondError(c, statusFor(err), err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order status updated", order)
}

func (oc *OrderController) ConfirmOrder(c *gin.Context) {
	var body struct {
		ConfirmedBy string `json:"confirmedBy"`
	}
	_ = c.ShouldBindJSON(&body)
	order, err := oc.Sync.ConfirmOrder(c.Request.Context(), c.Param("order_id"), body.ConfirmedBy)
	if err != nil {
		utils.RespondError(c, statusFor(err), err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order confirmed", order)
}

func (oc *OrderController) RejectOrder(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	order, err := oc.Sync.RejectOrder(c.Request.Context(), c.Param("order_id"), body.Reason)
	if err != nil {
		utils.RespondError(c, statusFor(err), err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order rejected", order)
}

func (oc *OrderController) AddNote(c *gin.Context) {
	var body struct {
		Note string `json:"note" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	order, err := oc.Sync.AddNote(c.Request.Context(), c.Param("order_id"), body.Note)
	if err != nil {
		utils.RespondError(c, statusFor(err), err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Note added", order)
}

func (oc *OrderController) DeleteOrder(c *gin.Context) {
	if err := oc.Sync.DeleteOrder(c.Request.Context(), c.Param("order_id")); err != nil {
		utils.RespondError(c, statusFor(err), err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order deleted", nil)
}

// statusFor maps sync errors onto the local API's status codes.
func statusFor(err error) int {
	var apiErr *services.APIError
	switch {
	case errors.Is(err, models.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoOrderAPI):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusBadRequest {
			return apiErr.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
