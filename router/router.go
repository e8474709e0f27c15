package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yeremiapane/order-sync/controllers"
	"github.com/yeremiapane/order-sync/kds"
	"github.com/yeremiapane/order-sync/middlewares"
	"github.com/yeremiapane/order-sync/services"
)

func SetupRouter(orderSync *services.OrderSync, hub *kds.Hub, allowedOrigin string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(allowedOrigin))
	r.Use(middlewares.LoggerMiddleware())

	statusCtrl := controllers.NewStatusController(orderSync, hub)
	orderCtrl := controllers.NewOrderController(orderSync)
	kdsCtrl := controllers.NewKDSController(hub)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/status", statusCtrl.GetStatus)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(orderSync.Metrics().Registry, promhttp.HandlerOpts{})))

	// Display clients (kitchen screens)
	r.GET("/kds/ws", kdsCtrl.Handler)

	r.GET("/orders", orderCtrl.GetAllOrders)
	r.GET("/orders/:order_id", orderCtrl.GetOrderByID)

	// Commands hit the backend, so they are rate limited per client
	limiter := middlewares.NewRateLimiter(30, time.Minute)
	commands := r.Group("/")
	commands.Use(limiter.RateLimit())
	{
		commands.POST("/refresh", orderCtrl.Refresh)
		commands.POST("/orders", orderCtrl.CreateOrder)
		commands.PATCH("/orders/:order_id/status", orderCtrl.UpdateStatus)
		commands.POST("/orders/:order_id/confirm", orderCtrl.ConfirmOrder)
		commands.POST("/orders/:order_id/reject", orderCtrl.RejectOrder)
		commands.POST("/orders/:order_id/notes", orderCtrl.AddNote)
		commands.DELETE("/orders/:order_id", orderCtrl.DeleteOrder)
	}

	return r
}
