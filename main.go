package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/order-sync/config"
	"github.com/yeremiapane/order-sync/kds"
	"github.com/yeremiapane/order-sync/router"
	"github.com/yeremiapane/order-sync/services"
	"github.com/yeremiapane/order-sync/utils"
)

func main() {
	cfg, err := config.Load()
	utils.InitLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		utils.ErrorLogger.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	utils.WarnIfTokenExpiring(cfg.AuthToken, time.Hour)

	metrics := services.NewSyncMetrics()
	orderSync := services.NewOrderSyncFromConfig(cfg, metrics)
	orderSync.OnTerminalFailure(func(err error) {
		utils.ErrorLogger.Errorf("Live order updates unavailable, relying on polling: %v", err)
	})

	hub := kds.NewHub()
	unsubscribe := orderSync.Subscribe(hub.BroadcastOrderUpdate)
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orderSync.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.SetupRouter(orderSync, hub, cfg.AllowedOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatal(err)
		}
	}()

	<-ctx.Done()
	utils.InfoLogger.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.Printf("HTTP shutdown: %v", err)
	}
	orderSync.Stop()
}
