package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/app"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/httpapi"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	if cfg.LogFormat != "console" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDSN)

	rl, err := app.NewRelay(ctx, cfg, gdb, logger.L())
	if err != nil {
		logger.Fatal("relay setup failed", err)
	}
	defer rl.Close()

	// async routes only exist when the broker is reachable
	var jobs handlers.JobPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Warnw("rabbitmq unavailable, async relay disabled", "error", err)
		} else {
			defer pub.Close()
			jobs = pub
		}
	}

	h := handlers.NewHandler(rl.Orchestrator, jobs, logger.L().Named("http"))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("server started", "addr", cfg.HTTPAddr, "auth", cfg.JWTSecret != "", "async", jobs != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("server shutting down")

	// let in-flight relays finish their final write
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", err)
	}
}
