// Command server exposes the approval API: request creation (issuer) and the
// decision link endpoint (gateway). Business logic lives in internal services
// packages; main only wires dependencies and the server lifecycle.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"approvalgate/internal/approval/gateway"
	"approvalgate/internal/approval/issuer"
	"approvalgate/internal/approval/metrics"
	approvalpg "approvalgate/internal/approval/store/postgres"
	"approvalgate/internal/notify"
	"approvalgate/internal/platform/config"
	"approvalgate/internal/platform/httpserver"
	"approvalgate/internal/platform/logger"
	"approvalgate/internal/platform/postgres"
	"approvalgate/internal/platform/queue"
	platformredis "approvalgate/internal/platform/redis"
	httptransport "approvalgate/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	actionQueue, err := queue.NewRedis(ctx, redisClient.Client, cfg.Queue.Stream, cfg.Queue.Group,
		"server-"+uuid.NewString(), cfg.Worker.VisibilityTimeout)
	if err != nil {
		log.Error("queue setup failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	requests := approvalpg.NewRequestStore(db)
	credentials := approvalpg.NewCredentialStore(db)
	notifier := notify.NewLogNotifier(log, cfg.Notify.BaseURL, cfg.Notify.Sender)

	issuerSvc := issuer.New(requests, credentials, notifier, log, m,
		cfg.Issuance.RequestRetention, cfg.Issuance.TokenTTL)
	gatewaySvc := gateway.New(requests, credentials, actionQueue, notifier, log, m)

	handler := httptransport.NewHandler(issuerSvc, gatewaySvc, requests, log)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler))

	log.Info("starting approvalgate server", "addr", cfg.Server.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
