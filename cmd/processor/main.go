// Command processor runs the action executor: it polls the decision queue and
// performs the approved remediation exactly once per request. The concrete
// remediation capability is pluggable; until one is wired in, the logging
// runner stands in.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"approvalgate/internal/approval/executor"
	"approvalgate/internal/approval/metrics"
	approvalpg "approvalgate/internal/approval/store/postgres"
	"approvalgate/internal/platform/config"
	"approvalgate/internal/platform/logger"
	"approvalgate/internal/platform/postgres"
	"approvalgate/internal/platform/queue"
	platformredis "approvalgate/internal/platform/redis"
)

// logRunner is the placeholder remediation capability: it records what would
// have run and reports success.
type logRunner struct {
	logger *slog.Logger
}

func (r *logRunner) Execute(ctx context.Context, action string, parameters map[string]string) (string, error) {
	r.logger.InfoContext(ctx, "executing remediation action",
		"action", action,
		"parameters", parameters,
	)
	return fmt.Sprintf("action %q executed", action), nil
}

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
		"processor-"+uuid.NewString(), cfg.Worker.VisibilityTimeout)
	if err != nil {
		log.Error("queue setup failed", "error", err)
		os.Exit(1)
	}

	svc := executor.New(
		actionQueue,
		approvalpg.NewRequestStore(db),
		&logRunner{logger: log},
		log,
		metrics.New(),
		executor.Options{
			PollInterval: cfg.Worker.PollInterval,
			MaxMessages:  cfg.Worker.MaxMessages,
			WaitTime:     cfg.Worker.WaitTime,
		},
	)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("executor stopped with error", "error", err)
		os.Exit(1)
	}
}
