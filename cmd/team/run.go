package team

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	service "git.platform.alem.school/amibragim/expedition-supply/internal/app/team"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/config"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/rabbitmq"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/telemetry"
)

// Run starts a team and places one order per non-empty line read from in.
func Run(ctx context.Context, configPath, name string, in io.Reader) error {
	// set up a new logger named after the team with a static request ID for startup logs
	logger := logger.NewLogger(name)
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error(ctx, "telemetry_setup_failed", "Failed to set up tracing", err)
		return err
	}
	defer shutdown(context.WithoutCancel(ctx))

	team, err := service.New(name, logger)
	if err != nil {
		return err
	}
	if err := team.Start(ctx, rabbitmq.NewConnector(cfg.RabbitMQ, logger)); err != nil {
		logger.Error(ctx, "team_start_failed", "Failed to start team", err)
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = team.Close(closeCtx)
	}()

	logger.Info(ctx, "service_started", "Team started, type an equipment type per line to order it", map[string]any{"team": name})

	// read orders in the background; EOF only stops reading
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			equipment := strings.TrimSpace(sc.Text())
			if equipment == "" {
				continue
			}
			// failures are logged by the team; keep reading
			_, _ = team.PlaceOrder(logger.WithNewRequestID(ctx), equipment)
		}
		if err := sc.Err(); err != nil {
			logger.Error(ctx, "input_read_failed", "Failed to read orders", err)
		}
	}()

	select {
	case <-ctx.Done():
		// normal shutdown path
	case <-team.Done():
		// consumption stopped on its own: the broker connection is gone
		if err := team.Err(); err != nil {
			return err
		}
		return errors.New("team consumer exited unexpectedly")
	}

	logger.Info(logger.WithRequestID(context.Background(), "shutdown-001"), "graceful_shutdown", "Shutting down team", map[string]any{
		"stats": team.Stats(),
	})
	return nil
}
