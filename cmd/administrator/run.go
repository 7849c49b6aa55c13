package administrator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	service "git.platform.alem.school/amibragim/expedition-supply/internal/app/administrator"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/config"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"
	pg "git.platform.alem.school/amibragim/expedition-supply/internal/shared/postgres"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/rabbitmq"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/telemetry"
)

// Run starts the administrator, broadcasts every command line read from in
// and watches the monitoring stream. With database.enabled the stream is
// also journaled to Postgres.
func Run(ctx context.Context, configPath string, in io.Reader) error {
	// set up a new logger for the administrator with a static request ID for startup logs
	logger := logger.NewLogger(service.DefaultName)
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

	var opts []service.Option
	if cfg.Database.Enabled {
		// set up a Postgres connection pool for the monitoring journal
		pool, err := pg.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err)
			return err
		}
		defer pool.Close()

		if err := pg.EnsureSchema(ctx, pool); err != nil {
			logger.Error(ctx, "db_schema_failed", "Failed to create the monitoring journal table", err)
			return err
		}
		opts = append(opts, service.WithJournal(pg.NewJournal(pg.NewUnitOfWork(pool), pg.NewMonitoringRepo())))
	}

	admin, err := service.New(logger, opts...)
	if err != nil {
		return err
	}
	if err := admin.Start(ctx, rabbitmq.NewConnector(cfg.RabbitMQ, logger)); err != nil {
		logger.Error(ctx, "administrator_start_failed", "Failed to start administrator", err)
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = admin.Close(closeCtx)
	}()

	// read broadcasts in the background; EOF only stops reading
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			group, content, err := parseCommand(line)
			if err != nil {
				logger.Warn(ctx, "command_invalid", err.Error(), nil)
				continue
			}
			// failures are logged by the administrator; keep reading
			_, _ = admin.Broadcast(logger.WithNewRequestID(ctx), content, group)
		}
		if err := sc.Err(); err != nil {
			logger.Error(ctx, "input_read_failed", "Failed to read commands", err)
		}
	}()

	select {
	case <-ctx.Done():
		// normal shutdown path
	case <-admin.Done():
		if err := admin.Err(); err != nil {
			return err
		}
		return errors.New("administrator consumer exited unexpectedly")
	}

	logger.Info(logger.WithRequestID(context.Background(), "shutdown-001"), "graceful_shutdown", "Shutting down administrator", map[string]any{
		"stats": admin.Stats(),
	})
	return nil
}
