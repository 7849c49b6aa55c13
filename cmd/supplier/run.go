package supplier

import (
	"context"
	"errors"
	"time"

	service "git.platform.alem.school/amibragim/expedition-supply/internal/app/supplier"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/config"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/rabbitmq"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/telemetry"
)

// Run starts a supplier for the comma-separated equipment list and confirms
// orders until ctx is cancelled or the broker connection is lost.
func Run(ctx context.Context, configPath, name, equipmentCSV string) error {
	// set up a new logger named after the supplier with a static request ID for startup logs
	logger := logger.NewLogger(name)
	ctx = logger.WithRequestID(ctx, "startup-001")

	equipment, err := parseEquipment(equipmentCSV)
	if err != nil {
		return err
	}

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

	supplier, err := service.New(name, equipment, logger)
	if err != nil {
		return err
	}
	if err := supplier.Start(ctx, rabbitmq.NewConnector(cfg.RabbitMQ, logger)); err != nil {
		logger.Error(ctx, "supplier_start_failed", "Failed to start supplier", err)
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = supplier.Close(closeCtx)
	}()

	select {
	case <-ctx.Done():
		// normal shutdown path
	case <-supplier.Done():
		if err := supplier.Err(); err != nil {
			return err
		}
		return errors.New("supplier consumer exited unexpectedly")
	}

	logger.Info(logger.WithRequestID(context.Background(), "shutdown-001"), "graceful_shutdown", "Shutting down supplier", map[string]any{
		"stats": supplier.Stats(),
	})
	return nil
}
