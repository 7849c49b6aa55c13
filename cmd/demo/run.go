package demo

import (
	"context"
	"fmt"
	"time"

	"git.platform.alem.school/amibragim/expedition-supply/internal/adapter/inmemory"
	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/config"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/rabbitmq"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/telemetry"
)

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerMemory   = "memory"
)

const settleTimeout = 10 * time.Second

func Run(ctx context.Context, configPath, broker string) error {
	// set up a new logger for the demo with a static request ID for startup logs
	logger := logger.NewLogger("demo")
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

	var connector ports.Connector
	switch broker {
	case BrokerMemory:
		connector = inmemory.NewBroker()
	case BrokerRabbitMQ:
		connector = rabbitmq.NewConnector(cfg.RabbitMQ, logger)
	default:
		return fmt.Errorf("unknown broker %q (want %s or %s)", broker, BrokerRabbitMQ, BrokerMemory)
	}

	logger.Info(ctx, "demo_started", "Running the expedition supply scenario", map[string]any{"broker": broker})

	summary, err := runScenario(ctx, connector, logger, settleTimeout)

	logger.Info(logger.WithRequestID(context.Background(), "shutdown-001"), "demo_finished", "Scenario finished", map[string]any{
		"orders_placed":          summary.OrdersPlaced,
		"confirmations_received": summary.ConfirmationsReceived,
		"admin_messages":         summary.AdminMessages,
		"monitored":              summary.Monitored,
		"suppliers":              summary.Suppliers,
	})
	if err != nil {
		logger.Error(ctx, "demo_failed", "Scenario did not complete cleanly", err)
	}
	return err
}
