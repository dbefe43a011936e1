package main

import (
	"context"
	"fmt"

	"paygate/configs"
	"paygate/gateway"
	"paygate/middlewares"
	"paygate/repository"
	"paygate/services"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// app holds the wiring shared by every subcommand.
type app struct {
	cfg *configs.Config
	log zerolog.Logger
	db  *gorm.DB

	payments *repository.PaymentRepository
	orders   *repository.OrderRepository
	audit    *repository.AuditRepository
	gateways *gateway.Registry

	recon    *services.ReconciliationService
	requests *services.PaymentRequestService
	refunds  *services.RefundService
}

func newApp(cfg *configs.Config) (*app, error) {
	logger := configs.NewLogger(cfg.LogLevel, cfg.LogPretty)

	// DB
	db, err := configs.OpenDatabase(cfg.DBDriver, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	if err := configs.SetupDatabase(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if cfg.SeedDemo {
		if err := configs.SeedDemoOrders(db); err != nil {
			return nil, fmt.Errorf("seed demo orders: %w", err)
		}
	}

	a := &app{
		cfg:      cfg,
		log:      logger,
		db:       db,
		payments: repository.NewPaymentRepository(db),
		orders:   repository.NewOrderRepository(db),
		audit:    repository.NewAuditRepository(db),
		gateways: gateway.NewRegistryFromConfig(cfg.Gateways, logger),
	}
	a.recon = services.NewReconciliationService(db, a.payments, a.orders, a.audit, a.gateways, cfg.AmountTolerance, logger)
	a.requests = services.NewPaymentRequestService(a.payments, a.orders, a.recon, a.gateways, a.audit, logger)
	a.refunds = services.NewRefundService(a.payments, a.recon, a.gateways, a.audit, logger)

	logger.Info().
		Str("db", cfg.DBDriver).
		Interface("methods", a.gateways.Methods()).
		Msg("payment services ready")
	return a, nil
}

// limiter uses Redis when configured and reachable; otherwise counts in
// process memory, which is only correct for a single instance.
func (a *app) limiter(ctx context.Context) middlewares.Limiter {
	if a.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword})
		err := client.Ping(ctx).Err()
		if err == nil {
			a.log.Info().Str("addr", a.cfg.RedisAddr).Msg("rate limiter on redis")
			return middlewares.NewRedisLimiter(client, a.cfg.RateLimit, a.cfg.RateLimitEvery)
		}
		a.log.Warn().Err(err).Msg("redis unreachable, rate limiting in memory")
		_ = client.Close()
	}
	return middlewares.NewMemoryLimiter(a.cfg.RateLimit, a.cfg.RateLimitEvery)
}
