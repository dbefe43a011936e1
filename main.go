package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paygate/configs"
	"paygate/kafka"
	"paygate/routes"
	"paygate/services"
	"paygate/utils"
	"paygate/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "paygate",
		Short:        "Payment gateway callbacks, reconciliation and refunds",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configs.LoadConfig())
		},
	}
}

func runServe(ctx context.Context, cfg *configs.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	// Kafka (optional)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, a.log)
		if err != nil {
			a.log.Warn().Err(err).Msg("payment events will not be published")
		} else {
			defer producer.Close()
			a.recon.Events = producer
		}
	}

	// WebSocket status feed
	hub := ws.NewPaymentHub(a.orders, a.log)
	go hub.Run(ctx)
	a.recon.Notifier = hub

	if !cfg.LogPretty {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterRoutes(r, routes.Deps{
		JWTSecret: cfg.JWTSecret,
		Payments:  a.payments,
		Orders:    a.orders,
		Recon:     a.recon,
		Requests:  a.requests,
		Refunds:   a.refunds,
		Hub:       hub,
		Limiter:   a.limiter(ctx),
		Log:       a.log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configs.LoadConfig()
			cfg.SeedDemo = cfg.SeedDemo || seed
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			a.log.Info().Msg("schema is up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "also insert demo orders")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [payment-id]",
		Short: "Query the provider for a payment and apply a final result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid payment id: %w", err)
			}
			a, err := newApp(configs.LoadConfig())
			if err != nil {
				return err
			}
			res, err := a.recon.Reconcile(cmd.Context(), id, services.CallMeta{Actor: "cli"})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID uint
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case utils.RoleUser, utils.RoleStaff, utils.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			cfg := configs.LoadConfig()
			tok, err := utils.GenerateToken(userID, role, cfg.JWTSecret, cfg.JWTTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user", 1, "user id")
	cmd.Flags().StringVar(&role, "role", utils.RoleUser, "user, staff or admin")
	return cmd
}
