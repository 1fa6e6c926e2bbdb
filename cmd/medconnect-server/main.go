package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medconnect/medconnect/internal/config"
	"github.com/medconnect/medconnect/internal/domain/appointment"
	"github.com/medconnect/medconnect/internal/domain/identity"
	"github.com/medconnect/medconnect/internal/domain/messaging"
	"github.com/medconnect/medconnect/internal/domain/notification"
	"github.com/medconnect/medconnect/internal/domain/wellness"
	"github.com/medconnect/medconnect/internal/platform/auth"
	"github.com/medconnect/medconnect/internal/platform/db"
	"github.com/medconnect/medconnect/internal/platform/middleware"
	"github.com/medconnect/medconnect/internal/platform/websocket"
)

const (
	appName         = "medconnect-server"
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "MedConnect messaging and notification server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and socket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationsDir(dir, cfg)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsDir(dir, cfg)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// tokenCmd mints bearer tokens for existing users, mostly for poking at the
// socket endpoint from a terminal.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a token for an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("user")
			userID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--user must be a valid uuid")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			u, err := identity.NewUserRepo(pool).GetByID(ctx, userID)
			if err != nil {
				return err
			}
			token, err := newTokens(cfg).Issue(u.ID, string(u.Role))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().String("user", "", "User id to issue the token for")
	_ = issueCmd.MarkFlagRequired("user")

	cmd.AddCommand(issueCmd)
	return cmd
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var w io.Writer = out
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: out}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", appName).Logger()
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		AppName:  appName,
	}
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

func newTokens(cfg *config.Config) *auth.Tokens {
	return auth.NewTokens(auth.TokenConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	})
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// newBackplane returns the Redis backplane when REDIS_URL is set so rooms
// span instances, and the in-process one otherwise.
func newBackplane(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (websocket.Backplane, error) {
	if cfg.RedisURL == "" {
		return websocket.NewLocalBackplane(), nil
	}
	client, err := websocket.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	bp, err := websocket.NewRedisBackplane(ctx, client, websocket.DefaultRedisChannel, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return bp, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	txm := db.NewTxManager(pool)

	// Rooms
	bp, err := newBackplane(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start room backplane")
		return err
	}
	hub := websocket.NewHub(bp, logger)
	if cfg.RedisURL != "" {
		logger.Info().Msg("room fan-out over redis")
	}

	// Services
	tokens := newTokens(cfg)
	identitySvc := identity.NewService(identity.NewUserRepo(pool), tokens)
	authn := auth.NewAuthenticator(tokens, identitySvc)

	messagingSvc := messaging.NewService(messaging.NewConversationRepo(pool), messaging.NewMessageRepo(pool), txm)
	gateway := messaging.NewGateway(messagingSvc, hub, logger)

	wellnessSvc := wellness.NewService(wellness.NewRepo(pool))

	notificationRepo := notification.NewRepo(pool)
	generator := notification.NewGenerator(
		notificationRepo,
		txm,
		wellnessSvc,
		appointment.NewRepo(pool),
		notification.NewTemplateEngine(),
		notification.GeneratorConfig{Trigger: notification.NewRandomTrigger(cfg.InsightProbability)},
	)
	notificationSvc := notification.NewService(notificationRepo, generator, hub, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": version,
			"sockets": hub.ClientCount(),
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, logger))

	// Socket endpoint authenticates its own handshake.
	websocket.NewServer(hub, authn, gateway.Dispatch, websocket.ServerConfig{
		AllowedOrigins: cfg.WSAllowedOrigins,
	}, logger).RegisterRoutes(e)

	api := e.Group("/api")
	api.Use(auth.JWTMiddleware(authn, auth.AuthSkipper))
	api.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	api.Use(middleware.BodyLimit("1MB"))

	identity.NewHandler(identitySvc).RegisterRoutes(api)
	messaging.NewHandler(messagingSvc).RegisterRoutes(api)
	wellness.NewHandler(wellnessSvc).RegisterRoutes(api)
	notification.NewHandler(notificationSvc).RegisterRoutes(api)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		_ = hub.Close()
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Close(); err != nil {
		logger.Warn().Err(err).Msg("room backplane close failed")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
