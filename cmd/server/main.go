// @title           SecureLMS API
// @version         1.0.0
// @description     Access-control and audit-integrity core for a learning management system: layered policy decisions (RuBAC, MAC, ABAC), hardened authentication with TOTP step-up, and a tamper-evident audit chain.
// @contact.name    Support
// @contact.email   support@example.com
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090) that is separate from the main API server. This keeps the scrape path off the public ingress and avoids the rate-limiting middleware. Configure the port with LMS_TELEMETRY_METRICS_PROMETHEUS_PORT. The endpoint path is always GET /metrics. It is not part of the OpenAPI spec because it is not served by the Gin router.

// Package main is the entry point for the SecureLMS server binary. It
// dispatches four subcommands (serve, migrate, seed, and version) via a
// simple switch on os.Args so the binary's full CLI surface is readable in
// one place without requiring a cobra dependency. The serve command runs
// auto-migration on startup so freshly deployed containers never need a
// separate migration step.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/securelms/securelms/internal/api"
	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/auth"
	"github.com/securelms/securelms/internal/config"
	"github.com/securelms/securelms/internal/db"
	"github.com/securelms/securelms/internal/db/models"
	"github.com/securelms/securelms/internal/db/repositories"
	"github.com/securelms/securelms/internal/telemetry"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Execute command
	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "seed":
		return seed(cfg)
	case "version":
		fmt.Printf("SecureLMS v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, seed, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// The password pepper, audit chain key, and session secret are load-bearing:
	// refuse to serve without them rather than degrade silently.
	if err := cfg.RequireSecrets(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	if err := auth.ValidateSessionSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	log.Println("Secrets validated successfully")

	// Debug: Print database configuration (mask password)
	maskedPassword := "****"
	if cfg.Database.Password != "" {
		maskedPassword = cfg.Database.Password[:1] + "****"
	}
	log.Printf("Database config: host=%s, port=%d, user=%s, password=%s, dbname=%s, sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, maskedPassword,
		cfg.Database.Name, cfg.Database.SSLMode)

	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Println("Connected to database successfully")

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database.DB)

	// Run migrations automatically on startup
	log.Println("Running database migrations...")
	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Database migrations completed successfully")

	// Get migration version
	schemaVersion, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Printf("Warning: failed to get migration version: %v", err)
	} else {
		log.Printf("Database schema version: %d (dirty: %v)", schemaVersion, dirty)
	}

	// Build the audit chain before the HTTP surface exists so the startup
	// event is the first thing this process appends.
	shipper, err := audit.NewShipper(audit.ShipperConfig{
		Enabled:        cfg.Audit.Shipper.Enabled,
		Type:           cfg.Audit.Shipper.Type,
		FilePath:       cfg.Audit.Shipper.FilePath,
		WebhookURL:     cfg.Audit.Shipper.WebhookURL,
		WebhookTimeout: cfg.Audit.Shipper.WebhookTimeout,
		WebhookHeaders: cfg.Audit.Shipper.WebhookHeaders,
	})
	if err != nil {
		return fmt.Errorf("failed to configure audit shipper: %w", err)
	}

	auditRepo := repositories.NewAuditRepository(database)
	chainOpts := []audit.Option{}
	if shipper != nil {
		chainOpts = append(chainOpts, audit.WithShipper(shipper))
		defer func() {
			if err := shipper.Close(); err != nil {
				slog.Error("failed to close audit shipper", "error", err)
			}
		}()
	}
	chain := audit.NewChain(auditRepo, []byte(cfg.Audit.SecretKey), chainOpts...)

	if _, err := chain.Append(context.Background(), audit.Event{
		Action: audit.ActionSystemStartup,
		Status: models.AuditStatusSuccess,
	}); err != nil {
		log.Printf("Warning: failed to append startup audit entry: %v", err)
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not reachable
	// through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Create router
	router, bgServices := api.NewRouter(cfg, database, chain)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on %s", cfg.Server.GetAddress())
		log.Printf("Base URL: %s", cfg.Server.BaseURL)
		log.Printf("Access window: %02d:00-%02d:59", cfg.Policy.WorkStart, cfg.Policy.WorkEnd)
		log.Println("Server is ready to accept connections")

		var err error
		if cfg.Security.TLS.Enabled {
			log.Printf("TLS enabled: cert=%s, key=%s", cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs and rate limiter goroutines
	bgServices.Shutdown()

	log.Println("Server stopped gracefully")
	return nil
}

// seed creates three demo accounts (admin, instructor, student) for local
// evaluation. It is idempotent: if any users already exist, it refuses to
// touch the table. A single random password is generated for all three
// accounts and printed once with prominent framing; only argon2id hashes are
// stored.
func seed(cfg *config.Config) error {
	if cfg.Auth.PasswordPepper == "" {
		return fmt.Errorf("auth.password_pepper (or PASSWORD_PEPPER) is required to seed accounts")
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ctx := context.Background()
	userRepo := repositories.NewUserRepository(database)

	count, err := userRepo.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		log.Printf("Database already has %d user(s), skipping seed", count)
		return nil
	}

	// 18 random bytes, base64url-encoded: 24 characters.
	pwBytes := make([]byte, 18)
	if _, err := rand.Read(pwBytes); err != nil {
		return fmt.Errorf("failed to generate seed password: %w", err)
	}
	password := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(pwBytes)

	hasher := auth.NewHasher(cfg.Auth.PasswordPepper, auth.Argon2Params{
		MemoryKiB:   cfg.Auth.Argon2.MemoryKiB,
		Iterations:  cfg.Auth.Argon2.Iterations,
		Parallelism: cfg.Auth.Argon2.Parallelism,
		SaltLength:  16,
		KeyLength:   32,
	})
	hash, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	mathDept := "MATH"
	accounts := []*models.User{
		{Email: "admin@securelms.local", PasswordHash: hash, Role: "SYSTEM_ADMIN", ClearanceLevel: "CONFIDENTIAL"},
		{Email: "instructor@securelms.local", PasswordHash: hash, Role: "INSTRUCTOR", ClearanceLevel: "INTERNAL", Department: &mathDept},
		{Email: "student@securelms.local", PasswordHash: hash, Role: "STUDENT", ClearanceLevel: "PUBLIC", Department: &mathDept},
	}
	for _, u := range accounts {
		if err := userRepo.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("failed to create %s: %w", u.Email, err)
		}
		log.Printf("Created %s (%s)", u.Email, u.Role)
	}

	separator := strings.Repeat("═", 66)
	log.Println("")
	log.Println(separator)
	log.Println("  DEMO ACCOUNTS SEEDED")
	log.Println("")
	log.Printf("  Shared password: %s", password)
	log.Println("")
	log.Println("  Change each account's password after first login via")
	log.Println("    PUT /api/v1/auth/password")
	log.Println(separator)
	log.Println("")

	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	// Run migrations
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Get current version
	schemaVersion, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", schemaVersion, dirty)
	return nil
}
