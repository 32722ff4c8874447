package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/admissions/internal/config"
	"github.com/ehr/admissions/internal/platform/db"
	"github.com/ehr/admissions/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "admissions-server",
		Short: "Hospital admissions API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(facilityCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the admissions API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads config and connects for the maintenance commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a facility schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")
			ctx := cmd.Context()

			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			migrator := db.NewMigrator(pool, migrations.FS)
			if facility == "" {
				facility = cfg.DefaultFacility
			}

			schema := db.FacilitySchema(facility)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of a facility schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")
			ctx := cmd.Context()

			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			migrator := db.NewMigrator(pool, migrations.FS)
			if facility == "" {
				facility = cfg.DefaultFacility
			}

			schema := db.FacilitySchema(facility)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage facilities",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a facility schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			ctx := cmd.Context()

			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating facility schema: %s\n", db.FacilitySchema(name))
			if err := db.CreateFacilitySchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Println("Facility created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Facility identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: X-Dev-Roles and X-Dev-User-ID are trusted")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	defer srv.Close()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Str("events", cfg.EventSink).Msg("starting server")
		if err := srv.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
