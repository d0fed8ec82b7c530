package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/patientrecords/internal/config"
	"github.com/ehr/patientrecords/internal/domain/patient"
	"github.com/ehr/patientrecords/internal/platform/fhir"
	"github.com/ehr/patientrecords/internal/platform/hospitalfile"
	"github.com/ehr/patientrecords/internal/platform/middleware"
	"github.com/ehr/patientrecords/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "patient-records",
		Short:        "Patient health records service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger writes JSON to stderr, or console output in development (the
// default ENV). Stdout is left to command output such as exports.
func newLogger() zerolog.Logger {
	if env := os.Getenv("ENV"); env == "" || env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	store  *patient.FileStore
	svc    *patient.Service
	logger zerolog.Logger
}

func newApp(cfg *config.Config, logger zerolog.Logger) *app {
	store := patient.NewFileStore(cfg.DataFile, logger)
	gateway := fhir.NewClient(fhir.ClientConfig{BaseURL: cfg.FHIRBaseURL, Timeout: cfg.FHIRTimeout}, logger)
	sim := webhook.NewSimulator(cfg.SimulationDelay, cfg.WebhookSecret)
	events := webhook.NewInMemoryEventLog(cfg.EventLogCapacity)

	return &app{
		cfg:    cfg,
		store:  store,
		svc:    patient.NewService(store, gateway, sim, events, logger),
		logger: logger,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Ensure the patient table schema, then start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the patient table schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create or upgrade the patient table to the canonical columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, newLogger())
			if err := a.store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema of %s is canonical.\n", a.store.Path())
			return nil
		},
	})
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Bulk-import a hospital CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, newLogger())
			res, err := importFile(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d of %d row(s), skipped %d.\n", res.Imported, res.Total, res.Skipped)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  row %d: %s\n", e.Row, e.Error)
			}
			return nil
		},
	}
}

func importFile(ctx context.Context, a *app, path string) (*patient.BatchResult, error) {
	format, err := hospitalfile.FormatFromName(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := hospitalfile.Read(f, format)
	if err != nil {
		return nil, err
	}
	if err := a.store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return a.svc.ImportHospitalFile(ctx, rows)
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the patient table as CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatName, _ := cmd.Flags().GetString("format")
			outPath, _ := cmd.Flags().GetString("out")

			format, err := hospitalfile.ParseFormat(formatName)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, newLogger())

			if outPath == "" || outPath == "-" {
				return a.svc.Export(cmd.Context(), cmd.OutOrStdout(), format)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := a.svc.Export(cmd.Context(), f, format); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().String("format", "csv", "Output format: csv or xlsx")
	cmd.Flags().String("out", "", "Output file (default stdout)")
	return cmd
}

// newServer builds the HTTP API around a.
func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(a.cfg.MaxUploadBytes))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  a.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		if _, err := a.store.Load(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	apiV1 := e.Group("/api/v1")
	patient.NewHandler(a.svc, a.cfg.MaxUploadBytes).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	logger := newLogger()

	// Config
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	a := newApp(cfg, logger)
	if err := a.store.EnsureSchema(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare patient table")
	}
	logger.Info().Str("data_file", cfg.DataFile).Str("fhir_base_url", cfg.FHIRBaseURL).Msg("patient table ready")

	e := newServer(a)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
