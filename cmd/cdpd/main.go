package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cdpchain/config"
	"cdpchain/core"
	"cdpchain/core/events"
	"cdpchain/core/genesis"
	"cdpchain/crypto"
	"cdpchain/gateway/middleware"
	"cdpchain/gateway/routes"
	"cdpchain/indexer"
	nativecommon "cdpchain/native/common"
	"cdpchain/native/oracle"
	"cdpchain/observability/logging"
	telemetry "cdpchain/observability/otel"
	"cdpchain/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "cdpd:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		return serve(args)
	case "export":
		return export(args, stdout)
	default:
		return fmt.Errorf("unknown command %q (want serve or export)", command)
	}
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := fs.String("genesis", "", "Genesis document (overrides [node].genesis_file)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	logger := logging.Setup("cdpd", cfg.Node.Environment, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	logger.Info("configuration loaded",
		slog.String("config", *configFile),
		slog.String("data_dir", cfg.Node.DataDir),
		slog.String("listen", cfg.Node.ListenAddress),
		slog.String("oracle_source", cfg.Oracle.Source),
		slog.Any("paused_modules", cfg.Node.PausedModules),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		slog.String("indexer_dsn", logging.MaskDSN(cfg.Indexer.DSN)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "cdpd",
		Environment: cfg.Node.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	if err := os.MkdirAll(cfg.Node.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		return err
	}
	defer db.Close()

	var manual *oracle.ManualOracle
	var reader oracle.Reader
	switch cfg.Oracle.Source {
	case config.OracleHermes:
		hermes, err := oracle.NewHermes(&http.Client{Timeout: 10 * time.Second}, cfg.Oracle.HermesURL, cfg.Oracle.Feeds, logger)
		if err != nil {
			return err
		}
		go hermes.Run(ctx, cfg.OraclePollInterval())
		reader = hermes
	default:
		manual = oracle.NewManualOracle()
		reader = manual
	}

	var authority crypto.Address
	if strings.TrimSpace(cfg.Node.Authority) != "" {
		authority, err = crypto.DecodeAddress(cfg.Node.Authority)
		if err != nil {
			return fmt.Errorf("node authority: %w", err)
		}
	}

	node, err := core.NewNode(db, core.Config{
		Params:    cfg.CDP,
		Prices:    oracle.NewAdapter(reader, cfg.OracleMaxAge(), cfg.Oracle.MaxConfidenceBps),
		Pauses:    nativecommon.NewPauses(cfg.Node.PausedModules...),
		Authority: authority,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	var history routes.EventHistory
	if cfg.Indexer.Enabled {
		store, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("close indexer", slog.Any("error", err))
			}
		}()
		node.AddSink(store)
		history = store
	}

	genesisPath := strings.TrimSpace(*genesisFlag)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.Node.GenesisFile)
	}
	if genesisPath != "" {
		spec, err := genesis.LoadGenesisSpec(genesisPath)
		if err != nil {
			return err
		}
		applied, err := genesis.Apply(ctx, node, spec)
		if err != nil {
			return err
		}
		logger.Info("genesis", slog.String("path", genesisPath), slog.Bool("applied", applied))
	}

	limit := middleware.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst}
	limits := map[string]middleware.RateLimit{}
	if limit.RequestsPerMinute > 0 {
		limits[routes.LimitRead] = limit
		limits[routes.LimitWrite] = limit
		limits[routes.LimitAdmin] = limit
	}
	handler, err := routes.New(routes.Config{
		Node:    node,
		Manual:  manual,
		History: history,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.ClockSkew(),
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "cdpd"}, logger),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Node.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func export(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	out := fs.String("out", "", "Destination parquet file")
	eventType := fs.String("type", events.TypePositionLiquidated, "Event type to export; empty exports every type")
	asset := fs.String("asset", "", "Restrict to one collateral asset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return errors.New("-out is required")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	store, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.ExportParquet(context.Background(), *out, indexer.Filter{Type: *eventType, Asset: *asset})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported %d events to %s\n", rows, *out)
	return nil
}
