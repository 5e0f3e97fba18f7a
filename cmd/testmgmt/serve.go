package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/testmgmt/internal/adapter/aiops"
	"github.com/xiaot623/gogo/testmgmt/internal/auth"
	"github.com/xiaot623/gogo/testmgmt/internal/authz"
	"github.com/xiaot623/gogo/testmgmt/internal/config"
	"github.com/xiaot623/gogo/testmgmt/internal/executor"
	"github.com/xiaot623/gogo/testmgmt/internal/logging"
	"github.com/xiaot623/gogo/testmgmt/internal/metrics"
	"github.com/xiaot623/gogo/testmgmt/internal/repository"
	"github.com/xiaot623/gogo/testmgmt/internal/service"
	"github.com/xiaot623/gogo/testmgmt/internal/stream"
	transporthttp "github.com/xiaot623/gogo/testmgmt/internal/transport/http"
	v1 "github.com/xiaot623/gogo/testmgmt/internal/transport/http/v1"
	"github.com/xiaot623/gogo/testmgmt/internal/transport/rpc"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the RPC endpoint and the execution workers",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "http-port", Usage: "HTTP listen port (overrides HTTP_PORT)"},
			&cli.StringFlag{Name: "rpc-addr", Usage: "RPC listen address (overrides RPC_ADDR)"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database DSN (overrides DATABASE_URL)"},
			&cli.StringFlag{Name: "catalog", Usage: "YAML catalog seeded at startup (overrides CATALOG_PATH)"},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg := config.Load()
	if c.IsSet("http-port") {
		cfg.HTTPPort = c.Int("http-port")
	}
	if c.IsSet("rpc-addr") {
		cfg.RPCAddr = c.String("rpc-addr")
	}
	if c.IsSet("db") {
		cfg.DatabaseURL = c.String("db")
	}
	if c.IsSet("catalog") {
		cfg.CatalogPath = c.String("catalog")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting testmgmt",
		zap.String("version", Version),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("rpc_addr", cfg.RPCAddr),
		zap.String("database", cfg.DatabaseURL),
		zap.Int("workers", cfg.Workers))

	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	authorizer, err := authz.NewDefaultEngine(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := stream.NewHub(m, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	coord := service.NewCoordinator(db, authorizer, hub, m, logger, cfg.QueueSize)
	target := aiops.NewClient()
	svc := service.New(db, auth.NewManager(cfg.JWTSecret, cfg.TokenTTL), authorizer, target, logger)

	if cfg.CatalogPath != "" {
		cat, err := service.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return err
		}
		suites, cases, err := svc.SeedCatalog(ctx, cat)
		if err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
		logger.Info("catalog seeded", zap.String("path", cfg.CatalogPath), zap.Int("suites", suites), zap.Int("cases", cases))
	}

	pool := executor.New(coord, svc, target, executor.Config{
		Workers:       cfg.Workers,
		RetryAttempts: cfg.ExecRetryAttempts,
		RetryBase:     cfg.ExecRetryBase,
	}, m, logger)
	// Workers exit once the coordinator closes its queue.
	pool.Start(context.Background())

	if _, err := coord.RecoverRuns(ctx); err != nil {
		logger.Error("failed to recover runs", zap.Error(err))
	}

	httpServer := transporthttp.NewServer(v1.NewHandler(coord, svc, stream.NewServer(hub, coord, logger), logger), reg, logger)
	rpcServer, err := rpc.NewServer(coord, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := rpcServer.Start(cfg.RPCAddr); err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down testmgmt")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("rpc shutdown: %w", err))
		}
		// In-flight runs stay non-terminal and are resumed on the next start.
		coord.Close()
		if err := pool.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("executor stop: %w", err))
		}
		stopHub()
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("testmgmt stopped")
	return err
}
