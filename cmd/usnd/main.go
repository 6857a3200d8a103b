package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"usnd/config"
	"usnd/contract"
	"usnd/gateway"
	"usnd/host"
	"usnd/observability"
	"usnd/observability/logging"
	"usnd/oracle"
	"usnd/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "usnd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var logOut io.Writer
	if cfg.Node.LogFile != "" {
		logOut = &lumberjack.Logger{
			Filename:   cfg.Node.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	logger := logging.Setup("usnd", cfg.Node.Environment, logOut)

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()
	store := storage.NewState(db)

	sandbox := host.NewSandbox()
	sandbox.SetClock(func() uint64 { return uint64(time.Now().UnixNano()) })

	recencyNanos := cfg.Oracle.RecencySeconds * uint64(time.Second)
	source := oracle.NewManualSource(recencyNanos)
	aggregator := oracle.NewAggregator([]string{"manual"}, sandbox.Now)
	aggregator.Register("manual", source)
	sandbox.RegisterExternal(cfg.Oracle.Account, "get_price_data", func(_ *host.Env, _ []byte) ([]byte, error) {
		data, err := aggregator.PriceData(cfg.Oracle.AssetID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(data)
	})

	spread, err := cfg.SpreadConfig()
	if err != nil {
		return err
	}
	engine, err := contract.New(store, contract.Params{
		Account:       cfg.ContractAccount,
		OracleAccount: cfg.Oracle.Account,
		AssetID:       cfg.Oracle.AssetID,
		Owner:         cfg.Owner,
		Spread:        &spread,
		Pool:          cfg.PoolConfig(),
		Logger:        logger,
		Metrics:       observability.Engine(),
	})
	if err != nil {
		return fmt.Errorf("open contract: %w", err)
	}

	// Seed the treasury lane so redemptions clear in the simulation.
	treasury := new(big.Int).Exp(big.NewInt(10), big.NewInt(33), nil)
	sandbox.SetBalance(cfg.ContractAccount, treasury)

	server, err := gateway.New(gateway.Config{
		Contract:    engine,
		Sandbox:     sandbox,
		RateLimiter: gateway.NewRateLimiter(cfg.Gateway.RateLimitPerSecond, cfg.Gateway.RateBurst),
		Logger:      logger,
		PriceFeed:   source,
		Verifier:    cfg.Verifier(),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Gateway.ListenAddress,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Gateway.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
