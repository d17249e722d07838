package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"lendpool/config"
	"lendpool/ledger"
	"lendpool/observability/logging"
	"lendpool/observability/metrics"
	"lendpool/pool"
	"lendpool/rpc"
	"lendpool/schedule"
	"lendpool/storage"
)

const rpcTokenEnv = "LENDPOOL_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("poolnoded", cfg.Environment, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	led := ledger.New(db, cfg.Operator, cfg.Symbol)
	led.SetHoldSource(pool.StakeHolds{})

	engine := pool.NewEngine(db, led, pool.Config{
		Operator:              cfg.Operator,
		Escrow:                cfg.Escrow,
		FeeBps:                cfg.FeeBps,
		MainPool:              cfg.MainPool,
		MainPoolRewardAccount: cfg.MainPoolRewardAccount,
		MainPoolRewardBps:     cfg.MainPoolRewardBps,
		CollateralFloor:       big.NewInt(cfg.CollateralFloor),
		LockCoefficient:       cfg.LockCoefficient,
	})

	queue := schedule.NewQueue()
	defer queue.Stop()
	engine.SetScheduler(queue)

	// The timer queue loses pending unlocks across restarts; the cron sweep
	// picks up whatever the timers missed.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.SweepSpec, func() {
		pools, holders, err := engine.SweepExpiredLocks()
		if err != nil {
			logger.Error("unlock sweep failed", slog.Any("error", err))
			return
		}
		metrics.Lendpool().ObserveLocksReleased("pool", pools)
		metrics.Lendpool().ObserveLocksReleased("holder", holders)
		if pools > 0 || holders > 0 {
			logger.Info("unlock sweep released locks",
				slog.Int("pool_locks", pools),
				slog.Int("holder_locks", holders),
			)
		}
	}); err != nil {
		logger.Error("invalid sweep spec", slog.String("spec", cfg.SweepSpec), slog.Any("error", err))
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()

	bearer := cfg.RPCBearerToken
	if env := os.Getenv(rpcTokenEnv); env != "" {
		bearer = env
	}
	server := rpc.NewServer(engine, led, bearer, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		logger.Info("starting JSON-RPC server", slog.String("address", cfg.RPCAddress))
		done <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
		}
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
