package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/towns-protocol/rpc-gateway/internal/config"
	"github.com/towns-protocol/rpc-gateway/internal/server"
)

// The 1st arg is the path to the program; the 2nd and 3rd are "--config <path>".
const expectedNumArgs = 3

func main() {
	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	logger, loggerErr := setupGlobalLogger(env)
	if loggerErr != nil {
		panic(loggerErr)
	}

	defer func() {
		// Flushes buffer, if any.
		if err := logger.Sync(); err != nil {
			// There could be something wrong with the logger if it's not
			// Syncing, so print using fmt.Println.
			fmt.Println("Failed to sync logger.", zap.Error(err))
		}
	}()

	if len(os.Args) < expectedNumArgs || os.Args[1] != "--config" {
		logger.Fatal("Usage: gateway --config <path>")
	}

	cfg, err := config.LoadConfig(os.Args[2])
	if err != nil {
		zap.L().Fatal("Failed to load config.", zap.Error(err))
	}

	graph, err := server.WireDependenciesForAllChains(cfg)
	if err != nil {
		zap.L().Fatal("Failed to wire dependencies.", zap.Error(err))
	}

	zap.L().Info("Starting gateway.", zap.String("env", env), zap.Int("chainCount", len(cfg.Chains)))

	ctx, cancelHealthLoops := context.WithCancel(context.Background())
	defer cancelHealthLoops()

	graph.Gateway.Start(ctx)

	go func() {
		if err := graph.RPCServer.Start(); err != nil {
			zap.L().Fatal("Failed to start RPC server.", zap.Error(err))
		}
	}()

	if cfg.Metrics.IsEnabled() {
		go func() {
			if err := graph.MetricsServer.Start(); err != nil {
				zap.L().Fatal("Failed to start metrics server.", zap.Error(err))
			}
		}()
	}

	// Wait for a Unix exit signal.
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	exitSignal := <-signalChannel
	zap.L().Info("Exiting due to signal.", zap.Any("signal", exitSignal))

	cancelHealthLoops()

	shutdownCtx := context.Background()

	if err := graph.RPCServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		zap.L().Error("Failed to gracefully shut down RPC server.", zap.Error(err))
	}

	if cfg.Metrics.IsEnabled() {
		if err := graph.MetricsServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			zap.L().Error("Failed to gracefully shut down metrics server.", zap.Error(err))
		}
	}
}

func setupGlobalLogger(env string) (logger *zap.Logger, err error) {
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err == nil {
		zap.ReplaceGlobals(logger)
	}

	return logger, err
}
