package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/api"
	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
	"github.com/subhash199/kaninify-Pos-sub002/internal/database"
	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
	"github.com/subhash199/kaninify-Pos-sub002/internal/remote"
	"github.com/subhash199/kaninify-Pos-sub002/internal/store"
	syncengine "github.com/subhash199/kaninify-Pos-sub002/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting POS sync service", zap.String("retailer", cfg.Sync.RetailerID))

	ctx := context.Background()

	// Local store (tracked rows, outbox, ledger, conflicts)
	localDB, err := database.NewLocalDB(cfg.Databases.Local)
	if err != nil {
		logger.Log.Fatal("Failed to open local database", zap.Error(err))
	}
	defer localDB.Close()

	localStore, err := store.NewSQLiteStore(localDB)
	if err != nil {
		logger.Log.Fatal("Failed to init local store", zap.Error(err))
	}

	// Central store push client
	centralDB, err := database.NewCentralDB(cfg.Databases.Central)
	if err != nil {
		logger.Log.Fatal("Failed to connect to central database", zap.Error(err))
	}
	defer centralDB.Close()

	pusher := remote.NewMySQLPusher(centralDB)

	// Sync manager
	manager := syncengine.NewManager(cfg, localStore, pusher)

	// Crash recovery: anything left in flight by the previous run goes back
	// to Pending before the first cycle.
	recovered, err := manager.RecoverInFlight(ctx)
	if err != nil {
		logger.Log.Fatal("Startup recovery failed", zap.Error(err))
	}
	if recovered > 0 {
		logger.Log.Info("Recovered in-flight entries", zap.Int64("count", recovered))
	}

	// Scheduler
	scheduler := syncengine.NewScheduler(cfg.Scheduler, manager)
	scheduler.Start()
	defer scheduler.Stop()

	// API
	handler := api.NewHandler(manager, cfg.Server)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GetReadTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
