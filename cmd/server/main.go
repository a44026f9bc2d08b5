package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/kudichat/kudichat/cmd/routes"
	"github.com/kudichat/kudichat/internal/beneficiary"
	"github.com/kudichat/kudichat/internal/catalog"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/cache"
	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/database"
	"github.com/kudichat/kudichat/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	database.Connect(cfg.DBUrl)
	database.Migrate(
		&user.User{},
		&ledger.Wallet{},
		&ledger.Transaction{},
		&beneficiary.Beneficiary{},
		&catalog.KVEntry{},
	)

	redisClient := cache.NewRedisClient(cfg)

	r := mux.NewRouter()
	app := routes.RegisterRoutes(r, cfg, redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	go app.Completion.Run(ctx)
	go app.Sweeper.Run(ctx)
	go app.Maintenance.Run(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logger.Fields{"port": cfg.Port, "env": cfg.Env})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", logger.Fields{"port": cfg.Port, logger.ErrorKey: err.Error()})
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	logger.Info("Server gracefully shut down")
}
