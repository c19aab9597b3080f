package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/api"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	dispatcher := notify.NewDispatcher(notify.NewLogMailer(logger.Named("mail")), logger, cfg.Notify)
	dispatcher.Start()

	opts := service.Options{
		MaxTxRetries: cfg.Database.MaxTxRetries,
		LockNoWait:   cfg.Database.LockNoWait,
	}
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Orders:   service.NewOrderService(db, dispatcher, logger, opts),
		Catalog:  service.NewCatalogService(db, dispatcher, logger, opts),
		Accounts: service.NewAccountService(db, dispatcher, issuer, logger, cfg.Auth, opts),
		Tokens:   issuer,
		DB:       db,
		Logger:   logger.Named("http"),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(ctx); err != nil {
		logger.Error("notification queue not drained", zap.Error(err))
	}
}
