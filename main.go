package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/linesmerrill/desktop-auth-api/api/handlers"
	"github.com/linesmerrill/desktop-auth-api/config"
)

func main() {
	a := handlers.App{}
	a.Config = *config.New()

	//initialize code store, broker, scheduler and router
	if err := a.Initialize(); err != nil {
		zap.S().Fatalw("failed to initialize", "error", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%v", a.Config.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zap.S().Infow("desktop-auth-api is up and running",
			"port", a.Config.Port,
			"url", a.Config.BaseURL,
			"store", a.Config.CodeStore,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalw("server stopped", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.S().Errorw("failed to shut down server", "error", err)
	}
	if err := a.Close(ctx); err != nil {
		zap.S().Errorw("failed to close app", "error", err)
	}
	zap.S().Info("desktop-auth-api stopped")
}
