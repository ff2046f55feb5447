// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sirupsen/logrus"

	"github.com/ExilProductions/purrlobby/internal/auth"
	"github.com/ExilProductions/purrlobby/internal/config"
	"github.com/ExilProductions/purrlobby/internal/handlers"
	"github.com/ExilProductions/purrlobby/internal/hub"
	"github.com/ExilProductions/purrlobby/internal/journal"
	"github.com/ExilProductions/purrlobby/internal/lobby"
	"github.com/ExilProductions/purrlobby/internal/middleware"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	// init signing keys for the session-token validator
	auth.Init()
	validator := auth.JWTValidator{}

	jrnl, err := journal.Connect(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to connect event journal: %v", err)
	}
	defer jrnl.Close()
	if jrnl != nil {
		logger.Infof("event journal enabled at %s (queue %s)", cfg.RedisAddr, cfg.JournalQueue)
	}

	engine := lobby.NewEngine(validator, logger)
	h := hub.New(validator, engine, jrnl, logger)
	engine.SetSink(h)

	srv := handlers.New(engine, h, logger)
	handler := middleware.LogMiddleware(logger)(srv.Routes())

	server := &http.Server{
		Handler: handler,
		// Read/write timeouts would kill long-lived subscriber sockets;
		// bound the handshake instead.
		ReadHeaderTimeout: 10 * time.Second,
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.ServicePort))
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
