package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phillip-england/registro/internal/clientapp"
	"github.com/phillip-england/registro/internal/config"
	"github.com/phillip-england/registro/internal/envutil"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := envutil.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	clientCfg := clientapp.Config{
		Addr:            cfg.Client.Addr,
		APIBaseURL:      cfg.Client.APIBaseURL,
		Scope:           cfg.Registro.Scope,
		RefreshInterval: cfg.Registro.RefreshInterval,
		ReadTimeout:     cfg.Client.ReadTimeout,
		WriteTimeout:    cfg.Client.WriteTimeout,
		Logger:          slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	if err := clientapp.Run(ctx, clientCfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
