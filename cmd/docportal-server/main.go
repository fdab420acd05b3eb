package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xhad/docportal/internal/app"
	"github.com/xhad/docportal/pkg/config"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, addr string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}

	l, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Load(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer a.Close()

	err = server.New(a, l).ListenAndServe(ctx, cfg.Server.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
