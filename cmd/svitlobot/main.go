package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/app"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	// .env is optional; the token usually comes from there in dev setups.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: loading config:", err)
		os.Exit(1)
	}
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("API_TOKEN")
		mgr.Commit(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: invalid config:", err)
		os.Exit(1)
	}
	mgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	a, err := app.New(mgr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}
