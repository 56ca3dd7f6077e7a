package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/binzume/scenesync/hub"
)

func main() {
	configPath := flag.String("config", "", "config file (json)")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataRoot := flag.String("data", "", "data root directory (overrides config)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config hub.json] [-listen :8123] [-data dir]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := hub.DefaultConfig()
	if *configPath != "" {
		c, err := hub.LoadConfig(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = c
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataRoot != "" {
		cfg.DataRoot = *dataRoot
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	h, err := hub.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	srv := &http.Server{Addr: cfg.Listen, Handler: h}
	go func() {
		slog.Info("hub listening", "addr", cfg.Listen, "data", cfg.DataRoot)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")
	h.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
