// Package main starts the overseer supervision engine: it loads
// configuration, opens the Conversation Store, and wires every component
// (C1-C12) together before serving the HTTP admission API. The flag/env
// bootstrap, .env loading, and gin mode selection follow the teacher's
// cmd/tarsy/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/overseer/pkg/aggregator"
	"github.com/codeready-toolchain/overseer/pkg/api"
	"github.com/codeready-toolchain/overseer/pkg/config"
	"github.com/codeready-toolchain/overseer/pkg/engine"
	"github.com/codeready-toolchain/overseer/pkg/hooks"
	"github.com/codeready-toolchain/overseer/pkg/intervention"
	"github.com/codeready-toolchain/overseer/pkg/ledger"
	"github.com/codeready-toolchain/overseer/pkg/observer"
	"github.com/codeready-toolchain/overseer/pkg/rules"
	"github.com/codeready-toolchain/overseer/pkg/store"
	"github.com/codeready-toolchain/overseer/pkg/verify"
	"github.com/codeready-toolchain/overseer/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "debug"))

	configPath := filepath.Join(*configDir, "overseer.yaml")
	if _, statErr := os.Stat(configPath); statErr != nil {
		log.Printf("warning: no config file at %s, using built-in defaults", configPath)
		configPath = ""
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Path:          getEnv("DB_PATH", cfg.Store.Path),
		MaxOpenConns:  cfg.Store.MaxOpenConns,
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
	})
	if err != nil {
		log.Fatalf("opening conversation store: %v", err)
	}
	defer st.Close()

	sinkPath := cfg.Ledger.SinkPath
	var ledgerSink *os.File
	if sinkPath != "" {
		ledgerSink, err = os.OpenFile(sinkPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("opening ledger sink %s: %v", sinkPath, err)
		}
		defer ledgerSink.Close()
	}
	var led *ledger.Ledger
	if ledgerSink != nil {
		led = ledger.New(ledgerSink)
	} else {
		led = ledger.New(nil)
	}

	rulesEngine, err := rules.New(cfg.Rules)
	if err != nil {
		log.Fatalf("building rule engine: %v", err)
	}

	hookOrch := hooks.New(cfg.Hooks)
	interventionCtl := intervention.New(cfg.Intervention)
	aggr := aggregator.New(false, nil, nil)
	verifyEngine := verify.New(st)
	hub := observer.New(cfg.Observer, interventionCtl)

	supervisor := engine.New(cfg, st, led, rulesEngine, hookOrch, interventionCtl, aggr, verifyEngine, hub)
	supervisor.Pool().Start(ctx)
	defer supervisor.Pool().Stop()

	slog.Info("overseer starting", "version", version.Full(), "http_port", httpPort, "config_dir", *configDir)

	server := api.NewServer(supervisor, hub)
	if err := server.Run(fmt.Sprintf(":%s", httpPort)); err != nil {
		log.Fatalf("http server stopped: %v", err)
	}
}
