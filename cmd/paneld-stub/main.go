// paneld-stub runs the development stub backend: the REST and push surface
// panelctl talks to, with simulated background tasks.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/craftpanel/panelctl/internal/config"
	"github.com/craftpanel/panelctl/internal/logger"
	"github.com/craftpanel/panelctl/internal/stub"
)

func main() {
	godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	address := flag.String("listen", "127.0.0.1:8520", "listen address")
	tick := flag.Duration("tick", 2*time.Second, "task simulator advance interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logDir := cfg.Logging.Path
	if logDir == "" {
		logDir = filepath.Join(cfg.DataDir, "logs")
	}
	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Dir:        logDir,
		Filename:   "paneld-stub.log",
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	accounts, err := seedAccounts()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed accounts")
	}

	srv, err := stub.NewServer(stub.Options{
		Accounts:      accounts,
		SimulatorTick: *tick,
		Logger:        log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build stub backend")
	}

	// Seed a couple of archives and a task so a fresh console has
	// something to look at.
	srv.PutArchive("world.tar.gz", []byte("stub world archive"))
	srv.PutArchive("plugins.zip", []byte("stub plugin bundle"))
	srv.CreateTask("initial world scan", "scan", 10)

	go func() {
		if err := srv.Start(*address); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Stub backend failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}

// seedAccounts builds the fixed development accounts: a platform owner and
// a group-scoped helper.
func seedAccounts() ([]stub.Account, error) {
	admin, err := stub.NewAccount("u-admin", "admin", "admin", "", nil)
	if err != nil {
		return nil, err
	}
	admin.Owner = true

	helper, err := stub.NewAccount("u-steve", "steve", "creeper", "USER", map[string]string{
		"g-survival": "HELPER",
		"g-creative": "USER",
	})
	if err != nil {
		return nil, err
	}

	return []stub.Account{admin, helper}, nil
}
