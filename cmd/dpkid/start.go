package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	abciserver "github.com/cometbft/cometbft/abci/server"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/spf13/cobra"

	"github.com/curtapp/DPKI/pkg/abciapp"
	"github.com/curtapp/DPKI/pkg/caservice"
	"github.com/curtapp/DPKI/pkg/config"
	"github.com/curtapp/DPKI/pkg/csp"
	"github.com/curtapp/DPKI/pkg/metrics"
	"github.com/curtapp/DPKI/pkg/rpcclient"
	"github.com/curtapp/DPKI/pkg/store"
	"github.com/curtapp/DPKI/pkg/txpipeline"
)

func newStartCommand() *cobra.Command {
	var configFile string
	var abciAddr string
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the node's ABCI application and admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if databaseURL != "" {
				cfg.Database.URL = databaseURL
			}
			return run(cmd.Context(), cfg, abciAddr)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "config.toml", "path to the node's TOML config file")
	cmd.Flags().StringVar(&abciAddr, "abci-addr", "tcp://0.0.0.0:26658", "address the ABCI socket server listens on")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "overrides [database].url from the config file (falls back to DATABASE_URL, then a local sqlite file, when unset)")
	return cmd
}

func run(ctx context.Context, cfg config.Config, abciAddr string) error {
	log := slog.Default()

	dsn := cfg.Database.URL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		dsn = "file:dpki.db"
	}
	db, err := store.Open(ctx, dsn, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	certs := store.NewCertRepository()
	appState := store.NewAppStateRepository()

	rpc, err := rpcclient.New(cfg.RPC.Laddr)
	if err != nil {
		return fmt.Errorf("build rpc client: %w", err)
	}

	key, err := loadCAKey(cfg.CA.CAKeyFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load CA key: %w", err)
	}

	ca := caservice.New(db, certs, rpc, cfg.CA, key)
	if err := ca.Initialize(ctx); err != nil {
		log.Warn("CA initialize at startup", "error", err)
	}
	pipeline := txpipeline.New(certs, ca)
	collector, registry := metrics.New()
	app := abciapp.New(db, certs, appState, pipeline, ca, collector, log)

	srv, err := abciserver.NewServer(abciAddr, "socket", app)
	if err != nil {
		return fmt.Errorf("build ABCI server: %w", err)
	}
	srv.SetLogger(cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start ABCI server: %w", err)
	}
	defer srv.Stop()

	metricsSrv := metrics.NewServer(cfg.Metrics.ListenAddr, registry)
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := metricsSrv.Start(serveCtx); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	log.Info("dpkid started", "abci_addr", abciAddr, "metrics_addr", cfg.Metrics.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("dpkid shutting down")
	ca.Stop()
	return nil
}

// caKeyFile is the tendermint priv-validator-key on-disk shape the
// retrieved original implementation reuses for the CA's own signing key:
// a JSON object whose "value" field is the base64-encoded 64-byte Ed25519
// private key, of which only the 32-byte seed half is kept.
type caKeyFile struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func loadCAKey(path string) (csp.Key, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf caKeyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if kf.Type != "tendermint/PrivKeyEd25519" {
		return nil, fmt.Errorf("%s: unsupported key type %q", path, kf.Type)
	}
	seed, err := base64.StdEncoding.DecodeString(kf.Value)
	if err != nil {
		return nil, fmt.Errorf("%s: decode base64 value: %w", path, err)
	}
	return csp.Default.KeyImport(seed, csp.KeyOpts{Algorithm: csp.AlgEd25519, Private: true})
}
