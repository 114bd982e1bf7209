package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/axobase001/axobase/chain"
	"github.com/axobase001/axobase/db"
	"github.com/axobase001/axobase/deploy"
	"github.com/axobase001/axobase/httpapi"
	"github.com/axobase001/axobase/ledger"
	"github.com/axobase001/axobase/observability"
	"github.com/axobase001/axobase/storage"
	"github.com/axobase001/axobase/vault"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator: HTTP API, chain ingestor and deployment coordinator",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(ctx, dbConfigFromViper())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := ledger.NewStore(gdb, log)

	keyVault := vault.New(vaultConfigFromViper(), log)
	defer keyVault.Close()

	uploader := storage.NewArweaveUploader(storageConfigFromViper(), log)

	provider, err := deploy.NewBridgeProvider(providerConfigFromViper(), log)
	if err != nil {
		return fmt.Errorf("provider bridge: %w", err)
	}

	coordinator := deploy.NewCoordinator(store, keyVault, uploader, provider, coordinatorConfigFromViper(), log)

	chainCfg := chainConfigFromViper()
	client, err := chain.Dial(ctx, chainCfg)
	if err != nil {
		return fmt.Errorf("chain rpc: %w", err)
	}
	defer client.Close()

	ingestor := chain.NewIngestor(client, store, chainCfg, coordinator.OnSoulRegistered, log)
	go ingestor.Run(ctx)

	api := httpapi.NewServer(apiConfigFromViper(), keyVault, coordinator, store, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return api.Shutdown(shutdownCtx)
}
