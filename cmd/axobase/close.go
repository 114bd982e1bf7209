package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/axobase001/axobase/db"
	"github.com/axobase001/axobase/deploy"
	"github.com/axobase001/axobase/ledger"
)

var closeDeploymentCmd = &cobra.Command{
	Use:   "close-deployment <deployment-id>",
	Short: "Close a lease on the compute provider and mark its soul dormant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid deployment id %q", args[0])
		}
		log := newLogger()

		gdb, err := db.Open(cmd.Context(), dbConfigFromViper())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		store := ledger.NewStore(gdb, log)

		provider, err := deploy.NewBridgeProvider(providerConfigFromViper(), log)
		if err != nil {
			return fmt.Errorf("provider bridge: %w", err)
		}

		coordinator := deploy.NewCoordinator(store, nil, nil, provider, coordinatorConfigFromViper(), log)
		if err := coordinator.CloseDeployment(cmd.Context(), uint(id)); err != nil {
			return err
		}
		fmt.Printf("deployment %d closed\n", id)
		return nil
	},
}
