// Package cli implements bridgectl, the operator command line of the bridge.
// Commands open the same database as the service and run one logical
// operation each.
package cli

import (
	"github.com/pysugar/hubspot-bridge/internal/bridge"
	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/db"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	svc        *bridge.Service
}

// service loads the configuration and opens the bridge on first use.
func (a *app) service() (*bridge.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, true)
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.svc = bridge.New(cfg, database)
	return a.svc, nil
}

// NewRootCmd builds the bridgectl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Operate the HubSpot feed bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to bridge.yaml (default: BRIDGE_CONFIG or the usual locations)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newSyncCmd(a))
	root.AddCommand(newCacheCmd(a))
	root.AddCommand(newFeedsCmd(a))
	return root
}
