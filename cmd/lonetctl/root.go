package main

import (
	"github.com/spf13/cobra"

	"github.com/kirr-labs/lonet/internal/config"
)

// rootFlags are the persistent flags every subcommand shares, mirroring
// the --config flag style of the teacher's root command.
type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "lonetctl",
		Short: "Join, inspect and bootstrap lonet virtual networks",
		Long: `lonetctl drives a virtual TCP network simulated on top of real
loopback sockets: many independent processes share a hostname
registry and dial each other through a small text handshake.

	lonetctl join [network]      join (or create) a network, blocking
	lonetctl announce ...        record a hostname -> address mapping
	lonetctl query ...           look up a hostname's current address
`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a lonet TOML config file")

	root.AddCommand(newJoinCmd(&flags))
	root.AddCommand(newAnnounceCmd(&flags))
	root.AddCommand(newQueryCmd(&flags))

	return root
}

func loadConfig(flags *rootFlags) (config.Config, error) {
	return config.Load(flags.configPath)
}
