package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirr-labs/lonet"
	"github.com/kirr-labs/lonet/internal/metrics"
)

func newJoinCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join [network]",
		Short: "Join (or create) a lonet network and serve it until interrupted",
		Long: `Join starts this process's subnetwork of the given network, printing
its full name (e.g. "lonetABC123") once its listener is up. With no
network argument, a fresh, uniquely-named network is created; with one,
that network is joined, being created first if it doesn't already
exist. The process blocks, serving dial/accept traffic for any host
this or another process creates on the network, until it receives
SIGINT or SIGTERM.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var network string
			if len(args) == 1 {
				network = args[0]
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			mc := metrics.New(nil)
			n, err := lonet.Join(cmd.Context(), network, cfg, mc)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), n.Network())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			return n.Close()
		},
	}
	return cmd
}
