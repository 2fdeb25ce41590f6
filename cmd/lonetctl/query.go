package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueryCmd(flags *rootFlags) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "query <network> <hostname>",
		Short: "Look up a hostname's registered loopback address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			network, hostname := args[0], args[1]

			r, err := openRegistry(cfg, dir, network)
			if err != nil {
				return err
			}
			defer r.Close()

			osladdr, ok, err := r.Query(hostname)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: no such host", hostname)
			}
			fmt.Fprintln(cmd.OutOrStdout(), osladdr)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "network directory (defaults to <temp_dir_root>/<network>)")
	return cmd
}
