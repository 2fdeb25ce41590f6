package main

import (
	"github.com/spf13/cobra"
)

func newAnnounceCmd(flags *rootFlags) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "announce <network> <hostname> <osladdr>",
		Short: "Record a hostname -> loopback address mapping in a network's registry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			network, hostname, osladdr := args[0], args[1], args[2]

			r, err := openRegistry(cfg, dir, network)
			if err != nil {
				return err
			}
			defer r.Close()

			return r.Announce(hostname, osladdr)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "network directory (defaults to <temp_dir_root>/<network>)")
	return cmd
}
