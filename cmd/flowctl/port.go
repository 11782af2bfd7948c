package main

import (
	"fmt"

	"github.com/moby/flowkit/network"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	portCmd = &cobra.Command{
		Use:   "port",
		Short: "Exercise data plane port allocation",
	}

	portAllocateCmd = &cobra.Command{
		Use:   "allocate",
		Short: "Lease ports for an ip from a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := cmd.Flags().GetString("ip")
			if err != nil {
				return err
			}
			rng, err := cmd.Flags().GetString("range")
			if err != nil {
				return err
			}
			count, err := cmd.Flags().GetInt("count")
			if err != nil {
				return err
			}

			ports := network.NewPortDistributor()
			defer ports.Finalize()
			for i := 0; i < count; i++ {
				port, err := ports.AllocatePort(ip, rng)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), port)
			}
			return nil
		},
	}

	portBindCmd = &cobra.Command{
		Use:   "bind",
		Short: "Find the first bindable main port segment in a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := cmd.Flags().GetString("ip")
			if err != nil {
				return err
			}
			rng, err := cmd.Flags().GetString("range")
			if err != nil {
				return err
			}

			mgr := network.NewManager()
			defer mgr.Finalize()
			port, err := mgr.BindMainPort(ip, rng)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
)

func addPortFlags(fs *pflag.FlagSet) {
	fs.String("ip", "127.0.0.1", "IP address the ports belong to")
	fs.StringP("range", "r", "", "Port range, as start~end")
}

func init() {
	addPortFlags(portAllocateCmd.Flags())
	addPortFlags(portBindCmd.Flags())
	portAllocateCmd.Flags().IntP("count", "n", 1, "Number of ports to lease")

	portCmd.AddCommand(portAllocateCmd, portBindCmd)
}
