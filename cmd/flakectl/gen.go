package main

import (
	"fmt"

	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/spf13/cobra"
)

// newGenCmd issues process local ids. Nothing is persisted, so the values
// are only unique for the node if one process at a time uses it.
func newGenCmd(f *flags) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate ids without a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := snowflakeid.DefaultConfig()
			node, err := cmd.Flags().GetInt("node")
			if err != nil {
				return err
			}
			cfg.Node = snowflakeid.NodeID(node)
			cfg.WorkerCIDR, _ = cmd.Flags().GetString("node-cidr")
			cfg.PodIP, _ = cmd.Flags().GetString("pod-ip")

			state, err := snowflakeid.NewIDState(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				id, err := state.NextID()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids")
	return cmd
}
