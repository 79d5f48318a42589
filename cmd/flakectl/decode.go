package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode ID...",
		Short: "Decode the time, counter and node of snowflake ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 0, 64)
				if err != nil {
					return fmt.Errorf("%q is not an id: %w", arg, err)
				}
				if id < 0 {
					return fmt.Errorf("%d is not a snowflake id, the top bit is set", id)
				}
				fmt.Fprintf(out, "%d time=%s unix=%.3f epoch=%.3f counter=%d node=%d\n",
					id,
					snowflakeid.IDTime(uint64(id)).Format(time.RFC3339Nano),
					snowflakeid.DecodeUnixTimestamp(id),
					snowflakeid.DecodeTimestamp(id),
					snowflakeid.DecodeCounter(id),
					snowflakeid.DecodeNode(id),
				)
			}
			return nil
		},
	}
}
