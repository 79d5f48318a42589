package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/forestrie/go-snowflake/pagestore"
	"github.com/forestrie/go-snowflake/sequence"
	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/spf13/cobra"
)

const cliPrincipal = sequence.Principal("flakectl")

func newCreateCmd(f *flags) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(f, func(cmd *cobra.Command, e *sequence.Engine, args []string) error {
			k, err := pagestore.ParseKind(kind)
			if err != nil {
				return err
			}
			obj, err := e.CreateObject(cmd.Context(), args[0], k)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %q id %d\n", obj.Kind, obj.Name, obj.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&kind, "kind", pagestore.KindSequence.String(), "object kind")
	return cmd
}

func newNextValCmd(f *flags) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "nextval NAME",
		Short: "Draw values from a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(f, func(cmd *cobra.Command, e *sequence.Engine, args []string) error {
			obj, err := e.Lookup(args[0])
			if err != nil {
				return err
			}
			s, err := e.NewSession(cliPrincipal)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				v, err := s.NextVal(cmd.Context(), obj.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, v)
			}
			return nil
		}),
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of values")
	return cmd
}

func newInspectCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [NAME]",
		Short: "List the catalog, or show the state of one sequence",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEngine(f, func(cmd *cobra.Command, e *sequence.Engine, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				obj, err := e.Lookup(args[0])
				if err != nil {
					return err
				}
				state, err := e.Inspect(obj.ID)
				if err != nil {
					return err
				}
				last := state.Page.LastValue
				fmt.Fprintf(out, "id=%d name=%q generation=%d lsn=%d called=%t dirty=%t\n",
					obj.ID, obj.Name, obj.Generation, state.Page.LSN, state.Page.IsCalled, state.Dirty)
				fmt.Fprintf(out, "last=%d time=%s counter=%d node=%d\n",
					last, snowflakeid.IDTime(uint64(last)), snowflakeid.DecodeCounter(last), snowflakeid.DecodeNode(last))
				return nil
			}

			objs, err := e.Objects()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tGENERATION")
			for _, obj := range objs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", obj.ID, obj.Name, obj.Kind, obj.Generation)
			}
			return w.Flush()
		}),
	}
}

func newCheckpointCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Write dirty pages and truncate the durability log",
		Args:  cobra.NoArgs,
		RunE: withEngine(f, func(cmd *cobra.Command, e *sequence.Engine, args []string) error {
			return e.Checkpoint(cmd.Context())
		}),
	}
}
