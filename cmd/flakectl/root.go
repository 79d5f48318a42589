package main

import (
	"context"
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-snowflake/sequence"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type flags struct {
	v        *viper.Viper
	logLevel string
}

func newRootCmd() *cobra.Command {
	f := &flags{v: sequence.NewViper()}

	root := &cobra.Command{
		Use:           "flakectl",
		Short:         "Manage snowflake sequences",
		Long:          `Create, inspect and draw from crash durable snowflake sequences. Settings may also be given as FLAKE_ prefixed environment variables, eg FLAKE_DATA_DIR.`,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.New(f.logLevel)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.logLevel, "log-level", "INFO", "log level")
	pf.String("data-dir", "", "data directory")
	pf.Int("node", -1, "node identity, 0-1023")
	pf.String("node-cidr", "", "worker CIDR used to derive the node from the pod ip")
	pf.String("pod-ip", "", "pod ip used to derive the node")
	for key, name := range map[string]string{
		sequence.KeyDataDir:  "data-dir",
		sequence.KeyNodeCIDR: "node-cidr",
		sequence.KeyPodIP:    "pod-ip",
	} {
		_ = f.v.BindPFlag(key, pf.Lookup(name))
	}

	root.AddCommand(
		newDecodeCmd(),
		newGenCmd(f),
		newCreateCmd(f),
		newNextValCmd(f),
		newInspectCmd(f),
		newCheckpointCmd(f),
	)
	return root
}

// openEngine opens the engine configured by the flags and the environment.
// The node flag, when given, takes precedence.
func (f *flags) openEngine(cmd *cobra.Command) (*sequence.Engine, error) {
	if fl := cmd.Flags().Lookup("node"); fl != nil && fl.Changed {
		f.v.Set(sequence.KeyNode, fl.Value.String())
	}
	cfg, err := sequence.ConfigFromViper(f.v)
	if err != nil {
		return nil, err
	}
	// Commands are short lived, the final checkpoint on close is enough.
	cfg.CheckpointInterval = 0
	return sequence.Open(context.Background(), cfg)
}

func withEngine(f *flags, fn func(cmd *cobra.Command, e *sequence.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		e, err := f.openEngine(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := e.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close: %w", cerr)
			}
		}()
		return fn(cmd, e, args)
	}
}
