package commands

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat/config"
	"github.com/opd-ai/peerchat/logging"
)

var (
	configPath string
	logLevel   string

	cfg       *config.Config
	logCloser io.Closer
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "peerchat",
		Short:         "End-to-end encrypted two-peer chat",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.Log.Level = logLevel
				if err := loaded.Validate(); err != nil {
					return err
				}
			}
			closer, err := logging.Setup(loaded.Log)
			if err != nil {
				return err
			}
			cfg, logCloser = loaded, closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./peerchat.yaml or ~/.peerchat/peerchat.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(chatCmd(), relayCmd(), fingerprintCmd())
	return root
}
