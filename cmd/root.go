package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/tatkal-scheduler/internal/config"
	"github.com/example/tatkal-scheduler/internal/log"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func NewRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "tatkalsched",
		Short:         "Arms clock-synchronized Tatkal booking attempts with a human at the captcha, OTP and payment steps",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(rf.envFile); err != nil {
				return err
			}
			log.Configure(log.Config{Level: rf.logLevel, Output: cmd.ErrOrStderr()})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&rf.configPath, "config", os.Getenv("TATKAL_CONFIG"), "path to config.yaml")
	root.PersistentFlags().StringVar(&rf.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newServerCmd(&rf))
	root.AddCommand(newUserCmd(&rf))
	root.AddCommand(newCredentialCmd(&rf))
	root.AddCommand(newTemplateCmd(&rf))
	root.AddCommand(newBookCmd())
	root.AddCommand(newScheduleCmd())
	root.AddCommand(newCheckpointCmd())
	root.AddCommand(newTatkalTimeCmd(&rf))
	root.AddCommand(newInstallBrowserCmd())

	return root
}

// load resolves the config; a --log-level flag wins over the file.
func (rf *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return nil, err
	}
	if rf.logLevel == "" {
		log.SetLevel(cfg.Log.Level)
	}
	return cfg, nil
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
