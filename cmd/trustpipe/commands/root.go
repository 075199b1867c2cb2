package commands

import (
	"github.com/spf13/cobra"

	"trustpipe/internal/config"
	"trustpipe/internal/logger"
)

var (
	configPath string
	envDir     string
	logLevel   string

	cfg     *config.Config
	backend *logger.Backend
)

func Execute() error {
	root := &cobra.Command{
		Use:           "trustpipe",
		Short:         "Private authenticated encrypted messaging between trusted processes",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if envDir != "" {
				cfg.EnvDir = envDir
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			backend, err = logger.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
			return err
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (TOML)")
	root.PersistentFlags().StringVar(&envDir, "env", "", "environment dir (default ~/.trustpipe)")
	root.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (ERROR..DEBUG)")

	root.AddCommand(initCmd(), certCmd(), userCmd(), serveCmd(), smokeCmd())
	return root.Execute()
}
