package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"trustpipe/internal/bootstrap"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the deployment environment (keys, CA, admin user)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bootstrap.Run(cfg, force, backend); err != nil {
				return err
			}
			fmt.Printf("Environment initialized at %s\n", cfg.EnvDir)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "F", false,
		"recreate environment objects, invalidating previously issued certificates")
	return cmd
}
