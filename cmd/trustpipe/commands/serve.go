package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trustpipe/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transport server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openUserDB()
			if err != nil {
				return err
			}
			defer db.Close()

			// No consumer queue configured here, so messages get logged.
			srv := server.New(cfg, db, nil, backend)
			if err := srv.Start(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			return srv.Stop()
		},
	}
}
