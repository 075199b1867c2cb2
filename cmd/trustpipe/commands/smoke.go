package commands

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"trustpipe/internal/client"
	"trustpipe/internal/domain"
	"trustpipe/internal/server"
)

// smokeCmd spins up a server and client pair in-process and pushes a
// batch of messages end to end against the initialized environment.
func smokeCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "End-to-end smoke test against the local environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openUserDB()
			if err != nil {
				return err
			}
			defer db.Close()

			sink := server.NewQueueSink(count)
			srv := server.New(cfg, db, sink, backend)
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			_, portStr, err := net.SplitHostPort(srv.Addr())
			if err != nil {
				return err
			}
			cfg.Client.Port, _ = strconv.Atoi(portStr)
			cfg.Client.Protocol = cfg.Server.Protocol

			cli, err := client.New(cfg, nil, backend)
			if err != nil {
				return err
			}
			if !cli.Running() {
				return fmt.Errorf("smoke: server liveness check failed")
			}
			if !cli.Authenticate() {
				return fmt.Errorf("smoke: authentication failed")
			}

			sent := 0
			for i := 0; i < count; i++ {
				if cli.Send(domain.Message{"seq": int64(i)}) {
					sent++
				}
			}

			received := 0
			for received < sent {
				select {
				case <-sink.Messages():
					received++
				case <-time.After(time.Second):
					return fmt.Errorf("smoke: sent %d but received %d", sent, received)
				}
			}
			fmt.Printf("Smoke test passed: %d/%d messages delivered\n", received, count)
			if err := srv.Stop(); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "q", 100, "number of test messages")
	return cmd
}
