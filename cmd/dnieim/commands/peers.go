package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// discoveryWindow is how long `peers` listens before printing what it has
// heard; LAN mDNS and the relay's LIST poll are both asynchronous, so a
// snapshot taken immediately after Start would usually be empty.
const discoveryWindow = 3 * time.Second

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "Listen briefly and print every currently reachable peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), discoveryWindow)
			defer cancel()

			runErrCh := make(chan error, 1)
			go func() { runErrCh <- a.Run(ctx) }()
			<-ctx.Done()
			<-runErrCh

			endpoints := a.Fabric.Snapshot()
			if len(endpoints) == 0 {
				fmt.Println("no peers discovered")
				return nil
			}
			for _, ep := range endpoints {
				fmt.Printf("%s  %-20s  via %-6s  last seen %s\n", ep.Fingerprint, ep.DisplayName, ep.Source, ep.LastSeen.Format("15:04:05"))
			}
			return nil
		},
	}
}
