package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dnieim/internal/domain"
)

// sendWindow bounds how long a one-shot `send` waits for the handshake
// that Sessions.Send kicks off to finish, before leaving the message
// durably queued for a future attempt (its own or a resident `run`'s).
const sendWindow = 15 * time.Second

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <fingerprint> <message>",
		Short: "Encrypt and send a message to a peer, waiting briefly for delivery",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := domain.Fingerprint(args[0])
			if !fp.Valid() {
				return fmt.Errorf("invalid fingerprint %q", args[0])
			}
			a, err := buildApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), sendWindow)
			defer cancel()

			runErrCh := make(chan error, 1)
			go func() { runErrCh <- a.Run(ctx) }()

			// Give the discovery fabric a moment to hear from LAN/relay
			// before attempting to resolve an endpoint for fp.
			time.Sleep(500 * time.Millisecond)

			queued, err := a.Sessions.Send(fp, defaultStreamID, []byte(args[1]))
			if err != nil {
				cancel()
				<-runErrCh
				return err
			}
			if !queued {
				fmt.Println("sent")
				cancel()
				<-runErrCh
				return nil
			}

			fmt.Println("queued, waiting for handshake...")
			established := waitForSession(ctx, a.Sessions.Events(), fp)
			cancel()
			<-runErrCh
			if established {
				fmt.Println("delivered")
			} else {
				fmt.Println("peer unreachable; message remains queued for the next attempt")
			}
			return nil
		},
	}
}

func waitForSession(ctx context.Context, events <-chan domain.Event, fp domain.Fingerprint) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if e, ok := ev.(domain.SessionEstablished); ok && e.PeerFingerprint == fp {
				return true
			}
		}
	}
}
