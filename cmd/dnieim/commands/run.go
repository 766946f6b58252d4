package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"dnieim/internal/app"
	"dnieim/internal/config"
	"dnieim/internal/domain"
)

// defaultStreamID is the only stream the CLI ever addresses; multiplexed
// streams beyond it are a library-level capability with no CLI surface.
const defaultStreamID domain.StreamID = 0

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the transport, discovery and session tasks and stay resident",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			go func() {
				<-sigCh
				fmt.Println("shutting down...")
				cancel()
			}()

			go printEvents(a.Sessions.Events())
			go printEvents(a.Fabric.Observations())
			go readStdinCommands(ctx, a)

			if _, err := config.Watch(cmd.Flags(), func(reloaded config.Config) {
				fmt.Printf("[config] reloaded from disk (relay_address=%q use_lan_discovery=%v); restart to apply socket-bound changes\n",
					reloaded.RelayAddress, reloaded.UseLANDiscovery)
			}); err != nil {
				fmt.Printf("config watch failed: %v\n", err)
			}

			fmt.Printf("dnieim running. fingerprint=%s udp_port=%d\n", a.Identity.Fingerprint, cfg.UDPPort)
			fmt.Println("type '<fingerprint> <message>' to send, or Ctrl-C to quit")
			return a.Run(ctx)
		},
	}
}

func printEvents(events <-chan domain.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case domain.PeerDiscovered:
			fmt.Printf("[peer] %s discovered via %s\n", e.Fingerprint, e.Endpoint.Source)
		case domain.PeerLost:
			fmt.Printf("[peer] %s lost\n", e.Fingerprint)
		case domain.SessionEstablished:
			fmt.Printf("[session] established with %s\n", e.PeerFingerprint)
		case domain.SessionClosed:
			fmt.Printf("[session] closed with %s: %s\n", e.PeerFingerprint, e.Reason)
		case domain.MessageReceived:
			fmt.Printf("[message] %s: %s\n", e.PeerFingerprint, string(e.Plaintext))
		case domain.PinningViolation:
			fmt.Printf("[warning] pinning violation from %s\n", e.Fingerprint)
		}
	}
}

// readStdinCommands lets a resident `run` session send messages without a
// separate `send` invocation, since the process already holds the
// established sessions a fresh `send` process would have to renegotiate.
func readStdinCommands(ctx context.Context, a *app.App) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			fmt.Println("usage: <fingerprint> <message>")
			continue
		}
		fp := domain.Fingerprint(parts[0])
		if !fp.Valid() {
			fmt.Printf("invalid fingerprint %q\n", parts[0])
			continue
		}
		queued, err := a.Sessions.Send(fp, defaultStreamID, []byte(parts[1]))
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
			continue
		}
		if queued {
			fmt.Println("queued for delivery")
		} else {
			fmt.Println("sent")
		}
	}
}
