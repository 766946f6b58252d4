// Package commands defines the dnieim CLI and wires dependencies for its
// subcommands, mirroring wbd2023-UNSW-COMP6841-Ciphera's cmd/ciphera/commands:
// a PersistentPreRunE composition root, package-level flag variables shared
// across subcommand files, and one file per command.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"dnieim/internal/app"
	"dnieim/internal/config"
	"dnieim/internal/identity"
)

var (
	cfg        config.Config
	passphrase string
)

// Execute builds the command tree and runs it.
func Execute() error {
	root := &cobra.Command{
		Use:   "dnieim",
		Short: "Peer-to-peer instant messenger core",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	// Flag defaults mirror config.setDefaults so --help shows the effective
	// values. viper consults a v.SetDefault value before an unchanged flag's
	// own default, so config.setDefaults decides what Load resolves when no
	// changed flag, env var or config file supplies a key.
	root.PersistentFlags().String("home", "", "state directory (default ~/.dnieim)")
	root.PersistentFlags().String("display_name", "", "display name offered to the identity provider on first run")
	root.PersistentFlags().Int("udp_port", 6666, "UDP port the peer-to-peer transport binds")
	root.PersistentFlags().Bool("use_lan_discovery", true, "enable mDNS LAN discovery")
	root.PersistentFlags().String("relay_address", "", "untrusted relay host (empty disables the relay)")
	root.PersistentFlags().Int("relay_port", 7777, "untrusted relay port")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local identity at rest")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		runCmd(),
		sendCmd(),
		peersCmd(),
		contactsCmd(),
		addPeerCmd(),
	)
	return root.Execute()
}

// requirePassphrase is the shared guard every subcommand touching the
// identity store applies before doing anything else.
func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return nil
}

// buildApp assembles the full composition root for commands that need
// networking (run, send, peers). It always uses the CLI dev
// identity provider, since a real external provider is out of this
// project's scope (spec.md §1).
func buildApp() (*app.App, error) {
	if err := requirePassphrase(); err != nil {
		return nil, err
	}
	provider := identity.DevProvider{DisplayName: cfg.DisplayName}
	return app.New(cfg, passphrase, provider, nil)
}
