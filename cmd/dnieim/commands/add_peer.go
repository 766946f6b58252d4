package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"dnieim/internal/domain"
	"dnieim/internal/store"
)

func addPeerCmd() *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "add-peer <fingerprint> <static-pubkey-hex> <host:port>",
		Short: "Persist a manually configured peer, bypassing LAN and relay discovery",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := domain.Fingerprint(args[0])
			if !fp.Valid() {
				return fmt.Errorf("invalid fingerprint %q", args[0])
			}
			pubBytes, err := hex.DecodeString(args[1])
			if err != nil || len(pubBytes) != 32 {
				return fmt.Errorf("static public key must be 64 hex characters (32 bytes)")
			}
			p := store.ManualPeer{
				Fingerprint: fp,
				StaticPub:   domain.MustX25519Public(pubBytes),
				Address:     args[2],
				DisplayName: displayName,
			}
			if err := store.NewManualPeers(cfg.Home).Add(p); err != nil {
				return err
			}
			fmt.Printf("saved manual peer %s at %s\n", fp, args[2])
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "display name for this peer")
	return cmd
}
