package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"dnieim/internal/store"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the local identity's fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			idStore := store.NewIdentityStore(cfg.Home)
			if !idStore.Exists() {
				return fmt.Errorf("no identity at %s; run 'dnieim init' first", cfg.Home)
			}
			id, err := idStore.Load(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\nDisplay name: %s\n", id.Fingerprint, id.DisplayName)
			return nil
		},
	}
}
