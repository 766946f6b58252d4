package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"dnieim/internal/identity"
	"dnieim/internal/store"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Bootstrap the local identity and print its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			idStore := store.NewIdentityStore(cfg.Home)
			if idStore.Exists() {
				return fmt.Errorf("identity already exists at %s", cfg.Home)
			}
			provider := identity.DevProvider{DisplayName: cfg.DisplayName}
			id, err := identity.New(idStore, provider).LoadOrCreate(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\nDisplay name: %s\n", id.Fingerprint, id.DisplayName)
			return nil
		},
	}
}
