package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"dnieim/internal/domain"
	"dnieim/internal/store"
)

func contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Inspect and manage pinned contacts",
	}
	cmd.AddCommand(contactsListCmd(), contactsRenameCmd(), contactsDeleteCmd())
	return cmd
}

func contactsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every pinned contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			contacts, err := store.NewContactBook(cfg.Home).List()
			if err != nil {
				return err
			}
			if len(contacts) == 0 {
				fmt.Println("no contacts pinned yet")
				return nil
			}
			for _, c := range contacts {
				name := c.DisplayName
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("%s  %-20s  first seen %s\n", c.Fingerprint, name, c.FirstSeen.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func contactsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <fingerprint> <new-name>",
		Short: "Rename a pinned contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := domain.Fingerprint(args[0])
			if !fp.Valid() {
				return fmt.Errorf("invalid fingerprint %q", args[0])
			}
			return store.NewContactBook(cfg.Home).Rename(fp, args[1])
		},
	}
}

func contactsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <fingerprint>",
		Short: "Discard a pinned contact's key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := domain.Fingerprint(args[0])
			if !fp.Valid() {
				return fmt.Errorf("invalid fingerprint %q", args[0])
			}
			return store.NewContactBook(cfg.Home).Delete(fp)
		},
	}
}
