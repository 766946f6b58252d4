package main

import (
	"errors"
	"os"

	"dnieim/cmd/dnieim/commands"
	"dnieim/internal/domain"
	"dnieim/internal/identity"
)

// Exit codes per spec.md §6: 0 normal, 1 identity auth failure, 2 socket
// bind failure, 3 persistent-storage failure. Anything else uncategorized
// falls back to 1, the historical default before these were distinguished.
// cobra's own Execute already prints the error; main only needs the code.
func main() {
	err := commands.Execute()
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, identity.ErrAuthFailed):
		os.Exit(1)
	case errors.Is(err, domain.ErrBindFailed):
		os.Exit(2)
	case errors.Is(err, domain.ErrStorageFailed):
		os.Exit(3)
	default:
		os.Exit(1)
	}
}
