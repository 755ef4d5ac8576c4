package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the admin HTTP API base URL (e.g., from env or flag).
type BaseURLFunc func() string

// WSURLFunc provides the WebSocket edge URL.
type WSURLFunc func() string

// NewRoot constructs a root Cobra command for the client. It registers the
// subscribe, signal, and catalog commands.
func NewRoot(wsURL WSURLFunc, baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "reactive",
		Short: "Reactive services client commands",
	}
	root.AddCommand(NewSubscribeCommand(wsURL))
	root.AddCommand(NewSignalCommand(wsURL))
	root.AddCommand(NewCatalogCommand(baseURL))
	return root
}
