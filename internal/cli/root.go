// Package cli defines the cobra command tree for the fieldops tool.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var flagFormat string

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldops",
		Short:         "Field staff trip and visit tooling",
		Long:          "Offline tools for the trip and visit tracking engine: replay recorded GPS samples and mint development tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")

	root.AddCommand(
		newReplayCmd(),
		newTokenCmd(),
	)

	return root
}

func isJSON() bool {
	return flagFormat == "json"
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
