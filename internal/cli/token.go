package cli

import (
	"fmt"
	"time"

	"backend-fieldops/internal/auth"
	"backend-fieldops/internal/config"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <staff-id>",
		Short: "Mint a bearer token for local development",
		Long: `Mint a bearer token signed with JWT_SECRET.

Examples:
  fieldops token nurse-42
  fieldops token nurse-42 --ttl 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.SignToken(config.Load().JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]string{"staff_id": args[0], "token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")

	return cmd
}
