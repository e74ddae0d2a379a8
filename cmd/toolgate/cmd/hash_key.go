package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/adapter/inbound/httpgw"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an argon2id hash for an API key",
	Long: `Generate an argon2id hash of an API key for use in config.

The output is a PHC-format string ("$argon2id$...") which can be
used directly in the auth.api_keys.key_hash field.

Example:
  toolgate hash-key "my-secret-api-key"

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  toolgate hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := httpgw.HashKey(args[0])
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
