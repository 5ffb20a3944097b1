package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evaguard/evaguard/internal/domain/auth"
)

var hashKeyArgon2 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Hash an API key for use in config",
	Long: `Hash an API key for the auth.api_keys[].key_hash field.

By default the output is "sha256:<hex>". With --argon2id the output is an
Argon2id PHC string, which is slower to verify but resistant to brute force.

Example:
  evaguard hash-key "my-secret-api-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  evaguard hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if hashKeyArgon2 {
			hash, err := auth.HashKeyArgon2id(args[0])
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sha256:%s\n", auth.HashKey(args[0]))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2, "argon2id", false, "Output an Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}
