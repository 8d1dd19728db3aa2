package cmd

import (
	"fmt"
	"time"

	"UltimateDJ/core/auth"
	"UltimateDJ/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	tokenRole string
	tokenID   string
	tokenTTL  time.Duration
	tokenHash string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed participant token",
	Long:  `Signs a token with AUTH_SECRET. Use --hash to print a bcrypt hash for CONTROL_PASSPHRASE_HASH instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		if tokenHash != "" {
			hash, err := auth.HashPassphrase(tokenHash)
			if err != nil {
				logger.Fatal("Failed to hash passphrase", logger.ErrorField(err))
			}
			fmt.Println(hash)
			return
		}

		id := tokenID
		if id == "" {
			id = uuid.NewString()
		}
		token, err := auth.IssueToken(cfg.AuthSecret, id, tokenRole, tokenTTL)
		if err != nil {
			logger.Fatal("Failed to issue token", logger.ErrorField(err))
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleController, "participant role: controller or display")
	tokenCmd.Flags().StringVar(&tokenID, "id", "", "participant id (default: random uuid)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenHash, "hash", "", "print the bcrypt hash of this passphrase and exit")
	rootCmd.AddCommand(tokenCmd)
}
