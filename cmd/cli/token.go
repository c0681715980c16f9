package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codehound/reviewhub/internal/auth"
)

var (
	tokenUserID   int64
	tokenUsername string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mints a signed API token for local development",
	Long:  `Signs a bearer token with the JWT_SECRET environment variable. The token works against a service configured with the same secret.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		secret := viper.GetString("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("RH_JWT_SECRET must be set")
		}
		if tokenUserID == 0 {
			return fmt.Errorf("--user-id is required")
		}

		tokens := auth.NewTokenManager(secret, tokenTTL)
		signed, err := tokens.Issue(auth.Identity{UserID: tokenUserID, Username: tokenUsername})
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}

		fmt.Println(signed)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	tokenCmd.Flags().Int64Var(&tokenUserID, "user-id", 0, "User ID the token identifies")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "Username claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
