package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"knowledge-base-backend/middleware"

	"github.com/spf13/cobra"
)

var (
	secret string
	teamID string
	userID string
	appID  string
	ttl    time.Duration
)

func generateJWTSecret() (string, error) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

var rootCmd = &cobra.Command{
	Use:          "jwt",
	Short:        "Generate JWT secrets and tokens",
	SilenceUsage: true,
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a random secret for jwt.secret_key",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := generateJWTSecret()
		if err != nil {
			return fmt.Errorf("failed to generate secret: %w", err)
		}
		fmt.Println(s)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a token carrying team, user and app ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		if secret == "" {
			secret = os.Getenv("JWT_SECRET_KEY")
		}
		if secret == "" {
			return fmt.Errorf("--secret or JWT_SECRET_KEY is required")
		}
		token, err := middleware.GenerateToken(secret, teamID, userID, appID, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&secret, "secret", "", "signing secret, defaults to $JWT_SECRET_KEY")
	tokenCmd.Flags().StringVar(&teamID, "team", "", "team id")
	tokenCmd.Flags().StringVar(&userID, "user", "", "user id")
	tokenCmd.Flags().StringVar(&appID, "app", "", "app id")
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("team")

	rootCmd.AddCommand(secretCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
