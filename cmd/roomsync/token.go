package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"room_sync/internal/httpapi"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin token for the import endpoint",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (who the token is for)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default admin.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	auth, err := httpapi.NewAuthenticator(cfg.Admin.JWTSecret, cfg.Admin.Issuer)
	if err != nil {
		return err
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.Admin.TokenTTL
	}

	token, err := auth.Issue(tokenSubject, []string{httpapi.CapabilityImportRooms}, ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
