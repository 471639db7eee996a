package main

import (
	"errors"
	"fmt"
	"time"

	"classdesk/api/internal/auth"
	"classdesk/api/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// tokenCmd issues identity tokens for local development against a server
// sharing the same identity secret.
var tokenCmd = &cobra.Command{
	Use:   "token <stable-id>",
	Short: "Issue an identity token for development",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().String(config.KeyIdentitySecret, "", "HMAC secret verifying identity tokens")
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().String("name", "", "display name carried in the token")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.IdentitySecret == "" {
		return errors.New("identity secret is required (--identity-secret or CLASSDESK_IDENTITY_SECRET)")
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")
	name, _ := cmd.Flags().GetString("name")
	now := time.Now()
	token, err := auth.IssueToken([]byte(cfg.IdentitySecret), auth.Claims{
		Sub:  args[0],
		Name: name,
		JTI:  uuid.NewString(),
		Iat:  now.Unix(),
		Exp:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
