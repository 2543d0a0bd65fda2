package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a signed connection token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	cmd.Flags().String("role", "customer", "customer, seller, delivery or admin")
	cmd.Flags().String("secret", envOr("JWT_SECRET", "dev-secret-change-in-prod"), "HMAC secret shared with the broker")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	roleFlag, _ := cmd.Flags().GetString("role")
	secret, _ := cmd.Flags().GetString("secret")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	role, err := auth.ParseRole(roleFlag)
	if err != nil {
		return err
	}

	token, err := auth.NewJWTService(secret).WithTTL(ttl).GenerateToken(args[0], role)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
