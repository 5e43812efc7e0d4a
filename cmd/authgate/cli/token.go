package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage refresh tokens",
		Long:  "Housekeeping for persisted refresh tokens: purge expired rows or revoke a user's sessions.",
	}

	cmd.AddCommand(newTokenCleanupCmd())
	cmd.AddCommand(newTokenRevokeCmd())

	return cmd
}

// ---------- token cleanup ----------

func newTokenCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired refresh tokens",
		Long:  "Remove refresh token rows whose expiry has passed. Validity checks never depend on this; it only keeps the table small.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCleanup()
		},
	}
	return cmd
}

func runTokenCleanup() error {
	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	n, err := st.DeleteExpiredRefreshTokens(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	fmt.Printf("Deleted %d expired refresh token(s)\n", n)
	return nil
}

// ---------- token revoke ----------

func newTokenRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Revoke all refresh tokens for a user",
		Long:  "Revoke every outstanding refresh token for a user, forcing a fresh login once their access token expires.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenRevoke(args[0])
		},
	}
	return cmd
}

func runTokenRevoke(idStr string) error {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user ID: %q", idStr)
	}

	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.RevokeUserRefreshTokens(context.Background(), id); err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}

	fmt.Printf("Revoked all refresh tokens for user %d\n", id)
	return nil
}
