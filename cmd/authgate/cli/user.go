package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/authgate/authgate/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create, list, promote, and delete user accounts directly in the store, without going through the HTTP API.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserRoleCmd())
	cmd.AddCommand(newUserDeleteCmd())

	return cmd
}

// quietLogger suppresses store log output in CLI commands.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user account",
		Example: `  authgate user create --email admin@example.com --name "Root" --role admin
  authgate user create --email t@example.com --role teacher  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, name, role)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", model.RoleStudent, "Role: admin, teacher, or student")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, password, name, role string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	switch role {
	case model.RoleAdmin, model.RoleTeacher, model.RoleStudent:
	default:
		return fmt.Errorf("unknown role %q (want admin, teacher, or student)", role)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created %s account %q (ID %d)\n", role, email, user.ID)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No user accounts. Use 'authgate user create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-30s %-24s %-10s\n", "ID", "EMAIL", "NAME", "ROLE")
	fmt.Printf("%-6s %-30s %-24s %-10s\n", "--", "-----", "----", "----")
	for _, u := range users {
		fmt.Printf("%-6d %-30s %-24s %-10s\n", u.ID, u.Email, u.Name, u.Role)
	}
	return nil
}

// ---------- user role ----------

func newUserRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role <user-id> <role>",
		Short: "Change a user's role",
		Long:  "Set a user's role to admin, teacher, or student. The change takes effect on the user's next token issue or renewal.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserRole(args[0], args[1])
		},
	}
	return cmd
}

func runUserRole(idStr, role string) error {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user ID: %q", idStr)
	}
	switch role {
	case model.RoleAdmin, model.RoleTeacher, model.RoleStudent:
	default:
		return fmt.Errorf("unknown role %q (want admin, teacher, or student)", role)
	}

	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.UpdateUserRole(context.Background(), id, role); err != nil {
		return fmt.Errorf("update role: %w", err)
	}

	fmt.Printf("User %d is now %s\n", id, role)
	return nil
}

// ---------- user delete ----------

func newUserDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user account",
		Long:  "Soft-delete a user account and revoke all its refresh tokens, ending every session it holds.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserDelete(args[0])
		},
	}
	return cmd
}

func runUserDelete(idStr string) error {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user ID: %q", idStr)
	}

	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := st.RevokeUserRefreshTokens(ctx, id); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	fmt.Printf("Deleted user %d and revoked their sessions\n", id)
	return nil
}
