package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used by machine clients to authenticate against the API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name        string
		permissions []string
		whitelist   []string
		expiresIn   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again; only its hash is stored.",
		Example: `  authgate key create --name "CI pipeline" --permission courses:read
  authgate key create --name internal --ip "10.0.0.0/24" --ip "192.168.1.*" --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(name, permissions, whitelist, expiresIn)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name (required)")
	cmd.Flags().StringArrayVar(&permissions, "permission", nil, "Capability granted to the key (repeatable)")
	cmd.Flags().StringArrayVar(&whitelist, "ip", nil, "IP whitelist pattern: exact, wildcard, or CIDR (repeatable; empty allows all)")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Key lifetime as a duration, e.g. 720h (default: no expiry)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(name string, permissions, whitelist []string, expiresIn string) error {
	if err := service.ValidateWhitelist(whitelist); err != nil {
		return err
	}

	var expiresAt *time.Time
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in: %w", err)
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	plaintext, hash, prefix, err := service.GenerateKey(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	record := service.NewAPIKeyRecord(name, hash, prefix, permissions, whitelist, expiresAt)
	if err := st.CreateAPIKey(context.Background(), record); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:  %s\n", plaintext)
	fmt.Printf("  Name: %s\n", name)
	if len(permissions) > 0 {
		fmt.Printf("  Permissions: %s\n", strings.Join(permissions, ", "))
	}
	if len(whitelist) > 0 {
		fmt.Printf("  IP whitelist: %s\n", strings.Join(whitelist, ", "))
	}
	if expiresAt != nil {
		fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys. Use 'authgate key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-14s %-24s %-28s %-8s\n", "ID", "PREFIX", "NAME", "PERMISSIONS", "ACTIVE")
	fmt.Printf("%-6s %-14s %-24s %-28s %-8s\n", "--", "------", "----", "-----------", "------")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-14s %-24s %-28s %-8s\n",
			k.ID, k.KeyPrefix, k.Name, strings.Join(k.Permissions, ","), active)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}
	return cmd
}

func runKeyRevoke(prefix string) error {
	st, err := openStore(quietLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	keys, err := st.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	var matched *model.APIKey
	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, prefix) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("no API key found with prefix %q", prefix)
	}

	if err := st.RevokeAPIKey(ctx, matched.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %q (%s)\n", matched.Name, matched.KeyPrefix)
	return nil
}
