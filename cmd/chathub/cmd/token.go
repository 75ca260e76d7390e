package cmd

import (
	"fmt"
	"time"

	"github.com/nfrund/chathub/internal/auth"
	"github.com/nfrund/chathub/internal/config"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for a user",
	Long: `Issue signs a token with AUTH_JWT_SECRET. The server still checks the
user against its directory when the token is presented.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		userID, _ := cmd.Flags().GetString("user")
		username, _ := cmd.Flags().GetString("username")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if username == "" {
			username = userID
		}
		id := domain.Identity{UserID: userID, Username: username, Role: domain.Role(role)}
		if !id.Role.Valid() {
			return fmt.Errorf("unknown role %q (want %s or %s)", role, domain.RoleUser, domain.RoleAdmin)
		}
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}

		issuer, err := auth.NewJWT(cfg.Auth.JWTSecret, ttl, nil)
		if err != nil {
			return err
		}
		token, exp, err := issuer.Issue(id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, token)
		fmt.Fprintf(out, "expires %s\n", exp.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id (required)")
	tokenCmd.Flags().String("username", "", "display name, defaults to the user id")
	tokenCmd.Flags().String("role", string(domain.RoleUser), "USER or ADMIN")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime, defaults to AUTH_TOKEN_TTL")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
