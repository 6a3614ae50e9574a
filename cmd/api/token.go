package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"labeller/api/internal/auth"
	"labeller/api/internal/config"
	"labeller/api/internal/rbac"
)

func newTokenCmd(cfg *config.Config) *cobra.Command {
	var (
		name string
		role string
	)
	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Issue a bearer token for the class editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(cfg.TokenSecret) == "" {
				return fmt.Errorf("LABELLER_TOKEN_SECRET is not set")
			}
			if rbac.Normalize(role) != rbac.Role(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.IssueToken([]byte(cfg.TokenSecret), auth.NewClaims(args[0], name, role, cfg.TokenTTL))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name recorded in history")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleEditor), "viewer, editor or admin")
	cmd.Flags().DurationVar(&cfg.TokenTTL, "ttl", cfg.TokenTTL, "token lifetime")
	return cmd
}
