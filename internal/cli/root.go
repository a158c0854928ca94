// Package cli implements esctl, the operator client for the orchestrator.
package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/exchangeset/orchestrator/internal/auth"
	"github.com/exchangeset/orchestrator/internal/config"
)

type commandContext struct {
	server string
	token  string
	cfg    *config.Config
}

// ensureConfig loads the service configuration once
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// bearer returns the --token flag or a short lived token signed with the
// configured JWT secret.
func (c *commandContext) bearer() (string, error) {
	if c.token != "" {
		return c.token, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return auth.NewHMACVerifier(cfg.JWT.Secret).Issue("esctl", 5*time.Minute)
}

func NewRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "esctl",
		Short:         "Exchange set orchestrator client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.server, "server", "http://localhost:8000", "Orchestrator base URL")
	rootCmd.PersistentFlags().StringVar(&ctx.token, "token", "", "Bearer token, signed locally from JWT_SECRET when empty")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newJobCommands(ctx)...)
	rootCmd.AddCommand(newRespondCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))
	return rootCmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			token, err := auth.NewHMACVerifier(cfg.JWT.Secret).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "esctl", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
