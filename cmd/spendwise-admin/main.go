// Command spendwise-admin runs operator tasks against the local backend.
//
//	spendwise-admin list
//	spendwise-admin promote --email ada@example.com --role admin
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"spendwise/internal/baas/local"
	"spendwise/internal/cli"
	"spendwise/internal/config"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

type store interface {
	ListProfiles(ctx context.Context) ([]core.Profile, error)
	EnsureRole(ctx context.Context, email string, role core.Role) error
}

// opener returns the store a command runs against. It is called at most
// once per command and only by commands that need it.
type opener func() (store, error)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)

	var backend *local.Backend
	open := func() (store, error) {
		cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateLocal)
		b, err := local.Open(local.Options{
			DBPath:    cfg.SQLiteDBPath,
			JWTSecret: cfg.JWTSecret,
			Logger:    logger.WithComponent(applog.ComponentBackend).Slog(),
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.SQLiteDBPath, err)
		}
		backend = b
		return b, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := newRootCmd(open).ExecuteContext(ctx)
	cancel()
	if backend != nil {
		if cerr := backend.Close(); cerr != nil {
			logger.Warn("Closing local backend failed", "error", cerr)
		}
	}
	if err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "spendwise-admin",
		Short:         "Operator tasks for a spendwise local backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newListCmd(open), newPromoteCmd(open))
	return root
}

func newListCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every account and its role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			profiles, err := s.ListProfiles(cmd.Context())
			if err != nil {
				return fmt.Errorf("list profiles: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "EMAIL\tNAME\tROLE\tJOINED")
			for _, p := range profiles {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Email, p.FullName, p.Role, p.CreatedAt.Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
}

func newPromoteCmd(open opener) *cobra.Command {
	var email, roleName string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Set the role of an existing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := core.ParseRole(roleName)
			if err != nil {
				return fmt.Errorf("promote: %w", err)
			}
			s, err := open()
			if err != nil {
				return err
			}
			if err := s.EnsureRole(cmd.Context(), email, role); err != nil {
				return fmt.Errorf("promote %s: %w", email, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", email, role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&roleName, "role", string(core.RoleAdmin), "user, admin or superuser")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
