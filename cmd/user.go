package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/tatkal-scheduler/internal/auth"
	"github.com/example/tatkal-scheduler/internal/config"
	"github.com/example/tatkal-scheduler/internal/db"
	"github.com/example/tatkal-scheduler/internal/migrate"
)

func newUserCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operators",
	}
	cmd.AddCommand(newUserAddCmd(rf))
	return cmd
}

func newUserAddCmd(rf *rootFlags) *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add an operator (username/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			if err := cfg.RequireSecrets(); err != nil {
				return err
			}
			return withDB(cmd.Context(), cfg, func(d *db.DB) error {
				store := auth.NewStore(d, cfg.Security.CookieHash, cfg.Security.CookieBlock)
				if err := store.CreateOperator(cmd.Context(), username, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created operator %q\n", username)
				return nil
			})
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

// withDB opens the operator database, applies pending migrations and
// runs fn.
func withDB(ctx context.Context, cfg *config.Config, fn func(d *db.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer d.Close()

	if _, err := migrate.Up(ctx, d); err != nil {
		return err
	}
	return fn(d)
}
