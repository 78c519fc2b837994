package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"passgate/cmd/identity"
	"passgate/cmd/internal/app"
	"passgate/cmd/internal/auth/passkey"
	"passgate/cmd/internal/invite"
	"passgate/cmd/security/access"
)

func newUsersCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts in the database",
		Long: `Manage accounts directly in the database.

An account created here has no passkey yet. Its owner adds one through the
normal registration ceremony, which requires the email to be on the
allow-list.`,
	}
	cmd.AddCommand(newUsersCreateCmd(g), newUsersListCmd(g), newUsersDeleteCmd(g))
	return cmd
}

type createUserInput struct {
	email string
	name  string
	role  string
}

func newUsersCreateCmd(g *globalFlags) *cobra.Command {
	var in createUserInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account without a passkey",
		Example: `  passgate users create --email admin@example.com --role admin
  passgate users create --email editor@example.com --name "Ed Itor" --role editor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUserStore(cmd, g, func(ctx context.Context, cfg app.Config, st identity.Store) error {
				return createUser(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, st, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&in.name, "name", "", "display name (defaults to the email local part)")
	cmd.Flags().StringVar(&in.role, "role", "", "admin, editor or member (defaults to PASSGATE_DEFAULT_ROLE)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUsersListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUserStore(cmd, g, func(ctx context.Context, _ app.Config, st identity.Store) error {
				return listUsers(ctx, cmd.OutOrStdout(), st)
			})
		},
	}
}

func newUsersDeleteCmd(g *globalFlags) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an account with its passkeys and sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUserStore(cmd, g, func(ctx context.Context, _ app.Config, st identity.Store) error {
				return deleteUser(ctx, cmd.OutOrStdout(), st, email)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func withUserStore(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, cfg app.Config, st identity.Store) error) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errNoDatabase
	}

	ctx := cmd.Context()
	pool, err := app.NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	st, err := identity.NewPostgresStore(pool)
	if err != nil {
		return err
	}
	return fn(ctx, cfg, st)
}

func createUser(ctx context.Context, out, errOut io.Writer, cfg app.Config, st identity.Store, in createUserInput) error {
	email := identity.NormalizeEmail(in.email)
	if !identity.ValidEmail(email) {
		return fmt.Errorf("invalid email %q", in.email)
	}

	role := in.role
	if role == "" {
		role = cfg.Passkey.DefaultRole
	}
	if _, ok := access.ParseRole(role); !ok {
		return fmt.Errorf("unknown role %q", role)
	}

	handle, err := passkey.UserHandle(cfg.Passkey.UserHandleKey, cfg.Passkey.RPID, email)
	if err != nil {
		return err
	}

	u, err := st.CreateUser(ctx, identity.CreateUserInput{
		Email:       email,
		DisplayName: strings.TrimSpace(in.name),
		Roles:       []string{role},
		WebAuthnID:  handle,
	})
	if identity.IsConflict(err) {
		return fmt.Errorf("an account for %s already exists", email)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "created %s %s [%s]\n", u.ID, u.Email, strings.Join(u.Roles, ","))

	if allow, err := invite.ParseAllowlist(cfg.AllowedEmail); err == nil && !allow.Allows(email) {
		fmt.Fprintf(errOut, "warning: %s is not in PASSGATE_ALLOWED_EMAIL and cannot register a passkey\n", email)
	}
	return nil
}

func listUsers(ctx context.Context, out io.Writer, st identity.Store) error {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tROLES\tCREATED\tLAST LOGIN")
	for _, u := range users {
		last := "-"
		if u.LastLoginAt != nil {
			last = u.LastLoginAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			u.ID, u.Email, u.DisplayName, strings.Join(u.Roles, ","), u.CreatedAt.Format(time.RFC3339), last)
	}
	return tw.Flush()
}

func deleteUser(ctx context.Context, out io.Writer, st identity.Store, email string) error {
	u, err := st.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) {
		return fmt.Errorf("no account for %s", identity.NormalizeEmail(email))
	}
	if err != nil {
		return err
	}
	if err := st.DeleteUser(ctx, u.ID); err != nil && !errors.Is(err, identity.ErrNotFound) {
		return err
	}
	fmt.Fprintf(out, "deleted %s %s\n", u.ID, u.Email)
	return nil
}
