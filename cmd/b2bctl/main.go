package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"b2bstore.org/internal/auth"
	catalogpg "b2bstore.org/internal/catalog/pg"
	"b2bstore.org/internal/config"
	"b2bstore.org/internal/migrate"
	"b2bstore.org/internal/obs"
)

var (
	configPath string
	dsnFlag    string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "b2bctl",
		Short:         "Administration tool for the b2bstore API.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("B2B_CONFIG"), "Path to the YAML configuration file.")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "PostgreSQL DSN (overrides configuration).")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Deadline for the whole command.")

	addMigrateCommands(rootCmd)
	addUserCommands(rootCmd)
	addTokenCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		obs.Logger().Error("b2bctl failed", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dsnFlag != "" {
		cfg.PGDSN = dsnFlag
	}
	obs.InitLogger(cfg.LogLevel)
	return cfg, nil
}

func openDB(cfg config.Config) (*sql.DB, error) {
	if !cfg.HasDatabase() {
		return nil, errors.New("missing DSN: provide --dsn, pg_dsn or B2B_PG_DSN")
	}
	return catalogpg.Open(cfg.PGDSN)
}

func withDB(fn func(ctx context.Context, cfg config.Config, db *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return fn(ctx, cfg, db)
	}
}

func addMigrateCommands(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migration commands.",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations.",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, _ config.Config, db *sql.DB) error {
			applied, err := migrate.NewManager(db).Up(ctx)
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			return err
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration.",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, _ config.Config, db *sql.DB) error {
			name, err := migrate.NewManager(db).Down(ctx)
			if err != nil {
				return err
			}
			fmt.Println("rolled back", name)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations in order.",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, _ config.Config, db *sql.DB) error {
			history, err := migrate.NewManager(db).Status(ctx)
			if err != nil {
				return err
			}
			for _, item := range history {
				fmt.Println(item)
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Apply seed files and the built-in permission groups.",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, _ config.Config, db *sql.DB) error {
			applied, err := migrate.NewManager(db).Seed(ctx)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Println("seeded", name)
			}
			return auth.EnsureBuiltins(ctx, auth.NewPGDirectory(db))
		}),
	})
	parent.AddCommand(cmd)
}

func addUserCommands(parent *cobra.Command) {
	var (
		email    string
		password string
		org      string
		groups   []string
	)
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a user and assign permission groups.",
		Example: "  b2bctl user create --email buyer@example.com --password secret --group customer",
		Args:    cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, _ config.Config, db *sql.DB) error {
			if password == "" {
				password = os.Getenv("B2B_USER_PASSWORD")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			u := &auth.User{Email: email, PasswordHash: hash}
			if org != "" {
				id, err := uuid.Parse(org)
				if err != nil {
					return fmt.Errorf("organization: %w", err)
				}
				u.OrganizationID = &id
			}
			if err := auth.NewPGDirectory(db).CreateUserWithGroups(ctx, u, groups); err != nil {
				return err
			}
			fmt.Println(u.ID)
			return nil
		}),
	}
	create.Flags().StringVar(&email, "email", "", "Login e-mail address.")
	create.Flags().StringVar(&password, "password", "", "Password (defaults to B2B_USER_PASSWORD).")
	create.Flags().StringVar(&org, "organization", "", "Organization UUID.")
	create.Flags().StringSliceVar(&groups, "group", nil, "Permission group to assign (repeatable).")
	_ = create.MarkFlagRequired("email")

	cmd := &cobra.Command{
		Use:   "user",
		Short: "User directory commands.",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(create)
	parent.AddCommand(cmd)
}

func addTokenCommands(parent *cobra.Command) {
	var email string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a token for an existing user without checking the password.",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, cfg config.Config, db *sql.DB) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			codec, err := auth.NewCodec(cfg.CodecConfig())
			if err != nil {
				return err
			}
			dir := auth.NewPGDirectory(db)
			u, err := dir.FindUserByEmail(ctx, email)
			if err != nil {
				return err
			}
			ident, err := dir.ResolveIdentity(ctx, u.ID)
			if err != nil {
				return err
			}
			tok, err := codec.Issue(ident)
			if err != nil {
				return err
			}
			fmt.Println(tok.Value)
			return nil
		}),
	}
	issue.Flags().StringVar(&email, "email", "", "E-mail address of the user.")
	_ = issue.MarkFlagRequired("email")

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token commands.",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(issue)
	parent.AddCommand(cmd)
}
