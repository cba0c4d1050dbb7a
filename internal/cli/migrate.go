package cli

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/vitalis-labs/service_layer/internal/platform/migrations"
)

type migrateOptions struct {
	dsn   string
	steps int
	list  bool
}

type migrateOutput struct {
	Migrations []string `json:"migrations,omitempty"`
	Version    uint     `json:"version,omitempty"`
	Dirty      bool     `json:"dirty,omitempty"`
}

func newMigrateCommand(root *RootOptions) *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		Long: `Migrate the PostgreSQL schema with golang-migrate. By default every pending
up migration is applied; --steps applies (positive) or rolls back (negative)
that many. The connection string comes from --dsn or DATABASE_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(root, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL connection string (default: DATABASE_URL)")
	cmd.Flags().IntVar(&opts.steps, "steps", 0, "number of migrations to apply, negative to roll back")
	cmd.Flags().BoolVar(&opts.list, "list", false, "list embedded migrations and exit")
	return cmd
}

func runMigrate(root *RootOptions, opts *migrateOptions, cmd *cobra.Command) error {
	p := NewPrinter(cmd.OutOrStdout(), root.Format)

	if opts.list {
		list, err := migrations.List()
		if err != nil {
			return WrapExitError(ExitFailure, "list migrations", err)
		}
		names := make([]string, len(list))
		for i, m := range list {
			names[i] = m.Name
		}
		if p.JSON() {
			return p.Encode(migrateOutput{Migrations: names})
		}
		for _, name := range names {
			p.Printf("%s\n", name)
		}
		return nil
	}

	dsn := opts.dsn
	if dsn == "" {
		cfg, _, err := root.loadConfig(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		dsn = cfg.Postgres.DSN
	}
	if dsn == "" {
		return WrapExitError(ExitCommandError, "a connection string is required (--dsn or DATABASE_URL)", nil)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer db.Close()
	if err := db.PingContext(cmd.Context()); err != nil {
		return WrapExitError(ExitCommandError, "connect database", err)
	}

	if err := migrations.Migrate(db, opts.steps); err != nil {
		return WrapExitError(ExitFailure, "migrate", err)
	}
	version, dirty, err := migrations.Version(db)
	if err != nil {
		return WrapExitError(ExitFailure, "read schema version", err)
	}

	if p.JSON() {
		if err := p.Encode(migrateOutput{Version: version, Dirty: dirty}); err != nil {
			return err
		}
	} else if dirty {
		p.Warning(fmt.Sprintf("schema version %d is dirty", version))
	} else {
		p.Success(fmt.Sprintf("schema at version %d", version))
	}
	if dirty {
		return WrapExitError(ExitFailure, fmt.Sprintf("schema version %d is dirty", version), nil)
	}
	return nil
}
