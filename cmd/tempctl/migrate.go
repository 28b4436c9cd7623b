package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"tempinbox/backend/internal/storage/migrations"
)

// sqlstore 驱动名 -> database/sql 驱动名
var sqlDrivers = map[string]string{
	"postgres": "postgres",
	"mysql":    "mysql",
	"sqlite":   "sqlite3",
}

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down|status|version>",
	Short:     "Apply or inspect schema migrations",
	Long:      "Runs the embedded goose migrations against TEMPINBOX_DATABASE_DSN. MySQL DSNs need parseTime=true.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{migrations.CommandUp, migrations.CommandDown, migrations.CommandStatus, migrations.CommandVersion},
	RunE: func(cmd *cobra.Command, args []string) error {
		driverName, ok := sqlDrivers[cfg.Database.Type]
		if !ok {
			return fmt.Errorf("unsupported database type %q (supported: postgres, mysql, sqlite)", cfg.Database.Type)
		}

		db, err := sql.Open(driverName, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("connect database: %w", err)
		}

		return migrations.Run(ctx, db, cfg.Database.Type, args[0], log)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
