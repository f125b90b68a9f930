package cmd

import (
	"fmt"

	"github.com/jmehdipour/recurring-orders/internal/app"
	"github.com/jmehdipour/recurring-orders/internal/logger"
	"github.com/jmehdipour/recurring-orders/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var skipClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE MySQL tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Named("migrate")

		sqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if _, err := sqlDB.Exec("SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return fmt.Errorf("disable fk checks: %w", err)
		}
		if err := apply(sqlDB, "mysql"); err != nil {
			_, _ = sqlDB.Exec("SET FOREIGN_KEY_CHECKS = 1")
			return err
		}
		if _, err := sqlDB.Exec("SET FOREIGN_KEY_CHECKS = 1"); err != nil {
			return fmt.Errorf("enable fk checks: %w", err)
		}
		log.Info("mysql migrated")

		if skipClickHouse {
			return nil
		}
		chDB, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		defer chDB.Close()
		if err := apply(chDB, "clickhouse"); err != nil {
			return err
		}
		log.Info("clickhouse migrated", zap.String("table", "recur.runs"))
		return nil
	},
}

func apply(dbx *sqlx.DB, dir string) error {
	stmts, err := migrations.Statements(dir)
	if err != nil {
		return err
	}
	for i, s := range stmts {
		if _, err := dbx.Exec(s); err != nil {
			return fmt.Errorf("exec %s migration #%d: %w", dir, i+1, err)
		}
	}
	return nil
}

func init() {
	migrateCmd.Flags().BoolVar(&skipClickHouse, "skip-clickhouse", false, "only migrate MySQL")
}
