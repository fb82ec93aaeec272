package main

import (
	"context"
	"fmt"

	"github.com/dukex/nodebase/pkg/log"
	"github.com/dukex/nodebase/pkg/persistence/postgresql"
	"github.com/urfave/cli/v3"
)

func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Flags: []cli.Flag{
			databaseURLFlag(),
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("migrate")

			version, err := postgresql.Migrate(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			logger.InfoContext(ctx, "Database is up to date", "version", version)

			return nil
		},
	}
}
