package main

import (
	"context"
	"fmt"

	"github.com/dukex/nodebase/pkg/cache"
	"github.com/dukex/nodebase/pkg/cmd"
	"github.com/dukex/nodebase/pkg/config"
	"github.com/dukex/nodebase/pkg/log"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/dukex/nodebase/pkg/workflow"
	"github.com/urfave/cli/v3"
)

func SeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create schemas and workflows from a YAML seed file",
		Flags: []cli.Flag{
			databaseURLFlag(),
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the seed file",
				Required: true,
			},
			&cli.IntFlag{
				Name:     "organization-id",
				Usage:    "Organization owning the seeded definitions",
				Required: true,
				Sources:  cli.EnvVars("ORGANIZATION_ID"),
			},
			&cli.StringFlag{
				Name:  "actor",
				Usage: "Actor recorded on the seeded definitions",
				Value: "seed",
			},
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("seed")

			seed, err := config.LoadSeed(command.String("file"))
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			tracer := otelhelper.NewNoopTracer("nodebase-seed")
			schemas := services.NewSchema(persistence, cache.NewNoop(), logger, tracer)
			workflows := services.NewWorkflows(persistence, schemas, workflow.NewCompiler(cmd.NewRegistry(logger)), logger, tracer)

			err = config.NewSeeder(schemas, workflows, logger).Apply(ctx, int64(command.Int("organization-id")), command.String("actor"), seed)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}

			logger.InfoContext(ctx, "Seed applied", "schemas", len(seed.Schemas), "workflows", len(seed.Workflows))

			return nil
		},
	}
}
