// Package main provides the nodebase API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/nodebase/pkg/cache"
	"github.com/dukex/nodebase/pkg/eventbus"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/dukex/nodebase/pkg/web"
	"github.com/dukex/nodebase/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	schemaCache cache.SchemaCache
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	schemaCache cache.SchemaCache,
	tracer trace.Tracer,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		eventBus:    eventBus,
		schemaCache: schemaCache,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	compiler := workflow.NewCompiler(a.registry)
	schemaService := services.NewSchema(a.persistence, a.schemaCache, a.logger.With("service", "schemas"), a.tracer)
	recordService := services.NewRecords(a.persistence, schemaService, services.NewSequence(a.logger), a.logger.With("service", "records"), a.tracer)
	workflowService := services.NewWorkflows(a.persistence, schemaService, compiler, a.logger.With("service", "workflows"), a.tracer)
	pipeline := workflow.NewPipeline(a.persistence, schemaService, recordService, compiler, a.eventBus, a.logger.With("service", "pipeline"), a.tracer)

	handlers := web.NewAPIHandlers(schemaService, recordService, workflowService, pipeline, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Nodebase API")
	})

	app.Get("/health", handlers.HealthCheck)

	handlers.Routes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
