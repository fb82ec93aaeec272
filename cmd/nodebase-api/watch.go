package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/dukex/nodebase/pkg/cmd"
	"github.com/dukex/nodebase/pkg/eventbus"
	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/log"
	"github.com/urfave/cli/v3"
)

var errNothingToWatch = errors.New("the none event bus carries no events")

func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print record events as JSON lines",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   cmd.EventBusKafka,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers used by the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "organization-id",
				Usage:   "Only print events of this organization, 0 prints all",
				Sources: cli.EnvVars("ORGANIZATION_ID"),
			},
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("watch")

			provider := command.String("event-bus")
			if provider == cmd.EventBusNone || provider == "" {
				return errNothingToWatch
			}

			eventBus, err := cmd.NewEventBus(provider, command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = watchRecordEvents(ctx, eventBus, command.Root().Writer, int64(command.Int("organization-id")))
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Watching record events", "topic", events.Topic)

			<-ctx.Done()

			return nil
		},
	}
}

// watchRecordEvents writes every record event delivered by the bus to out, one JSON document
// per line. A non zero organizationID skips the events of other organizations.
func watchRecordEvents(ctx context.Context, bus eventbus.EventSubscriber, out io.Writer, organizationID int64) error {
	encoder := json.NewEncoder(out)

	write := func(_ context.Context, event any) error {
		if scoped, ok := event.(interface{ Organization() int64 }); ok && organizationID != 0 && scoped.Organization() != organizationID {
			return nil
		}

		return encoder.Encode(event)
	}

	for _, eventType := range []events.EventType{events.RecordUpsertedEvent, events.RecordDeletedEvent} {
		err := bus.Handle(eventType, write)
		if err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	return bus.Subscribe(ctx)
}
