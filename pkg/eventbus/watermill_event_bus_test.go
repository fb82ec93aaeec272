package eventbus_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	watermillgochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/nodebase/pkg/channels/gochannel"
	"github.com/dukex/nodebase/pkg/eventbus"
	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (eventbus.EventBus, *watermillgochannel.GoChannel) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	return bus, pub
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, _ := newTestBus(t)

	upserted := make(chan *events.RecordUpserted, 1)
	deleted := make(chan *events.RecordDeleted, 1)

	require.NoError(t, bus.Handle(events.RecordUpsertedEvent, func(_ context.Context, event any) error {
		upserted <- event.(*events.RecordUpserted)

		return nil
	}))
	require.NoError(t, bus.Handle(events.RecordDeletedEvent, func(_ context.Context, event any) error {
		deleted <- event.(*events.RecordDeleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "record-1", events.RecordUpserted{
		BaseEvent:       events.NewBaseEvent(events.RecordUpsertedEvent, 3, "ada"),
		RecordID:        "record-1",
		SchemaVersionID: "version-1",
		Record:          models.RecordData{"name": "first"},
	}))
	require.NoError(t, bus.Publish(ctx, "record-2", events.RecordDeleted{
		BaseEvent: events.NewBaseEvent(events.RecordDeletedEvent, 3, "ada"),
		RecordID:  "record-2",
	}))

	select {
	case event := <-upserted:
		assert.Equal(t, "record-1", event.RecordID)
		assert.Equal(t, int64(3), event.OrganizationID)
		assert.Equal(t, "first", event.Record["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("record.upserted was not delivered")
	}

	select {
	case event := <-deleted:
		assert.Equal(t, "record-2", event.RecordID)
	case <-time.After(5 * time.Second):
		t.Fatal("record.deleted was not delivered")
	}
}

func TestWatermillEventBus_DropsUndecodableEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, channel := newTestBus(t)

	deleted := make(chan *events.RecordDeleted, 1)

	require.NoError(t, bus.Handle(events.RecordDeletedEvent, func(_ context.Context, event any) error {
		deleted <- event.(*events.RecordDeleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	poison := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	poison.Metadata.Set(events.EventTypeMetadataKey, string(events.RecordDeletedEvent))
	require.NoError(t, channel.Publish(events.Topic, poison))

	require.NoError(t, bus.Publish(ctx, "record-9", events.RecordDeleted{
		BaseEvent: events.NewBaseEvent(events.RecordDeletedEvent, 5, "ada"),
		RecordID:  "record-9",
	}))

	select {
	case event := <-deleted:
		assert.Equal(t, "record-9", event.RecordID, "the broken message does not block the topic")
	case <-time.After(5 * time.Second):
		t.Fatal("record.deleted was not delivered")
	}
}

func TestWatermillEventBus_PublishSetsMetadata(t *testing.T) {
	channel := watermillgochannel.NewGoChannel(watermillgochannel.Config{Persistent: true}, watermill.NopLogger{})
	bus := eventbus.NewWatermillEventBus(channel, channel, slog.New(slog.DiscardHandler))

	t.Cleanup(func() { _ = bus.Close() })

	messages, err := channel.Subscribe(context.Background(), events.Topic)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "record-1", events.RecordDeleted{
		BaseEvent: events.NewBaseEvent(events.RecordDeletedEvent, 12, "ada"),
		RecordID:  "record-1",
	}))

	select {
	case msg := <-messages:
		assert.Equal(t, "record-1", msg.Metadata.Get(events.EventMetadataKey))
		assert.Equal(t, "record.deleted", msg.Metadata.Get(events.EventTypeMetadataKey))
		assert.Equal(t, "12", msg.Metadata.Get(events.OrganizationMetadataKey))
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("message was not published")
	}
}

func TestNoopEventBus(t *testing.T) {
	bus := eventbus.NewNoopEventBus()

	require.NoError(t, bus.Publish(context.Background(), "key", events.RecordDeleted{}))
	require.NoError(t, bus.Subscribe(context.Background()))
	assert.NotEmpty(t, bus.GenerateID())
	require.NoError(t, bus.Close())
}

func TestWatermillEventBus_HandleWhileDelivering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, _ := newTestBus(t)
	require.NoError(t, bus.Subscribe(ctx))

	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := range 20 {
			_ = bus.Publish(ctx, "record-1", events.RecordDeleted{
				BaseEvent: events.NewBaseEvent(events.RecordDeletedEvent, 3, "ada"),
				RecordID:  fmt.Sprintf("record-%d", i),
			})
		}
	}()

	delivered := make(chan string, 20)

	require.NoError(t, bus.Handle(events.RecordDeletedEvent, func(_ context.Context, event any) error {
		delivered <- event.(*events.RecordDeleted).RecordID

		return nil
	}))

	<-done

	require.NoError(t, bus.Publish(ctx, "record-last", events.RecordDeleted{
		BaseEvent: events.NewBaseEvent(events.RecordDeletedEvent, 3, "ada"),
		RecordID:  "record-last",
	}))

	require.Eventually(t, func() bool {
		for {
			select {
			case id := <-delivered:
				if id == "record-last" {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 20*time.Millisecond)
}
