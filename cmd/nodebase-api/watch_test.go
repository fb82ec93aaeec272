package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/nodebase/pkg/cmd"
	"github.com/dukex/nodebase/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestWatchRecordEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := cmd.NewEventBus(cmd.EventBusGoChannel, "", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	out := &lockedBuffer{}
	require.NoError(t, watchRecordEvents(ctx, bus, out, 42))

	require.NoError(t, bus.Publish(ctx, "r-other", events.RecordDeleted{
		BaseEvent: events.NewBaseEvent(events.RecordDeletedEvent, 7, "ada"),
		RecordID:  "r-other",
	}))
	require.NoError(t, bus.Publish(ctx, "r1", events.RecordUpserted{
		BaseEvent:       events.NewBaseEvent(events.RecordUpsertedEvent, 42, "ada"),
		RecordID:        "r1",
		SchemaVersionID: "v1",
	}))
	require.NoError(t, bus.Publish(ctx, "r1", events.RecordDeleted{
		BaseEvent: events.NewBaseEvent(events.RecordDeletedEvent, 42, "ada"),
		RecordID:  "r1",
	}))

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "\n") == 2
	}, 5*time.Second, 20*time.Millisecond)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Contains(t, lines[0], `"type":"record.upserted"`)
	assert.Contains(t, lines[0], `"record_id":"r1"`)
	assert.Contains(t, lines[1], `"type":"record.deleted"`)
	assert.NotContains(t, out.String(), "r-other", "other organizations are skipped")
}

func TestWatchCommand_RequiresAnEventBus(t *testing.T) {
	err := WatchCommand().Run(context.Background(), []string{"watch", "--event-bus", cmd.EventBusNone})
	require.ErrorIs(t, err, errNothingToWatch)
}
