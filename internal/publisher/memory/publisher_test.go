package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "jobs", scrape.JobEvent{JobID: "a", State: scrape.JobStateCompleted})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "jobs", msgs[0].Topic)
	require.JSONEq(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Topic = "modified"
	require.Equal(t, "jobs", pub.Messages()[0].Topic)

	events, err := pub.Events("jobs")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "a", events[0].JobID)
	require.Equal(t, scrape.JobStateCompleted, events[0].State)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "jobs", make(chan int))
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}
