package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeServer(t *testing.T) (*pstest.Server, option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, option.WithGRPCConn(conn)
}

func TestPublisherPublish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, opt := newFakeServer(t)

	pub, err := Dial(ctx, "proj", "runs", opt)
	require.NoError(t, err)
	_, err = pub.client.CreateTopic(ctx, "runs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "run.completed", map[string]any{"records": 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run.completed", msgs[0].Attributes["event"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	require.InDelta(t, 3, body["records"], 0)
}

func TestPublisherUnconfigured(t *testing.T) {
	t.Parallel()
	var pub *Publisher
	_, err := pub.Publish(context.Background(), "x", 1)
	require.Error(t, err)
	require.NoError(t, pub.Close())
}

func TestDialRequiresIDs(t *testing.T) {
	t.Parallel()
	_, err := Dial(context.Background(), "", "topic")
	require.Error(t, err)
}
