package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/remedial/internal/model"
)

func sampleRun() model.DispatchRun {
	return model.DispatchRun{
		ID:      "run-1",
		Channel: "console",
		Outcomes: []model.Outcome{
			{StudentID: "s1", Name: "Asha", Address: "asha@example.edu", Status: model.OutcomeSent},
			{StudentID: "s2", Name: "Bharath", Status: model.OutcomeSkippedNoAddress},
		},
	}
}

func TestPublishRunToRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "remedial.outcomes")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	pub := New(client, "remedial.outcomes", nil, "")
	require.True(t, pub.Enabled())
	require.NoError(t, pub.PublishRun(ctx, sampleRun()))

	var got []Event
	for range 3 {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		got = append(got, ev)
	}

	assert.Equal(t, KindOutcome, got[0].Kind)
	require.NotNil(t, got[0].Outcome)
	assert.Equal(t, "s1", got[0].Outcome.StudentID)
	assert.Equal(t, model.OutcomeSkippedNoAddress, got[1].Outcome.Status)
	assert.Equal(t, KindRun, got[2].Kind)
	assert.Equal(t, "run-1", got[2].RunID)
	assert.Equal(t, 1, got[2].Counts[model.OutcomeSent])
}

func TestDisabledPublisherIsNoop(t *testing.T) {
	var nilPub *Publisher
	assert.False(t, nilPub.Enabled())
	assert.NoError(t, nilPub.PublishRun(context.Background(), sampleRun()))
	nilPub.Close()

	empty := New(nil, "", nil, "")
	assert.False(t, empty.Enabled())
	assert.NoError(t, empty.PublishRun(context.Background(), sampleRun()))
}

func TestConnectRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	pub, err := Connect(context.Background(), Config{RedisURL: "redis://" + server.Addr(), RedisChannel: "c"})
	require.NoError(t, err)
	defer pub.Close()
	assert.True(t, pub.Enabled())

	_, err = Connect(context.Background(), Config{RedisURL: "://bad"})
	assert.Error(t, err)
}
