package worker

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/dispute-service/internal/config"
	"github.com/spec-kit/dispute-service/internal/events"
	"github.com/spec-kit/dispute-service/internal/service"
)

type channelRecorder struct {
	channels []string
}

func (r *channelRecorder) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	r.channels = append(r.channels, channel)
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	cmd.SetVal(1)
	return cmd
}

func TestStartNotificationWorkerSubscribes(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	recorder := &channelRecorder{}
	svc := service.NewNotificationService(dispatcher, recorder, nil, nil, config.NotificationConfig{ChannelPrefix: "n:"})

	StartNotificationWorker(svc, zap.NewNop())

	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{
		Type:    events.EventNotifyCreated,
		Payload: events.NotifyCreatedPayload{RecipientIDs: []int64{4}},
	}))
	assert.Equal(t, []string{"n:4"}, recorder.channels)
}

func TestStartNotificationWorkerWithoutService(t *testing.T) {
	assert.NotPanics(t, func() { StartNotificationWorker(nil, nil) })
}
