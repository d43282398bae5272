package runtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umlgen/internal/logging"
	"umlgen/internal/runtime"
	"umlgen/internal/streaming"
)

func TestRegister_Duplicate(t *testing.T) {
	rt := runtime.New("run-1", nil, nil)
	noop := func() runtime.Handler {
		return runtime.HandlerFunc(func(context.Context, runtime.Envelope, runtime.Publisher) error { return nil })
	}

	require.NoError(t, rt.Register(runtime.TopicGenerator, noop))
	err := rt.Register(runtime.TopicGenerator, noop)
	assert.ErrorIs(t, err, runtime.ErrTopicRegistered)
	assert.Error(t, rt.Register(runtime.TopicCritic, nil))
}

func TestPublish_NoSubscriber(t *testing.T) {
	rt := runtime.New("run-1", nil, nil)
	err := rt.Publish(context.Background(), runtime.TopicCritic, "draft")
	assert.ErrorIs(t, err, runtime.ErrNoSubscriber)
	assert.Zero(t, rt.Pending())
}

func TestRun_ChainsTopicsInOrder(t *testing.T) {
	rt := runtime.New("run-1", nil, nil)
	var seen []string

	require.NoError(t, rt.Register("a", func() runtime.Handler {
		return runtime.HandlerFunc(func(ctx context.Context, msg runtime.Envelope, pub runtime.Publisher) error {
			seen = append(seen, "a:"+msg.Payload.(string))
			return pub.Publish(ctx, "b", msg.Payload.(string)+"!")
		})
	}))
	require.NoError(t, rt.Register("b", func() runtime.Handler {
		return runtime.HandlerFunc(func(ctx context.Context, msg runtime.Envelope, _ runtime.Publisher) error {
			assert.Equal(t, "a", msg.Source)
			assert.Equal(t, "run-1", msg.RunID)
			assert.Equal(t, "run-1", logging.RunID(ctx))
			assert.Equal(t, "b", logging.Agent(ctx))
			seen = append(seen, "b:"+msg.Payload.(string))
			return nil
		})
	}))

	ctx := context.Background()
	require.NoError(t, rt.Publish(ctx, "a", "x"))
	require.NoError(t, rt.Publish(ctx, "a", "y"))
	require.NoError(t, rt.Run(ctx))

	assert.Equal(t, []string{"a:x", "a:y", "b:x!", "b:y!"}, seen)
	assert.Zero(t, rt.Pending())
}

func TestRun_FactoryCalledOncePerTopic(t *testing.T) {
	rt := runtime.New("run-1", nil, nil)
	built := 0
	require.NoError(t, rt.Register("a", func() runtime.Handler {
		built++
		return runtime.HandlerFunc(func(context.Context, runtime.Envelope, runtime.Publisher) error { return nil })
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rt.Publish(ctx, "a", i))
	}
	require.NoError(t, rt.Run(ctx))
	assert.Equal(t, 1, built)
}

func TestRun_HandlerErrorsAreJoinedAndDrainContinues(t *testing.T) {
	hub := streaming.NewMemoryHub()
	events, cancel, err := hub.Subscribe(context.Background(), streaming.Filter{RunID: "run-9"})
	require.NoError(t, err)
	defer cancel()

	rt := runtime.New("run-9", hub, nil)
	boom := errors.New("boom")
	delivered := 0
	require.NoError(t, rt.Register("a", func() runtime.Handler {
		return runtime.HandlerFunc(func(_ context.Context, msg runtime.Envelope, _ runtime.Publisher) error {
			delivered++
			if msg.Payload == "bad" {
				return boom
			}
			return nil
		})
	}))

	ctx := context.Background()
	require.NoError(t, rt.Publish(ctx, "a", "bad"))
	require.NoError(t, rt.Publish(ctx, "a", "good"))

	err = rt.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, delivered)

	first := <-events
	second := <-events
	assert.Equal(t, streaming.EventMessageFailed, first.EventType)
	assert.Equal(t, streaming.EventMessageDelivered, second.EventType)
}

func TestRun_PanicBecomesError(t *testing.T) {
	rt := runtime.New("run-1", nil, nil)
	require.NoError(t, rt.Register("a", func() runtime.Handler {
		return runtime.HandlerFunc(func(context.Context, runtime.Envelope, runtime.Publisher) error {
			panic("kaboom")
		})
	}))
	require.NoError(t, rt.Publish(context.Background(), "a", nil))

	err := rt.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestRun_CanceledContext(t *testing.T) {
	rt := runtime.New("run-1", nil, nil)
	require.NoError(t, rt.Register("a", func() runtime.Handler {
		return runtime.HandlerFunc(func(context.Context, runtime.Envelope, runtime.Publisher) error { return nil })
	}))
	require.NoError(t, rt.Publish(context.Background(), "a", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	err := rt.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, rt.Pending())
}

func TestStopWhenIdle_Closes(t *testing.T) {
	rt := runtime.New("run-1", nil, nil)
	require.NoError(t, rt.Register("a", func() runtime.Handler {
		return runtime.HandlerFunc(func(context.Context, runtime.Envelope, runtime.Publisher) error { return nil })
	}))
	ctx := context.Background()
	require.NoError(t, rt.Publish(ctx, "a", nil))
	require.NoError(t, rt.StopWhenIdle(ctx))

	assert.ErrorIs(t, rt.Publish(ctx, "a", nil), runtime.ErrRuntimeClosed)
	assert.ErrorIs(t, rt.Register("b", func() runtime.Handler { return nil }), runtime.ErrRuntimeClosed)
}

func TestUnexpectedPayload(t *testing.T) {
	err := runtime.UnexpectedPayload(runtime.TopicCritic, 42)
	assert.ErrorIs(t, err, runtime.ErrUnexpectedPayload)
	assert.Contains(t, err.Error(), "int")
}
