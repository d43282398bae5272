// Package runtime is a single-process topic dispatcher. Every topic has one
// registered handler factory; published messages are queued in memory and
// delivered one at a time, in publish order, until nothing is left in flight.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"umlgen/internal/infrastructure/metrics"
	"umlgen/internal/logging"
	"umlgen/internal/streaming"
)

var (
	ErrTopicRegistered   = errors.New("topic already registered")
	ErrNoSubscriber      = errors.New("no handler registered for topic")
	ErrRuntimeClosed     = errors.New("runtime is closed")
	ErrUnexpectedPayload = errors.New("unexpected payload")
)

type Topic string

const (
	TopicGenerator Topic = "UmlGeneratorAgent"
	TopicCritic    Topic = "UmlCriticAgent"
	TopicRenderer  Topic = "UmlRendererAgent"
	TopicResult    Topic = "UmlResult"
)

// Envelope wraps a payload on its way to a topic handler.
type Envelope struct {
	ID      string
	Topic   Topic
	Source  string
	RunID   string
	Payload any
	SentAt  time.Time
}

type Publisher interface {
	Publish(ctx context.Context, topic Topic, payload any) error
}

type Handler interface {
	Handle(ctx context.Context, msg Envelope, pub Publisher) error
}

type HandlerFunc func(ctx context.Context, msg Envelope, pub Publisher) error

func (f HandlerFunc) Handle(ctx context.Context, msg Envelope, pub Publisher) error {
	return f(ctx, msg, pub)
}

// Factory builds the handler instance of a topic on first delivery.
type Factory func() Handler

type Runtime struct {
	runID  string
	hub    streaming.EventHub
	logger *slog.Logger

	mu        sync.Mutex
	factories map[Topic]Factory
	instances map[Topic]Handler
	queue     []Envelope
	closed    bool
}

func New(runID string, hub streaming.EventHub, logger *slog.Logger) *Runtime {
	if hub == nil {
		hub = streaming.Nop{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runtime{
		runID:     runID,
		hub:       hub,
		logger:    logger.With("component", "runtime"),
		factories: make(map[Topic]Factory),
		instances: make(map[Topic]Handler),
	}
}

func (r *Runtime) RunID() string {
	return r.runID
}

func (r *Runtime) Register(topic Topic, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("register %s: nil factory", topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRuntimeClosed
	}
	if _, exists := r.factories[topic]; exists {
		return fmt.Errorf("%w: %s", ErrTopicRegistered, topic)
	}
	r.factories[topic] = factory
	return nil
}

// Publish enqueues payload for topic. Messages published from outside a
// handler carry the source "external".
func (r *Runtime) Publish(ctx context.Context, topic Topic, payload any) error {
	return r.publish(ctx, "external", topic, payload)
}

func (r *Runtime) publish(ctx context.Context, source string, topic Topic, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRuntimeClosed
	}
	if _, ok := r.factories[topic]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSubscriber, topic)
	}

	r.queue = append(r.queue, Envelope{
		ID:      uuid.NewString(),
		Topic:   topic,
		Source:  source,
		RunID:   r.runID,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
	return nil
}

// Pending reports how many messages are queued.
func (r *Runtime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Run delivers queued messages until the queue is empty. Handler failures do
// not stop the drain; they are joined into the returned error.
func (r *Runtime) Run(ctx context.Context) error {
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		env, handler, ok, err := r.next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			return errors.Join(errs...)
		}

		if err := r.deliver(ctx, env, handler); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", env.Topic, err))
		}
	}
}

// StopWhenIdle drains the queue and then closes the runtime.
func (r *Runtime) StopWhenIdle(ctx context.Context) error {
	err := r.Run(ctx)
	r.Close()
	return err
}

func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.queue = nil
}

func (r *Runtime) next() (Envelope, Handler, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return Envelope{}, nil, false, nil
	}
	env := r.queue[0]
	r.queue = r.queue[1:]

	handler, ok := r.instances[env.Topic]
	if !ok {
		factory := r.factories[env.Topic]
		handler = factory()
		if handler == nil {
			return env, nil, true, fmt.Errorf("%s: factory returned nil handler", env.Topic)
		}
		r.instances[env.Topic] = handler
	}
	return env, handler, true, nil
}

func (r *Runtime) deliver(ctx context.Context, env Envelope, handler Handler) (err error) {
	hctx := logging.WithAgent(logging.WithRunID(ctx, r.runID), string(env.Topic))
	pub := &scopedPublisher{runtime: r, source: string(env.Topic)}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
		r.afterDelivery(hctx, env, err)
	}()

	r.logger.DebugContext(hctx, "delivering message", "message_id", env.ID, "source", env.Source)
	return handler.Handle(hctx, env, pub)
}

func (r *Runtime) afterDelivery(ctx context.Context, env Envelope, err error) {
	event := streaming.Event{
		RunID:     r.runID,
		Topic:     string(env.Topic),
		EventType: streaming.EventMessageDelivered,
	}
	if err != nil {
		metrics.IncMessageDelivered(string(env.Topic), "error")
		metrics.IncError("runtime", "handler")
		r.logger.ErrorContext(ctx, "handler failed", "message_id", env.ID, "err", err)
		event.EventType = streaming.EventMessageFailed
		event.Payload = map[string]string{"error": err.Error()}
	} else {
		metrics.IncMessageDelivered(string(env.Topic), "ok")
	}
	_ = r.hub.Publish(context.WithoutCancel(ctx), event)
}

// scopedPublisher stamps messages published by a handler with its topic.
type scopedPublisher struct {
	runtime *Runtime
	source  string
}

func (p *scopedPublisher) Publish(ctx context.Context, topic Topic, payload any) error {
	return p.runtime.publish(ctx, p.source, topic, payload)
}

// UnexpectedPayload builds the error returned by handlers that receive a
// payload type they do not understand.
func UnexpectedPayload(topic Topic, payload any) error {
	return fmt.Errorf("%w on %s: %T", ErrUnexpectedPayload, topic, payload)
}
