package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPresenceTTL = 2 * time.Minute

type envelopeKind string

const (
	kindDeliver envelopeKind = "deliver"
	kindKick    envelopeKind = "kick"
	// kindEvict closes a connection that a newer one on another instance
	// replaced, without tearing down the user's queue or room.
	kindEvict envelopeKind = "evict"
)

// Envelope is what instances publish to each other.
type Envelope struct {
	Kind    envelopeKind    `json:"kind"`
	Origin  string          `json:"origin"`
	To      domain.UserID   `json:"to"`
	Message *domain.Message `json:"message,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
	// Trace carries the sender's trace context.
	Trace map[string]string `json:"trace,omitempty"`
}

// LocalSink is the instance's own connection table.
type LocalSink interface {
	DeliverLocal(user domain.UserID, msg domain.Message) error
	KickLocal(user domain.UserID) bool
	EvictLocal(user domain.UserID)
	ConnectedUsers() []domain.UserID
}

type BusMetrics interface {
	BusMessage(direction, outcome string)
}

type nopBusMetrics struct{}

func (nopBusMetrics) BusMessage(string, string) {}

// SignalBus routes server messages to users connected to other instances.
// Each instance subscribes to its own channel, and presence says which
// channel a user lives on.
type SignalBus struct {
	client     *redis.Client
	presence   *Presence
	channel    string
	instanceID string
	metrics    BusMetrics
	logger     *zap.SugaredLogger
}

func NewSignalBus(
	client *redis.Client,
	channel string,
	instanceID string,
	presenceTTL time.Duration,
	metrics BusMetrics,
	logger *zap.SugaredLogger,
) *SignalBus {
	if metrics == nil {
		metrics = nopBusMetrics{}
	}
	if presenceTTL <= 0 {
		presenceTTL = defaultPresenceTTL
	}
	return &SignalBus{
		client:     client,
		presence:   NewPresence(client, instanceID, presenceTTL),
		channel:    channel,
		instanceID: instanceID,
		metrics:    metrics,
		logger:     logger,
	}
}

func (b *SignalBus) InstanceID() string {
	return b.instanceID
}

func (b *SignalBus) instanceChannel(instance string) string {
	return b.channel + ":" + instance
}

// Register announces user on this instance. A connection for the same user
// on another instance is evicted.
func (b *SignalBus) Register(ctx context.Context, user domain.UserID) error {
	prev, err := b.presence.Register(ctx, user)
	if err != nil {
		return err
	}
	if prev != "" && prev != b.instanceID {
		b.logger.Infow("user moved between instances", "user_id", user, "from", prev)
		return b.publish(ctx, prev, Envelope{Kind: kindEvict, To: user})
	}
	return nil
}

func (b *SignalBus) Unregister(ctx context.Context, user domain.UserID) error {
	return b.presence.Unregister(ctx, user)
}

// Forward sends msg to user through the instance holding it.
func (b *SignalBus) Forward(ctx context.Context, user domain.UserID, msg domain.Message) error {
	instance, err := b.remoteInstance(ctx, user)
	if err != nil {
		return err
	}
	return b.publish(ctx, instance, Envelope{Kind: kindDeliver, To: user, Message: &msg})
}

// ForwardKick asks the instance holding user to close its connection. It
// reports whether such an instance was found.
func (b *SignalBus) ForwardKick(ctx context.Context, user domain.UserID) (bool, error) {
	instance, err := b.remoteInstance(ctx, user)
	if err != nil {
		if errors.Is(err, ErrNotPresent) {
			return false, nil
		}
		return false, err
	}
	if err := b.publish(ctx, instance, Envelope{Kind: kindKick, To: user}); err != nil {
		return false, err
	}
	return true, nil
}

func (b *SignalBus) remoteInstance(ctx context.Context, user domain.UserID) (string, error) {
	instance, err := b.presence.Locate(ctx, user)
	if err != nil {
		return "", err
	}
	// A stale entry for this instance means the local connection is gone.
	if instance == b.instanceID {
		return "", ErrNotPresent
	}
	return instance, nil
}

func (b *SignalBus) publish(ctx context.Context, instance string, env Envelope) error {
	ctx, span := tracing.TraceBusEnvelope(ctx, "publish", string(env.Kind), string(env.To), instance)
	defer span.End()

	env.Origin = b.instanceID
	env.SentAt = time.Now()
	env.Trace = tracing.Inject(ctx)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	receivers, err := b.client.Publish(ctx, b.instanceChannel(instance), data).Result()
	if err != nil {
		b.metrics.BusMessage("out", "error")
		err = fmt.Errorf("failed to publish envelope: %w", err)
		tracing.RecordError(ctx, err)
		return err
	}
	if receivers == 0 {
		b.metrics.BusMessage("out", "no_receiver")
		err = fmt.Errorf("%w: instance %s is not listening", ErrNotPresent, instance)
		tracing.RecordError(ctx, err)
		return err
	}
	b.metrics.BusMessage("out", "published")
	b.logger.Debugw("published envelope", "kind", env.Kind, "to", env.To, "instance", instance)
	return nil
}

// Run subscribes to this instance's channel and keeps presence fresh until
// ctx is done.
func (b *SignalBus) Run(ctx context.Context, sink LocalSink) error {
	pubsub := b.client.Subscribe(ctx, b.instanceChannel(b.instanceID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	b.logger.Infow("signal bus subscribed", "instance_id", b.instanceID)

	refresh := time.NewTicker(b.presence.ttl / 3)
	defer refresh.Stop()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-refresh.C:
			if err := b.presence.Refresh(ctx, sink.ConnectedUsers()); err != nil {
				b.logger.Warnw("failed to refresh presence", "error", err)
			}

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("signal bus subscription closed")
			}
			b.handle(sink, msg.Payload)
		}
	}
}

func (b *SignalBus) handle(sink LocalSink, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.metrics.BusMessage("in", "malformed")
		b.logger.Warnw("failed to unmarshal envelope", "error", err)
		return
	}

	ctx := tracing.Extract(context.Background(), env.Trace)
	ctx, span := tracing.TraceBusEnvelope(ctx, "receive", string(env.Kind), string(env.To), env.Origin)
	defer span.End()

	switch env.Kind {
	case kindDeliver:
		if env.Message == nil {
			b.metrics.BusMessage("in", "malformed")
			return
		}
		if err := sink.DeliverLocal(env.To, *env.Message); err != nil {
			tracing.RecordError(ctx, err)
			b.metrics.BusMessage("in", "undeliverable")
			b.logger.Debugw("forwarded message not delivered", "user_id", env.To, "origin", env.Origin, "error", err)
			return
		}
	case kindKick:
		sink.KickLocal(env.To)
	case kindEvict:
		sink.EvictLocal(env.To)
	default:
		b.metrics.BusMessage("in", "malformed")
		b.logger.Warnw("unknown envelope kind", "kind", env.Kind, "origin", env.Origin)
		return
	}
	b.metrics.BusMessage("in", "delivered")
}
