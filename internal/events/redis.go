package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// relayChannel is the single Redis channel carrying all topics. The topic
// travels inside the envelope; fan-out to rooms happens at the receiving
// instance's hub, not in Redis.
const relayChannel = "ticketstream:events"

// relayEnvelope wraps an event for cross-instance delivery. InstanceID lets
// the publishing instance skip its own relay copy — local subscribers
// already got the event straight from the dispatcher.
type relayEnvelope struct {
	InstanceID string          `json:"instance_id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
}

// RedisRelay mirrors every published event to Redis so websocket clients
// connected to other instances see the same stream. Best effort, like the
// rest of the fan-out path: a publish failure is logged, never propagated.
type RedisRelay struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
}

func NewRedisRelay(client *redis.Client, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client:     client,
		logger:     logger,
		instanceID: uuid.NewString(),
	}
}

// Deliver implements Sink: it forwards the already-marshaled event to Redis.
func (r *RedisRelay) Deliver(topic string, payload []byte) {
	env := relayEnvelope{
		InstanceID: r.instanceID,
		Topic:      topic,
		Payload:    payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("marshal relay envelope", zap.Error(err))
		return
	}
	if err := r.client.Publish(context.Background(), relayChannel, data).Err(); err != nil {
		r.logger.Warn("relay publish failed",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// Subscribe feeds events relayed by other instances into handler. Blocks
// until ctx is cancelled; run it in its own goroutine.
func (r *RedisRelay) Subscribe(ctx context.Context, handler func(topic string, payload []byte)) error {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("bad relay envelope", zap.Error(err))
				continue
			}
			if env.InstanceID == r.instanceID {
				continue
			}
			handler(env.Topic, env.Payload)
		}
	}
}
