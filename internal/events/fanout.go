// Package events is the fan-out path: every ticket/message mutation is
// published here and delivered, best effort, to the connected viewers.
package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event actions.
const (
	ActionUpdate = "update"

	// ActionDeleteLastMessage retracts a stale "last message" preview in the
	// ticket list. Emitted to the tenant topic strictly before the update it
	// precedes, and only when the previous state had lastMessageFromMe set.
	ActionDeleteLastMessage = "deleteLastMessage"
)

// Event is what subscribers receive. Exactly one of Ticket, TicketID or
// Message is set depending on the action.
type Event struct {
	Action   string `json:"action"`
	Ticket   any    `json:"ticket,omitempty"`
	TicketID int64  `json:"ticketId,omitempty"`
	Message  any    `json:"message,omitempty"`
}

// Topic helpers. Topic strings are the routing key of the whole fan-out
// path — the websocket hub, the Redis relay and the publishers all agree on
// these formats.
func TenantTopic(tenantID uuid.UUID) string { return "ticket:" + tenantID.String() }
func StatusTopic(status string) string      { return "status:" + status }
func TicketDetailTopic(ticketID int64) string {
	return fmt.Sprintf("ticket-detail:%d", ticketID)
}

// NotificationTopic is joined by agents watching for new pending tickets.
const NotificationTopic = "notification"

// Publisher is what the routing core sees: fire-and-forget topic publish.
type Publisher interface {
	Publish(topics []string, ev Event)
}

// Sink receives marshaled events from the dispatcher. The hub and the Redis
// relay are sinks.
type Sink interface {
	Deliver(topic string, payload []byte)
}

type envelope struct {
	topics []string
	ev     Event
}

// Fanout decouples publishing from delivery: Publish enqueues and returns
// immediately, a single dispatcher goroutine drains the queue in order.
// One dispatcher means events published back-to-back by one request (the
// deleteLastMessage/update pair) reach every sink in publish order.
//
// Delivery is at-most-once. When the queue is full the event is dropped and
// counted — a live dashboard wants the next event, not a blocked request.
type Fanout struct {
	logger *zap.Logger
	sinks  []Sink
	queue  chan envelope

	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// NewFanout starts the dispatcher. queueSize bounds how far delivery may lag
// behind publishing before events are shed.
func NewFanout(queueSize int, logger *zap.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{
		logger: logger,
		sinks:  sinks,
		queue:  make(chan envelope, queueSize),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Publish enqueues ev for the given topics. Never blocks: a full queue drops
// the event rather than stalling the request that produced it. A publish
// after (or racing) Close is dropped the same way — the enqueue happens
// under the mutex Close uses to flip closed, so it can never hit the closed
// channel.
func (f *Fanout) Publish(topics []string, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	select {
	case f.queue <- envelope{topics: topics, ev: ev}:
	default:
		f.dropped++
		f.logger.Warn("fanout queue full, event dropped",
			zap.String("action", ev.Action),
			zap.Int64("total_dropped", f.dropped),
		)
	}
}

func (f *Fanout) run() {
	defer close(f.done)
	for env := range f.queue {
		payload, err := json.Marshal(env.ev)
		if err != nil {
			f.logger.Error("marshal event", zap.Error(err))
			continue
		}
		for _, topic := range env.topics {
			for _, sink := range f.sinks {
				sink.Deliver(topic, payload)
			}
		}
	}
}

// Close stops accepting events and waits for the queue to drain.
func (f *Fanout) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.queue)
	})
	<-f.done
}

// Dropped reports how many events were shed since start.
func (f *Fanout) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
