// Package relay fans pushes out to the other server nodes over Kafka, so a
// user connected to any node receives events produced on any other.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Local delivers to connections held by this node.
type Local interface {
	EmitToUser(userID, event string, payload interface{}) bool
}

// Envelope is one relayed push.
type Envelope struct {
	Origin  string          `json:"origin"`
	UserID  string          `json:"user_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// maxAge is how old a relayed push may be and still be delivered. Anything
// older is caught up through history instead.
const maxAge = 10 * time.Second

// Relay is an Emitter that delivers locally and forwards the event to every
// other node. Forwarding is asynchronous and lossy under backpressure, like
// any other push.
type Relay struct {
	local  Local
	nodeID string
	writer messageWriter
	reader messageReader
	queue  chan kafka.Message
	now    func() time.Time
}

// New connects a relay to topic. Each start of a node reads with a fresh
// consumer group so every node sees every event and a restarted node does
// not replay what was published while it was down.
func New(brokers []string, topic, nodeID string, local Local) *Relay {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     fmt.Sprintf("chat-relay-%s-%d", nodeID, time.Now().UnixNano()),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})
	return newRelay(nodeID, local, writer, reader)
}

func newRelay(nodeID string, local Local, w messageWriter, r messageReader) *Relay {
	return &Relay{
		local:  local,
		nodeID: nodeID,
		writer: w,
		reader: r,
		queue:  make(chan kafka.Message, 1024),
		now:    time.Now,
	}
}

// EmitToUser reports local delivery only; remote nodes deliver on their own.
func (r *Relay) EmitToUser(userID, event string, payload interface{}) bool {
	delivered := r.local.EmitToUser(userID, event, payload)

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal relayed %s payload: %v", event, err)
		return delivered
	}
	value, err := json.Marshal(Envelope{Origin: r.nodeID, UserID: userID, Event: event, Payload: raw})
	if err != nil {
		log.Printf("Failed to marshal relay envelope: %v", err)
		return delivered
	}

	select {
	case r.queue <- kafka.Message{Key: []byte(userID), Value: value, Time: r.now()}:
	default:
		log.Printf("Relay queue full, dropping %s for %s", event, userID)
	}
	return delivered
}

// Run publishes queued envelopes and consumes remote ones until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	go r.publishLoop(ctx)
	r.consumeLoop(ctx)
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.queue:
			if err := r.writer.WriteMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Failed to write relay message to Kafka: %v", err)
			}
		}
	}
}

func (r *Relay) consumeLoop(ctx context.Context) {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Relay consumer error: %v. Retrying in 1s...", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r.handle(m)
	}
}

// handle delivers one envelope read from Kafka to local connections.
func (r *Relay) handle(m kafka.Message) bool {
	if !m.Time.IsZero() && r.now().Sub(m.Time) > maxAge {
		return false
	}
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Printf("Failed to unmarshal relay envelope: %v", err)
		return false
	}
	if env.Origin == r.nodeID || env.UserID == "" {
		return false
	}
	return r.local.EmitToUser(env.UserID, env.Event, env.Payload)
}

func (r *Relay) Close() error {
	return errors.Join(r.writer.Close(), r.reader.Close())
}
