package eventbus

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus/rpc"
)

type Channel string

const (
	// ClientMessages channels are per participant; the server publishes
	// directed events (invitations, position updates, answers) there.
	ClientMessages Channel = "client_messages"
	// ServerMessages is the single channel the authoritative orchestrator
	// consumes. A single consumer is what serializes queue mutations.
	ServerMessages Channel = "server_messages"
)

func (c Channel) forParticipant(id core.ParticipantID) string {
	return string(c) + ":" + string(id)
}

// ServerMessage is the envelope of everything sent to the server channel:
// the sender's identity plus the raw RPC.
type ServerMessage struct {
	UserID  core.ParticipantID `json:"user_id"`
	Message json.RawMessage    `json:"rpc"`
}

type Publisher interface {
	PublishClient(id core.ParticipantID, rpc rpc.Rpc) error
	PublishServer(id core.ParticipantID, rpc rpc.Rpc) error
}

type Subscriber interface {
	SubscribeClient(id core.ParticipantID) (Bus, error)
	SubscribeServer() (Bus, error)
}

// Bus is one subscription's message stream.
type Bus interface {
	Channel() <-chan *redis.Message
	Close() error
}

type Eventbus struct {
	rdb *redis.Client
}

// RedisPubSub builds an Eventbus on top of redis pub/sub.
func RedisPubSub(rdb *redis.Client) *Eventbus {
	return &Eventbus{rdb: rdb}
}

func (e *Eventbus) PublishClient(id core.ParticipantID, r rpc.Rpc) error {
	msg, err := r.ToJSON()
	if err != nil {
		return err
	}
	return e.rdb.Publish(context.Background(), ClientMessages.forParticipant(id), msg).Err()
}

func (e *Eventbus) PublishServer(id core.ParticipantID, r rpc.Rpc) error {
	raw, err := r.ToJSON()
	if err != nil {
		return err
	}

	msg, err := json.Marshal(&ServerMessage{UserID: id, Message: raw})
	if err != nil {
		return err
	}

	return e.rdb.Publish(context.Background(), string(ServerMessages), msg).Err()
}

func (e *Eventbus) SubscribeClient(id core.ParticipantID) (Bus, error) {
	return e.subscribe(ClientMessages.forParticipant(id))
}

func (e *Eventbus) SubscribeServer() (Bus, error) {
	return e.subscribe(string(ServerMessages))
}

func (e *Eventbus) subscribe(channel string) (Bus, error) {
	ctx := context.Background()
	pubsub := e.rdb.Subscribe(ctx, channel)
	// Wait until the subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	return &Subscription{pubsub: pubsub}, nil
}

type Subscription struct {
	pubsub *redis.PubSub
}

func (s *Subscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
