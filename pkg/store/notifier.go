package store

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Notifier carries "log changed" signals between writers and subscribers of
// a persistent store. The payload is the id of the appended record; readers
// re-query the log rather than trusting the message.
type Notifier struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closers []func() error
}

// NewLocalNotifier returns an in-process notifier. Writers and readers must
// share the same *Notifier.
func NewLocalNotifier(logger *slog.Logger) *Notifier {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 16,
	}, watermillLogger(logger))
	return &Notifier{
		Publisher:  pubsub,
		Subscriber: pubsub,
		closers:    []func() error{pubsub.Close},
	}
}

// RedisSettings configures a Redis Streams notifier.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisNotifier returns a notifier backed by Redis Streams so several
// processes writing the same log see each other's appends. Every subscriber
// reads the stream in fan-out mode.
func NewRedisNotifier(s RedisSettings, logger *slog.Logger) (*Notifier, error) {
	if s.Addr == "" {
		return nil, errors.New("redis notifier: empty address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})
	wlog := watermillLogger(logger)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wlog)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis notifier: publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaler,
		Consumer:     "parley-" + uuid.NewString(),
	}, wlog)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis notifier: subscriber")
	}

	return &Notifier{
		Publisher:  pub,
		Subscriber: sub,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

// Close shuts the publisher, subscriber and any client they own.
func (n *Notifier) Close() error {
	var first error
	for _, c := range n.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	n.closers = nil
	return first
}

func (n *Notifier) publish(topic, remoteID string) error {
	msg := message.NewMessage(watermill.NewUUID(), []byte(remoteID))
	return n.Publisher.Publish(topic, msg)
}

// Topic returns the notification topic, also the Redis stream key, for a
// conversation.
func Topic(conversationID string) string {
	return "parley:transcript:" + conversationID
}

func watermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	if logger == nil {
		return watermill.NopLogger{}
	}
	return watermill.NewSlogLogger(logger.With("component", "store.notifier"))
}
