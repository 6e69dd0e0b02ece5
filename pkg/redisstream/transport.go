package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BuildPublisher returns a Redis Streams publisher for s.
func BuildPublisher(s Settings, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if !s.Enabled {
		return nil, errors.New("redis transport is disabled")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	return rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
}

// BuildSubscriber returns a Redis Streams subscriber bound to the settings'
// consumer group and name.
func BuildSubscriber(s Settings, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if !s.Enabled {
		return nil, errors.New("redis transport is disabled")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	return rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
}

const (
	// FromStart makes a new consumer group read the whole stream.
	FromStart = "0"
	// FromTail makes a new consumer group read only entries added later.
	FromTail = "$"
)

// EnsureGroup creates the settings' consumer group on stream at start if it
// does not exist yet. An existing group keeps its position.
func EnsureGroup(ctx context.Context, s Settings, stream, start string) error {
	if !s.Enabled {
		return errors.New("redis transport is disabled")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, s.Group, start).Err()
	if err != nil {
		if isBusyGroup(err) {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", s.Group, stream)
	}
	log.Info().Str("stream", stream).Str("group", s.Group).Str("start", start).Msg("created redis consumer group")
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
