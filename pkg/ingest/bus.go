// Package ingest moves archived messages from producers (archiver, poller)
// into the message store over a watermill topic and tells listeners about
// every stored message.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
	"github.com/go-go-golems/chat-archive/pkg/groupme"
	"github.com/go-go-golems/chat-archive/pkg/persistence/chatstore"
	"github.com/go-go-golems/chat-archive/pkg/redisstream"
)

const Topic = "chat.messages"

// CloseTimeout bounds how long Close waits for handlers in flight.
const CloseTimeout = 5 * time.Second

// Listener is called after a message has been stored.
type Listener func(m chatlog.Message)

type Config struct {
	// Store persists consumed messages. A nil store makes the bus
	// publish-only, which requires the Redis transport.
	Store  chatstore.MessageStore
	Redis  redisstream.Settings
	Logger watermill.LoggerAdapter
}

type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	router *message.Router
	store  chatstore.MessageStore

	mu        sync.RWMutex
	listeners []Listener

	running   chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
}

var _ groupme.Sink = &Bus{}

func NewBus(cfg Config) (*Bus, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	b := &Bus{store: cfg.Store, running: make(chan struct{})}

	switch {
	case cfg.Redis.Enabled:
		pub, err := redisstream.BuildPublisher(cfg.Redis, logger)
		if err != nil {
			return nil, errors.Wrap(err, "ingest: redis publisher")
		}
		b.pub = pub
		if cfg.Store != nil {
			sub, err := redisstream.BuildSubscriber(cfg.Redis, logger)
			if err != nil {
				_ = pub.Close()
				return nil, errors.Wrap(err, "ingest: redis subscriber")
			}
			b.sub = sub
		}
	case cfg.Store == nil:
		return nil, errors.New("ingest: in-memory bus needs a store")
	default:
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		b.pub, b.sub = ch, ch
	}

	if b.sub != nil {
		router, err := message.NewRouter(message.RouterConfig{CloseTimeout: CloseTimeout}, logger)
		if err != nil {
			_ = b.Close()
			return nil, errors.Wrap(err, "ingest: router")
		}
		router.AddNoPublisherHandler("store-messages", Topic, b.sub, b.handle)
		b.router = router
	}
	return b, nil
}

// OnStored registers l for every stored message.
func (b *Bus) OnStored(l Listener) {
	if b == nil || l == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// Deliver publishes m. On the in-memory transport it returns once the
// message has been handled; call it only after Running is closed.
func (b *Bus) Deliver(_ context.Context, m chatlog.Message) error {
	if b == nil || b.pub == nil {
		return errors.New("ingest: bus is not initialized")
	}
	if m.ID == "" {
		return chatlog.ErrEmptyID
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "ingest: marshal message")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("message_id", m.ID)
	return b.pub.Publish(Topic, msg)
}

// Run blocks until ctx is done or the router fails.
func (b *Bus) Run(ctx context.Context) error {
	if b.router == nil {
		close(b.running)
		<-ctx.Done()
		return nil
	}
	b.started.Store(true)
	go func() {
		select {
		case <-b.router.Running():
			close(b.running)
		case <-ctx.Done():
		}
	}()
	return b.router.Run(ctx)
}

// Running is closed once consumers are subscribed.
func (b *Bus) Running() <-chan struct{} {
	return b.running
}

// Close releases the transports. A router that never ran has nothing to
// drain and is left alone.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.router != nil && b.started.Load() {
			if cerr := b.router.Close(); cerr != nil {
				err = cerr
			}
		}
		if b.pub != nil {
			if cerr := b.pub.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if b.sub != nil && any(b.sub) != any(b.pub) {
			if cerr := b.sub.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// handle stores one message. Undecodable payloads and store failures are
// logged and acked so a bad message is not redelivered forever.
func (b *Bus) handle(msg *message.Message) error {
	var m chatlog.Message
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		log.Warn().Err(err).Str("uuid", msg.UUID).Msg("dropping undecodable message")
		return nil
	}
	if err := b.store.SaveMessage(msg.Context(), m); err != nil {
		log.Error().Err(err).Str("message_id", m.ID).Msg("failed to store message")
		return nil
	}
	b.notify(m)
	return nil
}

func (b *Bus) notify(m chatlog.Message) {
	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.RUnlock()
	for _, l := range listeners {
		l(m)
	}
}
