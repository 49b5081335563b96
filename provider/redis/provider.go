// Package redis provides an identity provider fed by Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	auth "github.com/resmoai/resmo-auth"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "resmo:identity"

// Notification is the wire format of an identity change. A nil Identity
// means signed out.
type Notification struct {
	Identity *auth.AccountIdentity `json:"identity"`
	SentAt   time.Time             `json:"sent_at,omitempty"`
}

// Encode serializes an identity change.
func Encode(identity auth.Identity, sentAt time.Time) ([]byte, error) {
	n := Notification{SentAt: sentAt.UTC()}
	if account, ok := auth.IdentityFrom(identity); ok {
		n.Identity = &account
	}
	return json.Marshal(n)
}

// Decode parses a notification payload. It returns a nil Identity for a
// signed out notification.
func Decode(payload []byte) (auth.Identity, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode identity notification")
	}
	if n.Identity == nil {
		return nil, nil
	}
	if n.Identity.UID == "" {
		return nil, goerrors.New("identity notification without uid", goerrors.CategoryBadInput)
	}
	return *n.Identity, nil
}

// Option customizes Provider and Publisher.
type Option func(*options)

type options struct {
	channel string
	logger  auth.Logger
	now     func() time.Time
}

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(o *options) {
		if channel != "" {
			o.channel = channel
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		channel: DefaultChannel,
		logger:  auth.DefaultLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func currentKey(channel string) string {
	return channel + ":current"
}

// Provider implements auth.IdentityProvider over a Redis channel. The last
// published notification is kept under "<channel>:current" and delivered
// first to new subscribers.
type Provider struct {
	client redis.UniversalClient
	opts   options
}

var _ auth.IdentityProvider = (*Provider)(nil)

// NewProvider creates a Redis backed identity provider.
func NewProvider(client redis.UniversalClient, opts ...Option) *Provider {
	return &Provider{client: client, opts: buildOptions(opts)}
}

// Subscribe implements auth.IdentityProvider.
func (p *Provider) Subscribe(ctx context.Context, listener auth.IdentityListener) (auth.Subscription, error) {
	if listener == nil {
		return nil, goerrors.New("listener is required", goerrors.CategoryBadInput)
	}

	pubsub := p.client.Subscribe(ctx, p.opts.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to subscribe to redis channel").
			WithMetadata(map[string]any{"channel": p.opts.channel})
	}

	initial, err := p.current(ctx)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	messages := pubsub.Channel()
	done := make(chan struct{})
	var once sync.Once

	go func() {
		listener(initial)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				identity, err := Decode([]byte(msg.Payload))
				if err != nil {
					p.opts.logger.Warn("skipping identity notification on %s: %v", msg.Channel, err)
					continue
				}
				listener(identity)
			}
		}
	}()

	return auth.SubscriptionFunc(func() {
		once.Do(func() {
			close(done)
			if err := pubsub.Close(); err != nil {
				p.opts.logger.Warn("redis unsubscribe: %v", err)
			}
		})
	}), nil
}

func (p *Provider) current(ctx context.Context) (auth.Identity, error) {
	data, err := p.client.Get(ctx, currentKey(p.opts.channel)).Result()
	if err != nil {
		if goerrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load current identity")
	}

	identity, err := Decode([]byte(data))
	if err != nil {
		p.opts.logger.Warn("ignoring stored identity: %v", err)
		return nil, nil
	}
	return identity, nil
}

// Publisher writes identity changes for Provider subscribers.
type Publisher struct {
	client redis.UniversalClient
	opts   options
}

// NewPublisher creates a publisher on the same channel conventions.
func NewPublisher(client redis.UniversalClient, opts ...Option) *Publisher {
	return &Publisher{client: client, opts: buildOptions(opts)}
}

// Publish stores identity as the current one and notifies subscribers.
// Pass nil to publish a sign out.
func (p *Publisher) Publish(ctx context.Context, identity auth.Identity) error {
	data, err := Encode(identity, p.opts.now())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode identity notification")
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, currentKey(p.opts.channel), data, 0)
	pipe.Publish(ctx, p.opts.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to publish identity").
			WithMetadata(map[string]any{"channel": p.opts.channel})
	}
	return nil
}
