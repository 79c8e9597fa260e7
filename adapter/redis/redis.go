// Package redis relays packet events over Redis pub/sub.
//
// Events go to one channel, or to a channel per connection when
// Config.ChannelPerConn is set ("<channel>:<conn_id>"), so subscribers
// can follow a single stream with SUBSCRIBE or all of them with PSUBSCRIBE.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/tproto/adapter"
)

// Defaults.
const (
	DefaultChannel = "tproto:packet_received"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db] (required).
	URL string
	// Channel is the pub/sub channel (default tproto:packet_received).
	Channel string
	// ChannelPerConn appends ":<conn_id>" to Channel for each event.
	ChannelPerConn bool
	// Encoding is the message format (default json).
	Encoding adapter.Encoding
	// Timeout bounds each PUBLISH (default 5s).
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed PUBLISH.
	Retries int
	// Backoff is the wait before the first retry (default 500ms).
	Backoff time.Duration
}

// Adapter publishes packet events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New validates cfg and creates a client. The connection is opened lazily
// on the first Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("redis adapter: retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Encoding, err = adapter.ParseEncoding(string(cfg.Encoding)); err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// ChannelFor returns the channel an event is published on.
func (a *Adapter) ChannelFor(event *adapter.PacketEvent) string {
	if a.config.ChannelPerConn && event.ConnID != "" {
		return a.config.Channel + ":" + event.ConnID
	}
	return a.config.Channel
}

// Publish encodes the event and PUBLISHes it, retrying with exponential
// backoff. A closed client fails without retrying.
func (a *Adapter) Publish(ctx context.Context, event *adapter.PacketEvent) error {
	msg, err := adapter.EncodeEvent(event, a.config.Encoding)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	channel := a.ChannelFor(event)

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		err := a.client.Publish(publishCtx, channel, msg).Err()
		if errors.Is(err, goredis.ErrClosed) {
			return adapter.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

// Close closes the client. Publish fails afterwards.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
