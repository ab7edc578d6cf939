// Package redis is a thin wrapper around go-redis giving pkg/bus the
// handful of primitives a master daemon needs: hash fields for per-client
// state, pub/sub for change notification, and a blocking list for queued
// outbound commands.
package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client wraps a go-redis client with a fixed background context, the
// same shape the teacher's pkg/redis uses.
type Client struct {
	client *goredis.Client
	ctx    context.Context
}

// New connects to addr and verifies the connection with a PING.
func New(addr, password string, db int) (*Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis: connect")
	}
	return &Client{client: client, ctx: ctx}, nil
}

// WriteString sets a hash field.
func (c *Client) WriteString(key, field, value string) error {
	return errors.Wrap(c.client.HSet(c.ctx, key, field, value).Err(), "redis: hset")
}

// WriteAndPublishString sets a hash field and publishes the field name on
// key's channel in one pipeline, the write-then-notify pattern every
// consumer of this bridge's state expects.
func (c *Client) WriteAndPublishString(key, field, value string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, field)
	_, err := pipe.Exec(c.ctx)
	return errors.Wrap(err, "redis: write and publish")
}

// Subscribe subscribes to channel and returns the message stream plus a
// function to close the subscription.
func (c *Client) Subscribe(channel string) (<-chan *goredis.Message, func()) {
	pubsub := c.client.Subscribe(c.ctx, channel)
	return pubsub.Channel(), func() { _ = pubsub.Close() }
}

// Publish publishes message on channel.
func (c *Client) Publish(channel, message string) error {
	return errors.Wrap(c.client.Publish(c.ctx, channel, message).Err(), "redis: publish")
}

// LPush pushes value onto the head of the list at key.
func (c *Client) LPush(key, value string) error {
	if err := c.client.LPush(c.ctx, key, value).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("lpush failed")
		return errors.Wrap(err, "redis: lpush")
	}
	return nil
}

// BRPop blocks up to timeout (0 = forever) for an item to arrive at the
// tail of one of keys, and returns it as (key, value). A timeout returns
// (nil, nil), not an error — callers loop on that to keep watching.
func (c *Client) BRPop(timeout time.Duration, keys ...string) ([]string, error) {
	result, err := c.client.BRPop(c.ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "redis: brpop")
	}
	return result, nil
}

// HDel deletes field from the hash at key.
func (c *Client) HDel(key, field string) (int64, error) {
	n, err := c.client.HDel(c.ctx, key, field).Result()
	return n, errors.Wrap(err, "redis: hdel")
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}
