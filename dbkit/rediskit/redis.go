// Package rediskit holds the Redis connection shared by the rate limit store
// and the health checks.
package rediskit

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/heartwilltell/hc"
	"github.com/redis/go-redis/v9"
)

// Compilation time check that Conn implements the hc.HealthChecker.
var _ hc.HealthChecker = (*Conn)(nil)

// Conn wraps connection with the Redis.
type Conn struct{ *redis.Client }

// Option modifies the redis.Options.
type Option func(o *redis.Options)

// WithClientName sets the client name for the Redis connection.
func WithClientName(name string) Option {
	return func(o *redis.Options) { o.ClientName = name }
}

// WithCredentials sets the credentials for the Redis connection.
func WithCredentials(username, password string) Option {
	return func(o *redis.Options) {
		o.Username = username
		o.Password = password
	}
}

// WithDB selects the logical database.
func WithDB(db int) Option {
	return func(o *redis.Options) { o.DB = db }
}

// WithTLS enables TLS towards the server.
func WithTLS(serverName string) Option {
	return func(o *redis.Options) {
		o.TLSConfig = &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	}
}

// WithTimeouts sets dial, read and write timeouts. Zero keeps the driver default.
func WithTimeouts(dial, rw time.Duration) Option {
	return func(o *redis.Options) {
		if dial > 0 {
			o.DialTimeout = dial
		}

		if rw > 0 {
			o.ReadTimeout = rw
			o.WriteTimeout = rw
		}
	}
}

// New returns a pointer to a new instance of the Conn struct.
// The connection is established lazily, use Health to verify it.
func New(addr string, options ...Option) (*Conn, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis: address is required")
	}

	connOptions := redis.Options{
		Addr:       addr,
		ClientName: "mailrelay",
	}

	for _, option := range options {
		option(&connOptions)
	}

	return &Conn{Client: redis.NewClient(&connOptions)}, nil
}

// Health implements hc.HealthChecker interface.
func (c *Conn) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: healthcheck failed: %w", err)
	}

	return nil
}
