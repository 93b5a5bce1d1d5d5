package rediskit

import (
	"context"
	"testing"
	"time"

	"github.com/maxatome/go-testdeep/td"
)

func TestNew(t *testing.T) {
	_, err := New("")
	td.CmpString(t, err, "redis: address is required")

	conn, err := New("127.0.0.1:6379",
		WithClientName("relay-test"),
		WithCredentials("user", "pass"),
		WithDB(2),
		WithTimeouts(time.Second, 0),
	)
	td.CmpNoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	opts := conn.Options()
	td.Cmp(t, opts.Addr, "127.0.0.1:6379")
	td.Cmp(t, opts.ClientName, "relay-test")
	td.Cmp(t, opts.Username, "user")
	td.Cmp(t, opts.Password, "pass")
	td.Cmp(t, opts.DB, 2)
	td.Cmp(t, opts.DialTimeout, time.Second)
}

func TestConn_HealthUnreachable(t *testing.T) {
	// Port 1 on loopback refuses connections.
	conn, err := New("127.0.0.1:1", WithTimeouts(100*time.Millisecond, 100*time.Millisecond))
	td.CmpNoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	td.CmpContains(t, conn.Health(ctx), "redis: healthcheck failed")
}
