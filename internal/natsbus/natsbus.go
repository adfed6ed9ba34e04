// Package natsbus owns the NATS connection shared by the dispatch transport and
// the execution order cache.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// Bus bundles a core NATS connection with its JetStream context.
type Bus struct {
	Conn *nats.Conn
	JS   jetstream.JetStream
	cfg  config.NATSConfig
}

// Connect dials the configured server. name identifies the client in server monitoring.
func Connect(cfg config.NATSConfig, name string) (*Bus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "failed to connect to NATS").
			WithContext("url", cfg.URL).Build()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "failed to create JetStream context").Build()
	}

	slog.Info("NATS connected", "url", cfg.URL, "name", name)
	return &Bus{Conn: conn, JS: js, cfg: cfg}, nil
}

// KeyValue opens the named bucket, creating it with the given TTL when missing.
func (b *Bus) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := b.JS.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, fmt.Sprintf("open KV bucket %s", bucket)).Build()
	}

	kv, err = b.JS.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "buildgraph execution order cache",
		MaxBytes:    64 * 1024 * 1024,
		History:     1,
		TTL:         ttl,
	})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, fmt.Sprintf("create KV bucket %s", bucket)).Build()
	}
	slog.Info("Created KV bucket", "bucket", bucket, "ttl", ttl)
	return kv, nil
}

// Close drains the connection so in-flight replies are delivered.
func (b *Bus) Close() error {
	if b == nil || b.Conn == nil {
		return nil
	}
	if err := b.Conn.Drain(); err != nil {
		b.Conn.Close()
		return err
	}
	return nil
}
