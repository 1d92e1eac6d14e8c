// Package nats implements the message queue port on NATS. Gateway-pushed
// CloudEvents arrive as core NATS requests; the dispatch result is the
// reply. JetStream is used only for the shared inbound dedup bucket.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/messagequeue"
)

// Queue implements messagequeue.Queue.
type Queue struct {
	nc    *nats.Conn
	group string
	log   *slog.Logger
}

// Connect establishes a connection to NATS. Subscriptions join queue group
// group so replicas of the same system share the inbound load.
func Connect(url, group string, log *slog.Logger) (*Queue, error) {
	log = logger.Component(log, "nats")
	nc, err := nats.Connect(url,
		nats.Name("fleetd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info("nats connected", "url", url, "group", group)
	return &Queue{nc: nc, group: group, log: log}, nil
}

// Publish sends a message, carrying the context's request id as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(messagequeue.HeaderRequestID, id)
	}
	if err := q.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler on subject. Requests are answered with the
// handler's reply, or with {"error": "..."} when it fails.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	sub, err := q.nc.QueueSubscribe(subject, q.group, func(msg *nats.Msg) {
		mctx := ctx
		if id := msg.Header.Get(messagequeue.HeaderRequestID); id != "" {
			mctx = logger.WithRequestID(mctx, id)
		}

		reply, err := handler(mctx, msg.Subject, msg.Data)
		if err != nil {
			q.log.Warn("message handler failed", "subject", msg.Subject, "error", err)
			reply, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			q.log.Error("nats respond failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	q.log.Info("nats subscribed", "subject", subject)
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			q.log.Warn("nats unsubscribe", "subject", subject, "error", err)
		}
	}, nil
}

// Request sends data and waits for a reply. Used by tooling and tests.
func (q *Queue) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := q.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// KeyValue returns the JetStream KV bucket, creating it with the given
// entry TTL if it does not exist.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	js, err := jetstream.New(q.nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain processes pending messages and closes the connection.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
