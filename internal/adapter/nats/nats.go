// Package nats implements the message queue port on NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/logger"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/messagequeue"
)

const (
	streamName = "AGENTBUILDER"
	streamAge  = 7 * 24 * time.Hour

	headerRequestID  = "X-Request-ID"
	headerRetryCount = "Retry-Count"

	maxRetries = 3
	ackWait    = 30 * time.Second
	// Durable consumers nobody has pulled from for this long are removed.
	consumerIdle = 24 * time.Hour

	dlqSuffix = ".dlq"
)

// Queue implements messagequeue.Queue. Subscriptions are durable consumers
// shared by every replica, so each message is handled once.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

var _ messagequeue.Queue = (*Queue)(nil)

// Connect dials url and creates or updates the service stream.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("agent-builder"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats connection lost", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats connection restored", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  append([]string(nil), messagequeue.StreamSubjects...),
		Retention: jetstream.LimitsPolicy,
		MaxAge:    streamAge,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream %s: %w", streamName, err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// JetStream exposes the JetStream context for KV-backed caches.
func (q *Queue) JetStream() jetstream.JetStream { return q.js }

// Publish sends data on subject, carrying the request ID from ctx as a
// header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe attaches handler to the durable consumer for subject. Messages
// that fail schema validation, or whose handler failed maxRetries times,
// are moved to "<subject>.dlq".
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:           durableName(subject),
		FilterSubject:     subject,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckWait:           ackWait,
		InactiveThreshold: consumerIdle,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer %s: %w", subject, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.dispatch(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume %s: %w", subject, err)
	}
	return cc.Stop, nil
}

// durableName maps a subject onto the consumer name alphabet.
func durableName(subject string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all")
	return "agentbuilder_" + r.Replace(subject)
}

type action int

const (
	actAck action = iota
	actRetry
	actDeadLetter
)

// decide picks what happens to a delivery after validation and handling.
func decide(validateErr, handlerErr error, retries int) action {
	switch {
	case validateErr != nil:
		return actDeadLetter
	case handlerErr == nil:
		return actAck
	case retries >= maxRetries:
		return actDeadLetter
	default:
		return actRetry
	}
}

func (q *Queue) dispatch(msg jetstream.Msg, handler messagequeue.Handler) {
	subject := msg.Subject()
	retries := retryCount(msg.Headers())

	validateErr := messagequeue.Validate(subject, msg.Data())
	var handlerErr error
	if validateErr != nil {
		slog.Warn("message rejected by schema", "subject", subject, "error", validateErr)
	} else {
		ctx := context.Background()
		if reqID := msg.Headers().Get(headerRequestID); reqID != "" {
			ctx = logger.WithRequestID(ctx, reqID)
		}
		handlerErr = handler(ctx, subject, msg.Data())
		if handlerErr != nil {
			slog.ErrorContext(ctx, "message handler failed", "subject", subject, "attempt", retries+1, "error", handlerErr)
		}
	}

	switch decide(validateErr, handlerErr, retries) {
	case actAck:
		if err := msg.Ack(); err != nil {
			slog.Error("nats ack failed", "subject", subject, "error", err)
		}
	case actRetry:
		q.forward(msg, subject, retries+1)
	case actDeadLetter:
		q.forward(msg, subject+dlqSuffix, retries)
	}
}

// forward republishes msg on subject with the given retry count and acks
// the original. If the publish fails the original is nak'd for redelivery.
func (q *Queue) forward(msg jetstream.Msg, subject string, retries int) {
	out := nats.NewMsg(subject)
	out.Data = msg.Data()
	for k, v := range msg.Headers() {
		out.Header[k] = v
	}
	out.Header.Set(headerRetryCount, strconv.Itoa(retries))

	if _, err := q.js.PublishMsg(context.Background(), out); err != nil {
		slog.Error("nats forward failed", "subject", subject, "error", err)
		if err := msg.Nak(); err != nil {
			slog.Error("nats nak failed", "subject", msg.Subject(), "error", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "subject", msg.Subject(), "error", err)
	}
}

func retryCount(h nats.Header) int {
	if h == nil {
		return 0
	}
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Drain lets subscriptions finish in-flight messages, then closes.
func (q *Queue) Drain() error { return q.nc.Drain() }

// Close drops the connection immediately.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is up.
func (q *Queue) IsConnected() bool { return q.nc.IsConnected() }
