package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/IBM/sarama"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/kafka"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/trace"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "funds-consumer"

type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return f(ctx, msg)
}

// Router dispatches consumed messages to the handler registered for their topic.
type Router struct {
	handlers map[string]kafka.MessageHandler
	logger   *slog.Logger
	metrics  *Metrics
}

func NewRouter(logger *slog.Logger, metrics *Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string]kafka.MessageHandler),
		logger:   logger,
		metrics:  metrics,
	}
}

func (r *Router) Handle(topic string, h kafka.MessageHandler) {
	if topic == "" || h == nil {
		return
	}
	r.handlers[topic] = h
}

// Topics lists the registered topics in a stable order.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (r *Router) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return kafka.DLQ(fmt.Errorf("nil kafka message"), "decode_failed")
	}
	h, ok := r.handlers[msg.Topic]
	if !ok {
		r.metrics.incConsumed(msg.Topic, "unroutable")
		return kafka.DLQ(fmt.Errorf("no handler for topic %s", msg.Topic), "unknown_topic")
	}

	ctx, end := trace.Start(ctx, tracerName, "consume "+msg.Topic,
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.kafka.partition", int(msg.Partition)),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)
	err := h.HandleMessage(ctx, msg)
	end(err)

	r.metrics.incConsumed(msg.Topic, resultLabel(err))
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "handled"
	case kafka.IsDLQ(err):
		return "dead_lettered"
	default:
		return "retry"
	}
}
