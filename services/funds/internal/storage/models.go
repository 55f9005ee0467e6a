package storage

import "time"

type OutboxEvent struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	CorrelationID string
	Exchange      string
	RoutingKey    string
	Payload       []byte
	Published     bool
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

type ProcessedEvent struct {
	Key          string
	ConsumerName string
	ProcessedAt  time.Time
}
