package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher mirrors recorded events to a Kafka topic for SIEM-side violation
// monitoring. The durable store append is the gate; the mirror only widens
// visibility. A broker outage drops mirror copies (counted) and never delays
// a decision.
type Publisher struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewPublisher connects to the brokers and ensures the audit topic exists.
func NewPublisher(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, err
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 3, 1, nil, topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		logger.WarnContext(ctx, "audit topic ensure failed, relying on auto-creation",
			"topic", topic,
			"error", err.Error(),
		)
	}

	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Emit asynchronously produces one event copy. Errors are counted and
// logged; they never propagate to the enforcement path.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "audit mirror marshal failed", "event_id", event.EventID)
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Subject.UniqueID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.dropped.Add(1)
			p.logger.Warn("audit mirror produce failed",
				"event_id", event.EventID.String(),
				"error", err.Error(),
			)
		}
	})
}

// Dropped reports how many mirror copies failed to produce since startup.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}
