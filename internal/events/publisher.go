// Package events announces completed snapshot runs to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"sales-insight/internal/config"
	"sales-insight/internal/models"
)

const TypeSnapshotUpdated = "snapshot.updated"

// SnapshotEvent is the payload published after a successful run.
type SnapshotEvent struct {
	Type         string          `json:"type"`
	ReportID     string          `json:"report_id"`
	RunID        string          `json:"run_id"`
	LastUpdated  time.Time       `json:"last_updated"`
	RecordCount  int             `json:"record_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TopCategory  *string         `json:"top_category"`
}

func NewSnapshotEvent(runID string, snap models.Snapshot) SnapshotEvent {
	return SnapshotEvent{
		Type:         TypeSnapshotUpdated,
		ReportID:     snap.ReportID,
		RunID:        runID,
		LastUpdated:  snap.LastUpdated,
		RecordCount:  snap.WindowStats.RecordCount,
		TotalRevenue: snap.WindowStats.TotalRevenue,
		TopCategory:  snap.CategoryBreakdown.TopCategory,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev SnapshotEvent) error
	Close() error
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		return Noop{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, cfg.Topic, logger)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w      messageWriter
	topic  string
	logger *slog.Logger
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w:      w,
		topic:  topic,
		logger: logger.With("component", "events", "topic", topic),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev SnapshotEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.logger.Debug("event published", "type", ev.Type, "run_id", ev.RunID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// encode keys messages by report so one report's events stay ordered.
func encode(ev SnapshotEvent) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	return kafka.Message{
		Key:   []byte(ev.ReportID),
		Value: body,
		Time:  ev.LastUpdated,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "run_id", Value: []byte(ev.RunID)},
		},
	}, nil
}

type Noop struct{}

func (Noop) Publish(context.Context, SnapshotEvent) error { return nil }
func (Noop) Close() error { return nil }
