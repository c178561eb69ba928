package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/PinRadar/internal/app/metrics"
	"github.com/sifan077/PinRadar/internal/app/model"
	"go.uber.org/zap"
)

// EventPublisher delivers pin lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishPinRemoved(ctx context.Context, event model.PinRemovedEvent) error
	PublishFirstDiscovery(ctx context.Context, event model.FirstDiscoveryEvent) error
}

var eventNamespace = uuid.MustParse("5b0c3f0e-9a51-4f0a-8d6e-1f3c2a7b9e44")

// RemovedEventID is stable per pin. A pin is removed at most once, so a
// redelivered or re-published removal carries the same id.
func RemovedEventID(pinID string) string {
	return uuid.NewSHA1(eventNamespace, []byte("removed:"+pinID)).String()
}

// DiscoveryEventID is stable per (user, pin) pair.
func DiscoveryEventID(userID, pinID string) string {
	return uuid.NewSHA1(eventNamespace, []byte("discovered:"+userID+":"+pinID)).String()
}

// JetStreamPublisher publishes events to NATS JetStream. The event id is
// sent as the message id so the stream drops duplicates.
type JetStreamPublisher struct {
	js      nats.JetStreamContext
	metrics *metrics.Metrics
}

// NewJetStreamPublisher creates a publisher on js.
func NewJetStreamPublisher(js nats.JetStreamContext, m *metrics.Metrics) *JetStreamPublisher {
	return &JetStreamPublisher{js: js, metrics: metrics.OrDiscard(m)}
}

func (p *JetStreamPublisher) PublishPinRemoved(ctx context.Context, event model.PinRemovedEvent) error {
	return p.publish(ctx, model.PinRemovedSubject, event.ID, event)
}

func (p *JetStreamPublisher) PublishFirstDiscovery(ctx context.Context, event model.FirstDiscoveryEvent) error {
	return p.publish(ctx, model.PinDiscoveredSubject, event.ID, event)
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject, id string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}

	_, err = p.js.Publish(subject, data, nats.MsgId(id), nats.Context(ctx))
	p.metrics.EventPublished(subject, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// LogPublisher writes events to the log when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) PublishPinRemoved(_ context.Context, event model.PinRemovedEvent) error {
	p.logger.Info("pin removed",
		zap.String("pin_id", event.PinID),
		zap.String("owner_id", event.OwnerID),
		zap.String("reason", string(event.Reason)),
	)
	return nil
}

func (p *LogPublisher) PublishFirstDiscovery(_ context.Context, event model.FirstDiscoveryEvent) error {
	p.logger.Info("first discovery",
		zap.String("pin_id", event.PinID),
		zap.String("user_id", event.UserID),
		zap.Int("distance_m", event.DistanceMeters),
	)
	return nil
}
