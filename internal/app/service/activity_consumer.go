package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/app/repository"
	"go.uber.org/zap"
)

// ActivityConsumer turns pin events into diary activities.
type ActivityConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   repository.ActivityRepository
}

// NewActivityConsumer creates a consumer reading the pin stream.
func NewActivityConsumer(js nats.JetStreamContext, logger *zap.Logger, repo repository.ActivityRepository) *ActivityConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityConsumer{js: js, logger: logger.Named("activity"), repo: repo}
}

// Start binds the durable pull consumer and processes messages until ctx ends.
// The stream and consumer must exist; see natsclient.EnsureStream.
func (c *ActivityConsumer) Start(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(model.PinStreamSubjects, model.ActivityConsumerName,
		nats.Bind(model.PinStreamName, model.ActivityConsumerName))
	if err != nil {
		return fmt.Errorf("activity consumer: subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

func (c *ActivityConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Debug("unsubscribe failed", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("activity consumer stopped")
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		msgs, err := sub.Fetch(model.ActivityFetchBatchSize, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) || ctx.Err() != nil {
				continue
			}
			c.logger.Error("fetch pin events failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			if err := c.Handle(ctx, msg.Subject, msg.Data); err != nil {
				c.logger.Error("handle pin event failed",
					zap.String("subject", msg.Subject),
					zap.Error(err))
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}

// Handle records the activity for one event. Redelivered events are ignored.
func (c *ActivityConsumer) Handle(ctx context.Context, subject string, data []byte) error {
	activity, err := decodeActivity(subject, data)
	if err != nil {
		// Poison messages are dropped rather than redelivered forever.
		c.logger.Warn("discarding undecodable pin event", zap.String("subject", subject), zap.Error(err))
		return nil
	}

	created, err := c.repo.Record(ctx, activity)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	if created {
		c.logger.Debug("activity recorded",
			zap.String("event_id", activity.EventID),
			zap.String("user_id", activity.UserID),
			zap.String("type", activity.ActivityType))
	}
	return nil
}

func decodeActivity(subject string, data []byte) (*model.Activity, error) {
	switch subject {
	case model.PinDiscoveredSubject:
		var event model.FirstDiscoveryEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		if event.ID == "" || event.UserID == "" || event.PinID == "" {
			return nil, errors.New("incomplete discovery event")
		}
		return &model.Activity{
			EventID:      event.ID,
			UserID:       event.UserID,
			PinID:        event.PinID,
			ActivityType: model.ActivityVisited,
			Detail:       fmt.Sprintf("%dm", event.DistanceMeters),
			CreatedAt:    event.Timestamp,
		}, nil
	case model.PinRemovedSubject:
		var event model.PinRemovedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		if event.ID == "" || event.OwnerID == "" || event.PinID == "" {
			return nil, errors.New("incomplete removal event")
		}
		return &model.Activity{
			EventID:      event.ID,
			UserID:       event.OwnerID,
			PinID:        event.PinID,
			ActivityType: model.ActivityRemoved,
			Detail:       string(event.Reason),
			CreatedAt:    event.Timestamp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown subject %q", subject)
	}
}
