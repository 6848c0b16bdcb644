package userevents

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/plancore/internal/config"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/pubsub"
	"github.com/flexprice/plancore/internal/types"
)

// Publisher puts user lifecycle events on the user events topic
type Publisher interface {
	PublishUserEvent(ctx context.Context, event *types.UserEvent) error
}

type publisher struct {
	pubSub pubsub.Publisher
	config *config.UserEventsConfig
	logger *logger.Logger
}

func NewPublisher(pubSub pubsub.PubSub, cfg *config.Configuration, logger *logger.Logger) Publisher {
	return &publisher{
		pubSub: pubSub,
		config: &cfg.UserEvents,
		logger: logger,
	}
}

func (p *publisher) PublishUserEvent(ctx context.Context, event *types.UserEvent) error {
	if event.ID == "" {
		event.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USER_EVENT)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to marshal user event").
			Mark(ierr.ErrValidation)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	// keyed by user so a user's events stay ordered on one partition
	msg.Metadata.Set(pubsub.PartitionKeyMetadata, event.UserID)

	if err := p.pubSub.Publish(ctx, p.config.Topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish user event").
			WithReportableDetails(map[string]any{"event_id": event.ID}).
			Mark(ierr.ErrSystem)
	}

	p.logger.Debugw("published user event",
		"event_id", event.ID,
		"event_type", event.Type,
		"user_id", event.UserID,
	)
	return nil
}
