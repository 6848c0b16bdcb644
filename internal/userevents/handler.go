package userevents

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/domain/subscription"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/pubsub"
	pubsubRouter "github.com/flexprice/plancore/internal/pubsub/router"
	"github.com/flexprice/plancore/internal/sentry"
	"github.com/flexprice/plancore/internal/service"
	"github.com/flexprice/plancore/internal/types"
)

// Handler consumes user lifecycle events
type Handler interface {
	RegisterHandler(router *pubsubRouter.Router)
}

type handler struct {
	pubSub   pubsub.PubSub
	config   *config.UserEventsConfig
	deletion service.UserDeletionService
	logger   *logger.Logger
	sentry   *sentry.Service
}

func NewHandler(
	pubSub pubsub.PubSub,
	cfg *config.Configuration,
	deletion service.UserDeletionService,
	logger *logger.Logger,
	sentry *sentry.Service,
) Handler {
	return &handler{
		pubSub:   pubSub,
		config:   &cfg.UserEvents,
		deletion: deletion,
		logger:   logger,
		sentry:   sentry,
	}
}

func (h *handler) RegisterHandler(router *pubsubRouter.Router) {
	router.AddNoPublishHandler(
		"user_events_handler",
		h.config.Topic,
		h.pubSub,
		h.processMessage,
	)
}

func (h *handler) processMessage(msg *message.Message) error {
	span, ctx := h.sentry.StartKafkaConsumerSpan(msg.Context(), h.config.Topic)
	if span != nil {
		defer span.Finish()
	}
	ctx = types.SetRequestID(ctx, msg.UUID)

	var event types.UserEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		h.logger.Errorw("failed to unmarshal user event",
			"error", err,
			"message_uuid", msg.UUID,
		)
		// a malformed payload never succeeds
		return nil
	}

	err := h.deletion.HandleUserEvent(ctx, &event)
	if err == nil {
		return nil
	}

	// the deletion already ran, entitlement removal included; only a dead
	// letter keeps that removal to one call per event
	if ierr.Is(err, subscription.ErrDeletionIncomplete) {
		h.logger.Errorw("dead-lettering incomplete user deletion",
			"event_id", event.ID,
			"user_id", event.UserID,
			"error", err,
		)
		return pubsubRouter.DeadLetter(err)
	}

	if !pubsubRouter.ShouldRetry(h.logger, err) {
		h.logger.Warnw("dropping user event",
			"event_id", event.ID,
			"event_type", event.Type,
			"user_id", event.UserID,
			"error", err,
		)
		return nil
	}
	return err
}
