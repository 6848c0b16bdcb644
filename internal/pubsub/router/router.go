package router

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/pubsub"
	"github.com/flexprice/plancore/internal/sentry"
)

// Router manages all message routing
type Router struct {
	router *message.Router
	logger *logger.Logger
	sentry *sentry.Service
}

// NewRouter creates a message router whose handlers are retried with
// backoff and, once retries are exhausted, moved to the dead letter topic
// through dlq.
func NewRouter(cfg *config.Configuration, logger *logger.Logger, sentry *sentry.Service, dlq pubsub.Publisher) (*Router, error) {
	router, err := message.NewRouter(
		message.RouterConfig{
			CloseTimeout: 30 * time.Second,
		},
		logger.GetWatermillLogger(),
	)
	if err != nil {
		return nil, err
	}

	poisonQueue, err := middleware.PoisonQueue(pubsub.MessagePublisher(dlq), cfg.UserEvents.DLQTopic)
	if err != nil {
		return nil, err
	}

	// poison queue sits outside retry so it only sees the final failure
	router.AddMiddleware(
		poisonQueue,
		middleware.Recoverer,
		middleware.CorrelationID,
		retryUnlessDeadLetter(middleware.Retry{
			MaxRetries:          cfg.UserEvents.MaxRetries,
			InitialInterval:     cfg.UserEvents.InitialInterval,
			MaxInterval:         cfg.UserEvents.MaxInterval,
			Multiplier:          cfg.UserEvents.Multiplier,
			MaxElapsedTime:      cfg.UserEvents.MaxElapsedTime,
			RandomizationFactor: 0.5,
			Logger:              logger.GetWatermillLogger(),
			OnRetryHook: func(retryNum int, delay time.Duration) {
				logger.Infow("retrying message",
					"retry_number", retryNum,
					"max_retries", cfg.UserEvents.MaxRetries,
					"delay", delay,
				)
			},
		}),
	)

	return &Router{
		router: router,
		logger: logger,
		sentry: sentry,
	}, nil
}

// AddNoPublishHandler adds a handler that doesn't publish messages
func (r *Router) AddNoPublishHandler(
	handlerName string,
	topicName string,
	subscriber message.Subscriber,
	handlerFunc func(msg *message.Message) error,
	middlewares ...message.HandlerMiddleware,
) {
	handler := r.router.AddNoPublisherHandler(
		handlerName,
		topicName,
		subscriber,
		func(msg *message.Message) error {
			err := handlerFunc(msg)
			if err != nil {
				r.sentry.CaptureException(err)
				r.logger.Errorw("handler failed",
					"handler", handlerName,
					"error", err,
					"correlation_id", middleware.MessageCorrelationID(msg),
					"message_uuid", msg.UUID,
				)
			}
			return err
		},
	)

	for _, middleware := range middlewares {
		handler.AddMiddleware(middleware)
	}
}

// Run blocks until ctx is canceled or the router is closed
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("starting router")
	return r.router.Run(ctx)
}

// Running is closed once every handler is subscribed
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

// Close gracefully shuts down the router
func (r *Router) Close() error {
	r.logger.Info("closing router")
	return r.router.Close()
}
