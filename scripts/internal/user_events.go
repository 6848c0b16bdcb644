package internal

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/flexprice/plancore/internal/pubsub"
	"github.com/flexprice/plancore/internal/pubsub/kafka"
	"github.com/flexprice/plancore/internal/pubsub/memory"
	"github.com/flexprice/plancore/internal/types"
	"github.com/flexprice/plancore/internal/userevents"
)

// PublishUserDeleted publishes a USER_DELETED event for USER_ID on the configured user events topic
func PublishUserDeleted() error {
	userID := os.Getenv("USER_ID")
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	deps, err := newScriptDeps()
	if err != nil {
		return fmt.Errorf("failed to initialize script: %w", err)
	}
	defer deps.Close()

	var ps pubsub.PubSub
	switch deps.cfg.UserEvents.PubSub {
	case types.KafkaPubSub:
		ps, err = kafka.NewPubSub(deps.cfg, deps.log)
		if err != nil {
			return fmt.Errorf("failed to connect to kafka: %w", err)
		}
	default:
		log.Println("user events pubsub is in-memory, nothing outside this process will see the event")
		ps = memory.NewPubSub(deps.log)
	}
	defer ps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := &types.UserEvent{
		Type:       types.UserEventDeleted,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
	if err := userevents.NewPublisher(ps, deps.cfg, deps.log).PublishUserEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to publish user event: %w", err)
	}

	log.Printf("published %s for user %s as %s\n", event.Type, userID, event.ID)
	return nil
}
