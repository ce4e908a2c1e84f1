package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// allEventTypes is every event the system publishes. Keep in sync with the
// constants in interfaces.
var allEventTypes = []interfaces.EventType{
	interfaces.EventJobCreated,
	interfaces.EventJobStarted,
	interfaces.EventJobCompleted,
	interfaces.EventJobFailed,
	interfaces.EventContactsAggregated,
	interfaces.EventVerificationDone,
}

// NewLoggerSubscriber creates a handler that writes one debug line per
// event, lifting the common identifying fields out of the payload.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		entry := logger.Debug().Str("event_type", string(event.Type))
		for _, key := range []string{"job_id", "tenant_id", "status"} {
			if v := payloadString(event.Payload, key); v != "" {
				entry = entry.Str(key, v)
			}
		}
		entry.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents registers the logging subscriber on every
// event type. Called once at app wiring time.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)
	for _, eventType := range allEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(allEventTypes)).
		Msg("Logger subscribed to all event types")
	return nil
}

func payloadString(payload interface{}, key string) string {
	fields, ok := payload.(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := fields[key].(string)
	return v
}
