package events

import (
	"context"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// TestNewLoggerSubscriber verifies that the logger subscriber handles events
func TestNewLoggerSubscriber(t *testing.T) {
	logger := arbor.NewLogger()

	subscriber := NewLoggerSubscriber(logger)

	ctx := context.Background()
	event := interfaces.Event{
		Type: interfaces.EventJobCreated,
		Payload: map[string]interface{}{
			"job_id":    "job_test-123",
			"tenant_id": "tenant-456",
			"status":    "pending",
		},
	}

	if err := subscriber(ctx, event); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	// Event without payload must not error either
	event2 := interfaces.Event{
		Type:    interfaces.EventVerificationDone,
		Payload: nil,
	}

	if err := subscriber(ctx, event2); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

// TestSubscribeLoggerToAllEvents verifies logger is subscribed to all event types
func TestSubscribeLoggerToAllEvents(t *testing.T) {
	logger := arbor.NewLogger()

	eventService := NewService(logger)
	defer eventService.Close()

	if err := SubscribeLoggerToAllEvents(eventService, logger); err != nil {
		t.Fatalf("Failed to subscribe logger: %v", err)
	}

	ctx := context.Background()
	eventTypes := []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobStarted,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
		interfaces.EventContactsAggregated,
		interfaces.EventVerificationDone,
	}

	for _, eventType := range eventTypes {
		event := interfaces.Event{
			Type:    eventType,
			Payload: map[string]interface{}{"job_id": "job_test"},
		}

		if err := eventService.PublishSync(ctx, event); err != nil {
			t.Errorf("Expected no error publishing %s event, got: %v", eventType, err)
		}
	}
}

// TestPublishSyncWaitsForHandlers verifies PublishSync runs every handler to completion
func TestPublishSyncWaitsForHandlers(t *testing.T) {
	logger := arbor.NewLogger()

	eventService := NewService(logger)
	defer eventService.Close()

	var mu sync.Mutex
	callCount := 0
	handler := func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		callCount++
		mu.Unlock()
		return nil
	}

	if err := eventService.Subscribe(interfaces.EventJobCompleted, handler); err != nil {
		t.Fatalf("Failed to subscribe handler: %v", err)
	}
	if err := eventService.Subscribe(interfaces.EventJobCompleted, handler); err != nil {
		t.Fatalf("Failed to subscribe handler: %v", err)
	}

	ctx := context.Background()
	event := interfaces.Event{
		Type:    interfaces.EventJobCompleted,
		Payload: map[string]interface{}{"job_id": "job_test"},
	}

	if err := eventService.PublishSync(ctx, event); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if callCount != 2 {
		t.Errorf("Expected both handlers to be called, got: %d", callCount)
	}
}

// TestSubscribeAfterCloseFails verifies a closed bus rejects new subscriptions
func TestSubscribeAfterCloseFails(t *testing.T) {
	logger := arbor.NewLogger()

	eventService := NewService(logger)
	if err := eventService.Close(); err != nil {
		t.Fatalf("Failed to close event service: %v", err)
	}

	handler := func(ctx context.Context, event interfaces.Event) error { return nil }
	if err := eventService.Subscribe(interfaces.EventJobCreated, handler); err == nil {
		t.Error("Expected subscribing on a closed service to fail")
	}
}

// TestPublishWithoutSubscribersIsNoOp verifies publishing with no subscribers succeeds
func TestPublishWithoutSubscribersIsNoOp(t *testing.T) {
	logger := arbor.NewLogger()

	eventService := NewService(logger)
	defer eventService.Close()

	event := interfaces.Event{
		Type:    interfaces.EventContactsAggregated,
		Payload: nil,
	}

	if err := eventService.Publish(context.Background(), event); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}
