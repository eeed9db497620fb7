package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/phrazzld/adlens/internal/domain"
)

// subscription binds a named handler to the statuses it receives.
// An empty status set receives every transition.
type subscription struct {
	name     string
	handler  EventHandler
	statuses []domain.JobStatus
}

func (s subscription) wants(status domain.JobStatus) bool {
	return len(s.statuses) == 0 || slices.Contains(s.statuses, status)
}

// InMemoryEventEmitter fans job transitions out to the handlers subscribed
// to the event's status. Every subscribed handler sees the event even when
// an earlier one fails; the failures are returned joined.
type InMemoryEventEmitter struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

// NewInMemoryEventEmitter returns an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		logger: logger.With("component", "job_events"),
	}
}

// RegisterHandler subscribes handler under name to the given statuses, or to
// every status when none are given.
func (e *InMemoryEventEmitter) RegisterHandler(name string, handler EventHandler, statuses ...domain.JobStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, subscription{name: name, handler: handler, statuses: statuses})
	e.logger.Debug("registered job event handler",
		"handler", name,
		"statuses", statuses,
		"handler_count", len(e.subs))
}

// EmitEvent delivers event to every handler subscribed to its status.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *JobEvent) error {
	e.mu.RLock()
	subs := slices.Clone(e.subs)
	e.mu.RUnlock()

	// Terminal transitions are the ones operators follow.
	level := slog.LevelDebug
	if event.Status.IsTerminal() {
		level = slog.LevelInfo
	}
	e.logger.Log(ctx, level, "job transition",
		"event_id", event.ID,
		"job_id", event.JobID,
		"status", event.Status,
		"progress", event.Progress)

	var errs []error
	for _, sub := range subs {
		if !sub.wants(event.Status) {
			continue
		}
		if err := sub.handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("job event handler failed",
				"handler", sub.name,
				"event_id", event.ID,
				"job_id", event.JobID,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	return errors.Join(errs...)
}
