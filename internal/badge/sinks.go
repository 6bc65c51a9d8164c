package badge

import (
	"context"

	"github.com/rs/zerolog/log"

	"relay-service/internal/models"
	"relay-service/internal/observability"
)

// HubBroadcaster is the websocket fan-out surface.
type HubBroadcaster interface {
	BroadcastBadge(counts models.BadgeCounts)
}

// HubSink pushes badge updates to every connected client surface so all
// tabs converge on the same displayed value without polling independently.
type HubSink struct {
	Hub HubBroadcaster
}

func (s HubSink) PushBadge(_ context.Context, counts models.BadgeCounts) {
	s.Hub.BroadcastBadge(counts)
}

// EventSink publishes badge updates as broker events, the feed behind
// out-of-process notification surfaces.
type EventSink struct {
	RoutingKey string
}

func (s EventSink) PushBadge(ctx context.Context, counts models.BadgeCounts) {
	_ = observability.PublishEvent(ctx, s.RoutingKey, observability.EventEnvelope{
		EventType: "badge_events",
		EventName: "badge_updated",
		Payload:   models.BadgeEvent{Type: "badge", Counts: counts},
	}, nil)
}

// MetricsSink exposes the badge value as gauges.
type MetricsSink struct{}

func (MetricsSink) PushBadge(_ context.Context, counts models.BadgeCounts) {
	observability.SetBadge(counts.Direct, counts.Group, counts.Total)
}

// LogSink records badge changes at debug level.
type LogSink struct{}

func (LogSink) PushBadge(_ context.Context, counts models.BadgeCounts) {
	log.Debug().Int("direct", counts.Direct).Int("group", counts.Group).Int("total", counts.Total).Msg("badge updated")
}
