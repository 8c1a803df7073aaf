package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"vod-orchestrator/dto"
	"vod-orchestrator/pkg/rabbitmq"
)

// EventPublisher emits user-facing status events. Delivery is best effort
// from the orchestrations' point of view; a lost event never fails an
// execution.
type EventPublisher interface {
	EmitEpisodeUploadStatus(ctx context.Context, event dto.EpisodeUploadStatusEvent) error
	EmitStreamIngestionStatus(ctx context.Context, event dto.StreamIngestionStatusEvent) error
}

type queueEventPublisher struct {
	pub *rabbitmq.Publisher
}

func NewEventPublisher(pub *rabbitmq.Publisher) EventPublisher {
	return &queueEventPublisher{pub: pub}
}

func (p *queueEventPublisher) EmitEpisodeUploadStatus(ctx context.Context, event dto.EpisodeUploadStatusEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.emit(ctx, "event.episode_upload_status", event)
}

func (p *queueEventPublisher) EmitStreamIngestionStatus(ctx context.Context, event dto.StreamIngestionStatusEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.emit(ctx, "event.stream_ingestion_status", event)
}

func (p *queueEventPublisher) emit(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.pub.Publish(ctx, routingKey, body); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("routing_key", routingKey).Msg("failed to publish event")
		return err
	}
	return nil
}
