package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
)

// StatusEvent announces a committed step transition together with the order's derived status.
type StatusEvent struct {
	ProductId     string        `json:"product_id"`
	WoId          string        `json:"wo_id"`
	Step          string        `json:"step"`
	PreviousRaw   string        `json:"previous_raw_value"`
	NewRaw        string        `json:"new_raw_value"`
	ActorId       string        `json:"actor_id"`
	CurrentStep   string        `json:"current_step"`
	OverallStatus OverallStatus `json:"overall_status"`
	Timestamp     time.Time     `json:"timestamp"`
}

type EventPublisher interface {
	PublishStatus(ctx context.Context, event StatusEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishStatus(ctx context.Context, event StatusEvent) error { return nil }

// PubSubPublisher sends status events to a Google Pub/Sub topic.
type PubSubPublisher struct {
	Topic string
}

func (p PubSubPublisher) PublishStatus(ctx context.Context, event StatusEvent) error {
	_, err := config.PublishJSON(ctx, p.Topic, event, map[string]string{
		"product_id":     event.ProductId,
		"wo_id":          event.WoId,
		"overall_status": string(event.OverallStatus),
	})
	return err
}

// NewEventPublisher returns a Pub/Sub publisher when a topic is configured, creating the topic if needed.
func NewEventPublisher(ctx context.Context) EventPublisher {
	topic := config.StatusEventsTopic()
	if topic == "" {
		return NoopPublisher{}
	}
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		config.LogError(config.GetLogger(), "Events", "NewEventPublisher", "pubsub client", topic, err)
		return NoopPublisher{}
	}
	if _, err := config.CreateTopicIfNotExists(ctx, client, topic); err != nil {
		config.LogError(config.GetLogger(), "Events", "NewEventPublisher", "create topic", topic, err)
		return NoopPublisher{}
	}
	return PubSubPublisher{Topic: topic}
}

func newStatusEvent(order *models.Order, def models.ProcessDefinition, entry *models.AuditLogEntry) StatusEvent {
	summary := Derive(order, def)
	return StatusEvent{
		ProductId:     order.ProductId,
		WoId:          order.WoId,
		Step:          entry.Step,
		PreviousRaw:   entry.PreviousRawValue,
		NewRaw:        entry.NewRawValue,
		ActorId:       entry.ActorId,
		CurrentStep:   summary.CurrentStep,
		OverallStatus: summary.OverallStatus,
		Timestamp:     entry.Timestamp,
	}
}
