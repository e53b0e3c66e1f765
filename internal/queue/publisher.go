package queue

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"halflife-tracker/internal/events"
)

// Metadata keys stamped on every published message. The dedupe
// middleware reads the event id without decoding the payload.
const (
	metaEventType     = "eventType"
	metaEventID       = "eventId"
	metaCorrelationID = "correlationId"
)

// Publisher marshals events onto their server topic.
type Publisher struct {
	pub message.Publisher
}

// NewPublisher wraps the transport's publishing end.
func NewPublisher(t *Transport) *Publisher {
	return &Publisher{pub: t.Publisher}
}

// Publish sends one event, assigning an idempotency key when the
// producer did not.
func (p *Publisher) Publish(ctx context.Context, e *events.Event) error {
	if e.EventID == "" {
		e.EventID = events.NewEventID()
	}

	payload, err := events.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(e.EventID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(metaEventType, string(e.Type))
	msg.Metadata.Set(metaEventID, e.EventID)
	if e.CorrelationID != "" {
		msg.Metadata.Set(metaCorrelationID, e.CorrelationID)
	}

	if err := p.pub.Publish(Topic(e.ServerID), msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}
	return nil
}
