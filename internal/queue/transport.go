package queue

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Transport pairs the publisher and subscriber ends of a message
// transport. The in-process gochannel transport is the default; AMQP
// provides durable delivery across daemon restarts.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	wmLogger watermill.LoggerAdapter
}

// NewGoChannelTransport returns an in-process transport. Buffered output
// keeps the ingress from blocking on a slow handler.
func NewGoChannelTransport(log *slog.Logger) *Transport {
	wmLogger := watermill.NewSlogLogger(log)
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, wmLogger)
	return &Transport{Publisher: ch, Subscriber: ch, wmLogger: wmLogger}
}

// NewAMQPTransport returns a durable-queue AMQP transport.
func NewAMQPTransport(url string, log *slog.Logger) (*Transport, error) {
	wmLogger := watermill.NewSlogLogger(log)
	cfg := wmamqp.NewDurableQueueConfig(url)

	pub, err := wmamqp.NewPublisher(cfg, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create amqp publisher: %w", err)
	}
	sub, err := wmamqp.NewSubscriber(cfg, wmLogger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("failed to create amqp subscriber: %w", err)
	}
	return &Transport{Publisher: pub, Subscriber: sub, wmLogger: wmLogger}, nil
}

// Close closes both ends. gochannel shares one object for both, so the
// second close is tolerated.
func (t *Transport) Close() error {
	err := t.Publisher.Close()
	if subErr := t.Subscriber.Close(); subErr != nil && err == nil {
		err = subErr
	}
	return err
}
