// Package pubsub publishes notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
)

// Topic is the subset of *pubsub.Topic the publisher uses.
type Topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic Topic
}

// New creates a Publisher for the provided topic.
func New(topic Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals the payload to JSON and publishes it. The topic argument
// is ignored; the publisher is bound to one topic. The payload kind, when
// present, is copied into the "kind" attribute.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	msg, err := newMessage(ctx, payload)
	if err != nil {
		return "", err
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

type kinded interface {
	EventKind() string
}

func newMessage(ctx context.Context, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	if k, ok := payload.(kinded); ok {
		msg.Attributes["kind"] = k.EventKind()
	}
	otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: msg.Attributes})
	return msg, nil
}

// carrier implements propagation.TextMapCarrier over message attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
