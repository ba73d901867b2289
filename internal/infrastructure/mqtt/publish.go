package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publish sends a message to the specified topic and waits for the
// broker acknowledgment appropriate for the QoS level.
//
// The context bounds the wait; on cancellation the message may still be
// delivered by the paho library in the background.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("publish to %s: %w", topic, ErrNotConnected)
	}

	token := c.client.Publish(topic, qos, retained, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: topic %s: %w", ErrPublishFailed, topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
}

// PublishJSON marshals v and publishes it to the specified topic.
func (c *Client) PublishJSON(ctx context.Context, topic string, v any, qos byte, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("publish to %s: encoding payload: %w", topic, err)
	}
	return c.Publish(ctx, topic, payload, qos, retained)
}
