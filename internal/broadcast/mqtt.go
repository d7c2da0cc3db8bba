package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttConnectTimeout = 10 * time.Second

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes each event to <prefix>/<kind>/<id>, the form
// vehicle-routing agents subscribe to per segment.
type MQTTPublisher struct {
	client mqttClient
	prefix string
	qos    byte
}

// NewMQTTPublisher connects to broker (for example tcp://localhost:1883).
func NewMQTTPublisher(broker, clientID, prefix string, qos byte) (*MQTTPublisher, error) {
	if strings.TrimSpace(broker) == "" {
		return nil, errors.New("mqtt broker must not be empty")
	}
	if qos > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", qos)
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return newMQTTPublisherWithClient(c, prefix, qos), nil
}

// newMQTTPublisherWithClient is used in tests.
func newMQTTPublisherWithClient(c mqttClient, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: c, prefix: strings.TrimRight(prefix, "/"), qos: qos}
}

// Topic returns the topic an event is published to.
func (p *MQTTPublisher) Topic(e Event) string {
	parts := []string{string(e.Kind), e.Key()}
	if p.prefix != "" {
		parts = append([]string{p.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Kind, err)
	}
	token := p.client.Publish(p.Topic(e), p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", p.Topic(e), ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", p.Topic(e), err)
	}
	return nil
}

// Close disconnects, allowing in-flight work a short grace period.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
