package telemetry

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher publishes retained, QoS-0 messages to a broker, the
// same settings the inertial-computer producer uses for its sensor
// feeds: telemetry is fire-and-forget, and a retained message lets a
// dashboard that connects late see the last known state immediately.
type MQTTPublisher struct {
	client mqtt.Client
}

// DialMQTT connects to broker (e.g. "tcp://localhost:1883") under
// clientID.
func DialMQTT(broker, clientID string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect: %w", token.Error())
	}
	return &MQTTPublisher{client: client}, nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, true, payload)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker, waiting up to 250ms for in-flight
// publishes to drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
