package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/tank-controller/internal/logic"
)

// BufferCapacity is how many messages are held while the broker is unreachable.
const BufferCapacity = 100

const publishTimeout = 5 * time.Second

// client is the slice of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed, oldest first, when it
// comes back.
type RealPublisher struct {
	client client

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	everUp    bool
	now       func() time.Time
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// can't be reached within the connect timeout, the publisher is still
// returned and keeps retrying in the background.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{
		buf: newRingBuffer(BufferCapacity),
		now: time.Now,
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.onConnectionLost(err) })

	c := paho.NewClient(opts)
	p.client = c

	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering until connected", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Notify publishes a device state, retained at QoS 1.
func (p *RealPublisher) Notify(device string, payload []byte) {
	p.publish(bufferedMsg{topic: DeviceTopic(device), payload: payload, qos: 1, retained: true})
}

// Alert publishes an alert at QoS 1, not retained.
func (p *RealPublisher) Alert(a logic.Alert) {
	payload, err := FormatAlertPayload(a)
	if err != nil {
		log.Printf("mqtt: format alert: %v", err)
		return
	}
	p.publish(bufferedMsg{topic: TopicAlerts, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once): lifecycle events should arrive
	p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || !p.client.IsConnectionOpen() {
		p.buf.push(msg)
		return
	}
	p.send(msg)
}

// send hands msg to paho and checks the result off the caller's goroutine.
// Caller must hold p.mu.
func (p *RealPublisher) send(msg bufferedMsg) {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: publish to %s timed out", msg.topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: publish to %s: %v", msg.topic, err)
		}
	}()
}

func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected = true
	if p.everUp {
		log.Printf("mqtt: reconnected")
		reconnected, err := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err == nil {
			p.send(bufferedMsg{topic: TopicSystem, payload: reconnected, qos: 1})
		}
	}
	p.everUp = true

	pending := p.buf.drainAll()
	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(pending))
	}
	for _, msg := range pending {
		p.send(msg)
	}
}

func (p *RealPublisher) onConnectionLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}
