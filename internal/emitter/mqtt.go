// Package emitter forwards recognized text and words from the bus to an MQTT
// broker, for displays and home automation that do not speak NATS.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/varshagowdavg/signbridge/internal/bus"
	"github.com/varshagowdavg/signbridge/internal/config"
	"github.com/varshagowdavg/signbridge/internal/protocol"
)

const publishTimeout = 2 * time.Second

// Publisher sends one payload to an MQTT topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Connected() bool
	Close()
}

// Bridge relays gesture.text and gesture.word to
// <prefix>/<node>/text and <prefix>/<node>/word.
type Bridge struct {
	bus    *bus.Client
	out    Publisher
	prefix string
	log    *slog.Logger

	subs      []*nats.Subscription
	published atomic.Uint64
	failed    atomic.Uint64
}

func NewBridge(busClient *bus.Client, out Publisher, topicPrefix, nodeID string, logger *slog.Logger) (*Bridge, error) {
	if busClient == nil || out == nil {
		return nil, errors.New("mqtt bridge requires bus and publisher")
	}
	return &Bridge{
		bus:    busClient,
		out:    out,
		prefix: Topic(topicPrefix, nodeID, ""),
		log:    logger.With(slog.String("component", "emitter.mqtt")),
	}, nil
}

// Topic joins the non-empty parts with "/".
func Topic(prefix, nodeID, kind string) string {
	topic := prefix
	for _, part := range []string{nodeID, kind} {
		if part == "" {
			continue
		}
		if topic != "" {
			topic += "/"
		}
		topic += part
	}
	return topic
}

func (b *Bridge) Start() error {
	routes := map[string]string{
		protocol.SubjectGestureText: "text",
		protocol.SubjectGestureWord: "word",
	}
	for subject, kind := range routes {
		topic := Topic(b.prefix, "", kind)
		sub, err := b.bus.Conn().Subscribe(subject, func(msg *nats.Msg) {
			b.forward(topic, msg.Data)
		})
		if err != nil {
			b.Close()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)
	}
	b.log.Info("mqtt bridge ready", slog.String("topic_prefix", b.prefix))
	return nil
}

func (b *Bridge) forward(topic string, payload []byte) {
	if err := b.out.Publish(topic, payload); err != nil {
		b.failed.Add(1)
		b.log.Warn("mqtt publish failed", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	b.published.Add(1)
}

func (b *Bridge) Close() {
	for _, sub := range b.subs {
		_ = sub.Drain()
	}
	b.subs = nil
	b.out.Close()
}

// Healthy reports whether the broker connection is up. Paho reconnects on
// its own, so a false value is expected to be transient.
func (b *Bridge) Healthy() bool {
	return b != nil && b.out.Connected()
}

// Stats returns the number of forwarded and failed messages.
func (b *Bridge) Stats() (published, failed uint64) {
	return b.published.Load(), b.failed.Load()
}

// Client is a Publisher backed by a paho MQTT client with automatic
// reconnection.
type Client struct {
	client mqtt.Client
	qos    byte
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// Dial connects to cfg.Broker. The first connection attempt is bounded by
// ctx; later drops are retried in the background.
func Dial(ctx context.Context, cfg config.MQTTConfig, nodeID string, logger *slog.Logger) (*Client, error) {
	c := &Client{qos: byte(cfg.QoS), log: logger.With(slog.String("component", "emitter.mqtt.client"))}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "signbridge-" + nodeID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		c.setConnected(true)
		c.log.Info("mqtt connection established", slog.String("broker", cfg.Broker), slog.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.log.Warn("mqtt connection lost, will auto-reconnect", slog.String("error", err.Error()))
	}
	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	if !c.Connected() {
		return errors.New("mqtt not connected")
	}
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt publish timeout")
	}
	return token.Error()
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
