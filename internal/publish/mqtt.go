// Package publish pushes cycle outcomes to an MQTT broker for the
// presentation layer. Every topic is retained so late subscribers get the
// latest state immediately.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/euskalmet-poller/internal/config"
	"github.com/i474232898/euskalmet-poller/internal/weather"
)

const publishTimeout = 5 * time.Second

type Publisher struct {
	client    mqtt.Client
	prefix    string
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ weather.Sink = (*Publisher)(nil)

func NewPublisher(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	p := newPublisher(nil, cfg.TopicPrefix, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

func newPublisher(client mqtt.Client, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "mqtt"),
		stopCh: make(chan struct{}),
	}
}

// Connect waits for the initial connection, respecting ctx and Disconnect.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher stopped")
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return fmt.Errorf("publisher stopped")
		default:
		}
	}
}

// Topic returns the retained topic for one kind of message about a subject.
func (p *Publisher) Topic(subjectID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", p.prefix, subjectID, kind)
}

func (p *Publisher) PublishSnapshot(snapshot weather.Snapshot) {
	if err := p.publish(p.Topic(snapshot.SubjectID, "snapshot"), snapshot); err != nil {
		p.logger.Error("failed to publish snapshot", "subject", snapshot.SubjectID, "error", err)
		return
	}
	p.publishAvailability(weather.Availability{
		SubjectID:   snapshot.SubjectID,
		Available:   true,
		LastCycleAt: snapshot.GeneratedAt,
	})
}

func (p *Publisher) PublishForecast(block weather.ForecastBlock) {
	if err := p.publish(p.Topic(block.SubjectID, "forecast"), block); err != nil {
		p.logger.Error("failed to publish forecast", "subject", block.SubjectID, "error", err)
		return
	}
	p.publishAvailability(weather.Availability{
		SubjectID:   block.SubjectID,
		Available:   true,
		LastCycleAt: block.GeneratedAt,
	})
}

// MarkUnavailable only touches the availability topic; the last retained
// snapshot stays readable.
func (p *Publisher) MarkUnavailable(subjectID, reason string, at time.Time, halted bool) {
	p.publishAvailability(weather.Availability{
		SubjectID:   subjectID,
		Available:   false,
		Halted:      halted,
		Reason:      reason,
		LastCycleAt: at.UTC(),
	})
}

func (p *Publisher) publishAvailability(a weather.Availability) {
	if err := p.publish(p.Topic(a.SubjectID, "availability"), a); err != nil {
		p.logger.Error("failed to publish availability", "subject", a.SubjectID, "error", err)
	}
}

func (p *Publisher) publish(topic string, v any) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := p.client.Publish(topic, 1, true, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.Debug("published", "topic", topic, "bytes", len(data))
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect returns an error.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	if p.client != nil {
		p.client.Disconnect(250)
	}

	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
