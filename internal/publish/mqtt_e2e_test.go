//go:build e2e

package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/i474232898/euskalmet-poller/internal/config"
	"github.com/i474232898/euskalmet-poller/internal/weather"
)

func startMosquitto(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		// 1.x accepts anonymous clients without a config file
		Image:        "eclipse-mosquitto:1.6",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "1883/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, port.Int()
}

func TestRetainedSnapshotRoundTrip(t *testing.T) {
	host, port := startMosquitto(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := NewPublisher(config.MQTTConfig{
		Enabled:     true,
		Broker:      host,
		Port:        port,
		ClientID:    "poller-e2e",
		TopicPrefix: "euskalmet",
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Disconnect()
	for !p.IsConnected() {
		if ctx.Err() != nil {
			t.Fatal("on-connect handler never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}

	v := 9.5
	p.PublishSnapshot(weather.Snapshot{
		SubjectID:   "C040",
		CycleID:     "e2e",
		Readings:    map[string]weather.Reading{"temperature": {Key: "temperature", Value: &v}},
		Succeeded:   []string{"temperature"},
		Failed:      []string{},
		GeneratedAt: time.Now().UTC(),
	})

	// a subscriber that connects afterwards still gets the retained snapshot
	opts := mqtt.NewClientOptions().AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).SetClientID("reader-e2e")
	reader := mqtt.NewClient(opts)
	if tok := reader.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("reader connect: %v", tok.Error())
	}
	defer reader.Disconnect(250)

	got := make(chan []byte, 1)
	tok := reader.Subscribe(p.Topic("C040", "snapshot"), 1, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case got <- m.Payload():
		default:
		}
	})
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe: %v", tok.Error())
	}

	select {
	case payload := <-got:
		var snap weather.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if snap.CycleID != "e2e" || *snap.Readings["temperature"].Value != 9.5 {
			t.Fatalf("snapshot = %+v", snap)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("retained snapshot not delivered")
	}
}
