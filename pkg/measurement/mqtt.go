package measurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTOptions struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string
}

type mqttCloser struct {
	client mqtt.Client
	topic  string
}

func (c mqttCloser) Close() error {
	c.client.Unsubscribe(c.topic).WaitTimeout(time.Second)
	c.client.Disconnect(250)
	return nil
}

// OpenMQTTFeed subscribes to a topic whose messages carry live feed lines.
// Lines arriving while the previous ones are still queued are dropped.
func OpenMQTTFeed(ctx context.Context, layout Layout, opts MQTTOptions, logger *slog.Logger) (*LineFeed, error) {
	feed := newLineFeed(layout, nil)
	logger = logger.With("broker", opts.Broker, "topic", opts.Topic)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		for _, line := range strings.Split(string(msg.Payload()), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !feed.offer(line) {
				logger.Warn("dropping feed line, transmission is behind")
			}
		}
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port))
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectRetryInterval(5 * time.Second)
	clientOpts.SetMaxReconnectInterval(60 * time.Second)
	clientOpts.SetKeepAlive(30 * time.Second)
	clientOpts.SetPingTimeout(10 * time.Second)

	// Subscriptions do not survive a clean session reconnect.
	clientOpts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("mqtt connected")
		token := c.Subscribe(opts.Topic, 1, handler)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			logger.Error("mqtt subscribe failed", "error", token.Error())
		}
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()

	// Wait in a ctx-aware loop
	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		if ctx.Err() != nil {
			client.Disconnect(0)
			return nil, ctx.Err()
		}
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: mqtt connect: %w", ErrSourceUnavailable, err)
	}

	feed.closer = mqttCloser{client: client, topic: opts.Topic}
	return feed, nil
}
