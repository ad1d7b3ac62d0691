// Package mqtt carries channels over an MQTT broker: each channel is a topic, optionally under a
// configured prefix.
package mqtt

import (
	"context"
	"strings"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"go.viam.com/imagequeue/config"
	"go.viam.com/imagequeue/logging"
	"go.viam.com/imagequeue/transport"
)

// Client subscribes to and publishes on channels through a paho client. Subscriptions are
// restored when the connection comes back. It is safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTT
	logger logging.Logger

	subMu         sync.RWMutex
	subscriptions map[string]transport.Handler

	connMu    sync.RWMutex
	connected bool
}

// Connect connects to the broker described by cfg, waiting for the first connection for at
// most the connect timeout or until ctx is done.
func Connect(ctx context.Context, cfg config.MQTT, logger logging.Logger) (*Client, error) {
	c := newClient(cfg, logger)
	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, errors.Wrapf(ErrConnectionFailed, "%v", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(ErrConnectionFailed, "%v", err)
	}
	c.setConnected(true)
	logger.Infow("connected to mqtt broker", "host", cfg.Host, "port", cfg.Port, "client_id", cfg.ClientID)
	return c, nil
}

func newClient(cfg config.MQTT, logger logging.Logger) *Client {
	return &Client{
		cfg:           cfg,
		logger:        logger,
		subscriptions: map[string]transport.Handler{},
	}
}

// Topic returns the MQTT topic of channel.
func (c *Client) Topic(channel string) string {
	return c.cfg.TopicPrefix + channel
}

func (c *Client) channel(topic string) string {
	return strings.TrimPrefix(topic, c.cfg.TopicPrefix)
}

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for channel, h := range c.subscriptions {
		// errors surface through the token; a later reconnect retries
		c.client.Subscribe(c.Topic(channel), c.cfg.QoS, c.wrapHandler(h))
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	c.logger.Warnw("lost connection to mqtt broker", "error", err)
}

func (c *Client) setConnected(connected bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected = connected
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// wrapHandler adapts h to paho, recovering from panics so one bad payload cannot take down the
// client's delivery goroutine.
func (c *Client) wrapHandler(h transport.Handler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Errorw("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		h(msg.Payload(), c.channel(msg.Topic()))
	}
}

// Subscribe delivers every message on channel's topic to h.
func (c *Client) Subscribe(ctx context.Context, channel string, h transport.Handler) error {
	if channel == "" {
		return ErrInvalidTopic
	}
	if h == nil {
		return errors.Wrap(ErrSubscribeFailed, "handler cannot be nil")
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[channel] = h
	c.subMu.Unlock()

	if err := c.wait(ctx, c.client.Subscribe(c.Topic(channel), c.cfg.QoS, c.wrapHandler(h))); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, channel)
		c.subMu.Unlock()
		return errors.Wrapf(ErrSubscribeFailed, "%q: %v", channel, err)
	}
	c.logger.Debugw("subscribed", "channel", channel, "topic", c.Topic(channel))
	return nil
}

// Publish publishes payload on channel's topic.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.wait(ctx, c.client.Publish(c.Topic(channel), c.cfg.QoS, false, payload)); err != nil {
		return errors.Wrapf(ErrPublishFailed, "%q: %v", channel, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context, token pahomqtt.Token) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}
