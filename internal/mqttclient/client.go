package mqttclient

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Client publishes transcription completion events. It never subscribes.
type Client struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// Event is the payload published for every finished transcription. It
// carries metadata only; transcript text stays between relay and caller.
type Event struct {
	RequestID    string    `json:"request_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Outcome      string    `json:"outcome"` // "ok", "provider_error", "error"
	WordCount    int       `json:"word_count"`
	Duration     float64   `json:"duration"`
	ProcessingMs int64     `json:"processing_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topic: opts.Topic,
		log:   opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic", c.topic).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// PublishTranscription sends ev at QoS 0 without waiting for the broker.
// Failures are logged; callers never see them.
func (c *Client) PublishTranscription(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal mqtt event")
		return
	}
	token := c.conn.Publish(c.topic, 0, false, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.log.Warn().Str("topic", c.topic).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Str("topic", c.topic).Msg("mqtt publish failed")
		}
	}()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
