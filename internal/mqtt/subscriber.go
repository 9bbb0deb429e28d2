// Package mqtt ingests sensor readings published on an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"tidewatch/internal/config"
	"tidewatch/internal/gateway"
	"tidewatch/internal/logger"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

const (
	submitAttempts = 3
	submitBackoff  = 200 * time.Millisecond
)

// ReadingSubmitter is the part of the gateway the subscriber needs.
type ReadingSubmitter interface {
	SubmitReading(ctx context.Context, r models.Reading) (gateway.Result, error)
}

// Subscriber forwards every message on the configured topic filter to the
// gateway. A message without a sensor id takes the last topic level, so
// tidewatch/readings/A1 carries readings of sensor A1.
type Subscriber struct {
	cfg     config.MQTTConfig
	gateway ReadingSubmitter
	client  paho.Client
	log     zerolog.Logger
}

// NewSubscriber builds the client; nothing connects until Run.
func NewSubscriber(cfg config.MQTTConfig, gw ReadingSubmitter) (*Subscriber, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}

	s := &Subscriber{
		cfg:     cfg,
		gateway: gw,
		log:     logger.WithComponent("mqtt"),
	}
	s.client = paho.NewClient(s.options())
	return s, nil
}

func (s *Subscriber) options() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetOrderMatters(true).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}

	// resubscribe on every (re)connect; the session may not have survived
	opts.OnConnect = func(c paho.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.HandleMessage)
		if token.Wait() && token.Error() != nil {
			s.log.Error().Err(token.Error()).Str("topic", s.cfg.Topic).Msg("mqtt subscribe failed")
			return
		}
		s.log.Info().Str("topic", s.cfg.Topic).Uint8("qos", s.cfg.QoS).Msg("subscribed")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.Warn().Err(err).Msg("mqtt connection lost")
	}
	return opts
}

// Run connects with backoff and stays subscribed until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	if !s.connectWithBackoff(ctx, 2*time.Second, 30*time.Second) {
		return nil
	}
	s.log.Info().Str("broker", s.cfg.BrokerURL).Msg("connected to mqtt broker")

	<-ctx.Done()
	s.client.Disconnect(250)
	s.log.Info().Msg("mqtt subscriber stopped")
	return nil
}

func (s *Subscriber) connectWithBackoff(ctx context.Context, start, max time.Duration) bool {
	backoff := start
	for {
		token := s.client.Connect()
		if token.Wait() && token.Error() == nil {
			return true
		}
		s.log.Warn().Err(token.Error()).Dur("retry_in", backoff).Msg("mqtt connect failed")

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, max)
		case <-ctx.Done():
			return false
		}
	}
}

// HandleMessage decodes and submits one message. Alert log failures are
// retried briefly; after that the reading is dropped and logged, since the
// broker has already handed the message over.
func (s *Subscriber) HandleMessage(_ paho.Client, msg paho.Message) {
	log := s.log.With().Str("topic", msg.Topic()).Uint16("message_id", msg.MessageID()).Logger()

	reading, err := models.DecodeReading(msg.Payload())
	if err != nil {
		metrics.MQTTMessagesReceived.WithLabelValues("rejected").Inc()
		log.Warn().Err(err).Msg("malformed reading")
		return
	}
	if reading.SensorID == "" {
		reading.SensorID = sensorFromTopic(msg.Topic())
	}

	ctx := gateway.WithSource(context.Background(), "mqtt")
	backoff := submitBackoff
	for attempt := 1; ; attempt++ {
		res, err := s.gateway.SubmitReading(ctx, reading)
		if err == nil {
			metrics.MQTTMessagesReceived.WithLabelValues(string(res.Status)).Inc()
			return
		}
		if models.IsValidation(err) {
			metrics.MQTTMessagesReceived.WithLabelValues("rejected").Inc()
			log.Warn().Err(err).Msg("invalid reading")
			return
		}
		if attempt >= submitAttempts {
			metrics.MQTTMessagesReceived.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("sensor_id", reading.SensorID).Msg("dropping reading after retries")
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
}

// sensorFromTopic returns the last non-wildcard level of topic.
func sensorFromTopic(topic string) string {
	topic = strings.TrimSuffix(topic, "/")
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		topic = topic[i+1:]
	}
	if topic == "#" || topic == "+" {
		return ""
	}
	return topic
}
