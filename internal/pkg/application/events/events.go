package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"
)

const AlertNotificationType string = "fleetops.alert"

//go:generate moq -rm -out events_mock.go . Publisher Notifier

// Publisher is the part of the messaging context the services publish topic messages with.
type Publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

// Notifier delivers events to the webhook subscribers configured for an event type.
type Notifier interface {
	Notify(ctx context.Context, eventType string, data any) error
}

// NewDiscardPublisher returns a Publisher that only logs the messages, used when no
// message broker is configured.
func NewDiscardPublisher() Publisher {
	return &discardPublisher{}
}

type discardPublisher struct{}

func (d *discardPublisher) PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error {
	logger := logging.GetFromContext(ctx)
	logger.Debug().Str("topic", message.TopicName()).Msg("message broker disabled, dropping message")
	return nil
}

type notifier struct {
	subscribers map[string][]SubscriberConfig
	source      string
}

func NewNotifier(cfg *Config) Notifier {
	n := &notifier{
		subscribers: make(map[string][]SubscriberConfig),
		source:      "github.com/diwise/fleet-ops",
	}

	if cfg != nil {
		for _, s := range cfg.Notifications {
			n.subscribers[s.Type] = append(n.subscribers[s.Type], s.Subscribers...)
		}
	}

	return n
}

func (n *notifier) Notify(ctx context.Context, eventType string, data any) error {
	subscribers, ok := n.subscribers[eventType]
	if !ok || len(subscribers) == 0 {
		return nil
	}

	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return err
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetTime(time.Now().UTC())
	event.SetSource(n.source)
	event.SetType(eventType)

	err = event.SetData(cloudevents.ApplicationJSON, data)
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx)

	for _, s := range subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := c.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("failed to send event to %s", s.Endpoint)
			err = fmt.Errorf("%w", result)
		}
	}

	return err
}

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type Config struct {
	Notifications []Notification `yaml:"notifications"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal(buf, &cfg); err == nil {
		return &cfg, nil
	} else {
		return nil, err
	}
}
