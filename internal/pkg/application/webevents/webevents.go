package webevents

import (
	"context"
	"encoding/json"
	"net/http"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/diwise/fleet-ops/internal/pkg/application/events"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/messaging-golang/pkg/messaging"
)

// WebEvents streams domain events to browsers, e.g. the NOC wall board, as server
// sent events. Every connected client receives every event.
type WebEvents interface {
	http.Handler
	Shutdown()
	Publish(event string, data any) error
}

type webEvents struct {
	s *gosse.Server
}

func New() WebEvents {
	return &webEvents{
		s: gosse.NewServer(&gosse.Options{
			Headers: map[string]string{
				"Cache-Control": "no-cache",
			},
		}),
	}
}

func (we *webEvents) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	we.s.ServeHTTP(w, r)
}

func (we *webEvents) Shutdown() {
	we.s.Shutdown()
}

func (we *webEvents) Publish(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	message := gosse.NewMessage("", string(b), event)
	we.s.SendMessage("", message)

	return nil
}

type publisher struct {
	next events.Publisher
	we   WebEvents
}

// NewPublisher returns a publisher that forwards every message to next and also
// pushes it to the connected web clients, using the topic as event name.
func NewPublisher(next events.Publisher, we WebEvents) events.Publisher {
	return &publisher{next: next, we: we}
}

func (p *publisher) PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error {
	if err := p.we.Publish(message.TopicName(), message); err != nil {
		log := logging.GetFromContext(ctx)
		log.Warn().Err(err).Str("topic", message.TopicName()).Msg("failed to push web event")
	}

	return p.next.PublishOnTopic(ctx, message)
}
