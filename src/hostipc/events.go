package hostipc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"screen-queue/src/messages"
)

// eventHub fans host push events out to in-process subscribers. Publishing
// blocks until every subscriber acked, which keeps per-subscriber order.
type eventHub struct {
	pubsub *gochannel.GoChannel
}

func newEventHub() *eventHub {
	return &eventHub{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            16,
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
	}
}

func topicFor(t messages.EventType) string {
	return "host." + string(t)
}

func (h *eventHub) publish(ev messages.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return h.pubsub.Publish(topicFor(ev.Type), message.NewMessage(watermill.NewUUID(), payload))
}

// subscribe calls fn for each event of type t until the returned func is called.
func (h *eventHub) subscribe(t messages.EventType, fn func(messages.Event)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := h.pubsub.Subscribe(ctx, topicFor(t))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "subscribe")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			var ev messages.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Warn().Err(err).Str("topic", topicFor(t)).Msg("hostipc: dropping malformed event")
				msg.Ack()
				continue
			}
			deliver(fn, ev)
			msg.Ack()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func deliver(fn func(messages.Event), ev messages.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("hostipc: event handler panicked")
		}
	}()
	fn(ev)
}

func (h *eventHub) close() error {
	return h.pubsub.Close()
}
