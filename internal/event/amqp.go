package event

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Exchange is the durable topic exchange lifecycle events are forwarded to.
// Routing key = event name, so consumers can bind e.g. "transaction.#".
const Exchange = "payment_events"

// AMQPForwarder mirrors lifecycle events onto a RabbitMQ topic exchange for
// consumers other than the webhook dispatcher (audit workers, analytics).
// Forwarding is best-effort: publish failures are logged and dropped.
type AMQPForwarder struct {
	channel *amqp.Channel
}

func NewAMQPForwarder(ch *amqp.Channel) (*AMQPForwarder, error) {
	err := ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, err
	}
	return &AMQPForwarder{channel: ch}, nil
}

func (f *AMQPForwarder) Handle(ctx context.Context, ev Event) {
	body, err := json.Marshal(map[string]any{
		"event":  ev.Name,
		"tenant": ev.TenantID,
		"data":   ev.Data,
		"sentAt": time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name).Msg("marshal broker event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = f.channel.PublishWithContext(pubCtx,
		Exchange, // exchange
		ev.Name,  // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		log.Warn().Err(err).Str("event", ev.Name).Msg("broker publish failed, event dropped")
		return
	}
	log.Debug().Str("routing_key", ev.Name).Msg("event forwarded to broker")
}
