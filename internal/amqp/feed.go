package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"spendwise/internal/baas"
)

// Feed is a baas.Realtime backed by the change exchange. It serves hosted
// deployments whose backend websocket channel is not spoken directly: the
// relay publishes every committed change and each subscription reads its
// own exclusive queue.
//
// The broker does not know row policies, so callers must pass a filter
// scoped to the signed-in user.
type Feed struct {
	client *Client
	log    *slog.Logger
}

var _ baas.Realtime = (*Feed)(nil)

func NewFeed(client *Client, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{client: client, log: logger.With("component", "realtime")}
}

func (f *Feed) Subscribe(ctx context.Context, table string, filter *baas.Filter, fn func(baas.ChangeEvent)) (baas.Subscription, error) {
	if filter != nil && filter.Op != baas.OpEq {
		return nil, fmt.Errorf("realtime filter on %s: only eq is supported", filter.Column)
	}

	conn, err := f.client.connection()
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	queue, err := channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("declare subscription queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, table+".*", f.client.exchangeName, false, nil); err != nil {
		channel.Close()
		return nil, fmt.Errorf("bind subscription queue: %w", err)
	}
	deliveries, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("start consuming: %w", err)
	}

	sub := &feedSubscription{
		channel: channel,
		done:    make(chan struct{}),
	}
	go sub.run(deliveries, filter, fn, f.log)

	f.log.DebugContext(ctx, "Subscribed to change feed", "table", table, "queue", queue.Name)
	return sub, nil
}

type feedSubscription struct {
	channel *amqp091.Channel
	done    chan struct{}
	once    sync.Once
}

func (s *feedSubscription) run(deliveries <-chan amqp091.Delivery, filter *baas.Filter, fn func(baas.ChangeEvent), log *slog.Logger) {
	for d := range deliveries {
		msg, err := ChangeMessageFromJSON(d.Body)
		if err != nil {
			log.Warn("Dropping malformed change message", "error", err)
			continue
		}
		ev := msg.Event()
		if !matches(filter, ev) {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		fn(ev)
	}
}

func (s *feedSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.channel.Close()
	})
	return err
}

func matches(filter *baas.Filter, ev baas.ChangeEvent) bool {
	if filter == nil {
		return true
	}
	v, ok := ev.Row()[filter.Column]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(filter.Value)
}
