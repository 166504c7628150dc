package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"room_sync/internal/domain"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// RabbitMQ publishes room changes to a topic exchange. Creates go out on
// "<routing_key>.create" and updates on "<routing_key>.update"; the
// configured queue receives both.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
	now        func() time.Time
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"binding", bindingKey(cfg.RoutingKey),
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, bindingKey(cfg.RoutingKey), cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// RoomMessage is published after a room is created or updated by a sync.
type RoomMessage struct {
	Action    string      `json:"action"`
	Room      domain.Room `json:"room"`
	Timestamp time.Time   `json:"timestamp"`
}

func (r *RabbitMQ) Publish(ctx context.Context, room *domain.Room, isNew bool) error {
	key, publishing, err := buildPublishing(r.routingKey, room, isNew, r.now().UTC())
	if err != nil {
		return err
	}

	if err := r.channel.PublishWithContext(ctx, r.exchange, key, false, false, publishing); err != nil {
		return fmt.Errorf("publish room %s: %w", room.ExternalID, err)
	}

	r.logger.Debug("published room",
		"external_id", room.ExternalID,
		"routing_key", key,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func buildPublishing(baseKey string, room *domain.Room, isNew bool, at time.Time) (string, amqp.Publishing, error) {
	action := ActionUpdate
	if isNew {
		action = ActionCreate
	}

	body, err := json.Marshal(RoomMessage{
		Action:    action,
		Room:      *room,
		Timestamp: at,
	})
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("marshal room message: %w", err)
	}

	return actionKey(baseKey, action), amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         "room." + action,
		MessageId:    fmt.Sprintf("room-%s-%d", room.ExternalID, at.UnixNano()),
		Timestamp:    at,
		Body:         body,
	}, nil
}

func actionKey(base, action string) string {
	return base + "." + action
}

func bindingKey(base string) string {
	return base + ".*"
}
