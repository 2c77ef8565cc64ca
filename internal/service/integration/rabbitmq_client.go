package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/pkg/rabbitmq"
)

// ActionEvent — одно событие обмена, публикуемое после успешного append.
type ActionEvent struct {
	EventID          string    `json:"event_id"`
	SequenceNo       int64     `json:"sequence_no"`
	Kind             string    `json:"kind"`
	CourseID         string    `json:"course_id"`
	AssignmentID     string    `json:"assignment_id"`
	UserID           string    `json:"user_id"`
	ArtifactChecksum string    `json:"artifact_checksum,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

type EventPublisher interface {
	PublishAction(ctx context.Context, action *models.Action) error
	Close() error
}

type rabbitMQPublisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     zerolog.Logger
}

func NewRabbitMQPublisher(url, exchange, routingKey string, logger zerolog.Logger) (EventPublisher, error) {
	conn, err := rabbitmq.NewConnection(url)
	if err != nil {
		return nil, err
	}

	channel, err := rabbitmq.NewChannel(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info().
		Str("exchange", exchange).
		Str("routing_key", routingKey).
		Msg("Connected to RabbitMQ")

	return &rabbitMQPublisher{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (p *rabbitMQPublisher) PublishAction(ctx context.Context, action *models.Action) error {
	event := ActionEvent{
		EventID:          uuid.New().String(),
		SequenceNo:       action.SequenceNo,
		Kind:             action.Kind.String(),
		CourseID:         action.CourseID,
		AssignmentID:     action.AssignmentID,
		UserID:           action.UserID,
		ArtifactChecksum: action.ArtifactChecksum,
		RecordedAt:       action.CreatedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal action event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Ключ маршрутизации вида "exchange.submit", чтобы потребители могли
	// подписываться на отдельные виды действий.
	key := fmt.Sprintf("%s.%s", p.routingKey, action.Kind)

	err = p.channel.PublishWithContext(
		publishCtx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish action event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.EventID).
		Int64("sequence_no", event.SequenceNo).
		Str("routing_key", key).
		Msg("Action event published")

	return nil
}

func (p *rabbitMQPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
