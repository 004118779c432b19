package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

// Job is the message a text-to-speech worker consumes.
type Job struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// QueuePublisher enqueues speech synthesis jobs on RabbitMQ. Audio is produced
// out of band; Synthesize returns the job ID.
type QueuePublisher struct {
	conn  *amqp.Connection
	ch    channel
	queue string
	now   func() time.Time
}

func NewQueuePublisher(url, queue string) (*QueuePublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := declareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &QueuePublisher{conn: conn, ch: ch, queue: queue, now: time.Now}, nil
}

type queueSpec struct {
	name string
	args amqp.Table
}

// queueTopology lists the queues a speech worker relies on, in declaration
// order. A worker that fails a job publishes it to <queue>.retry, whose
// per-message TTL dead-letters it back to <queue>; a job the worker gives up
// on is rejected without requeue and lands in <queue>.dlq.
func queueTopology(queue string) []queueSpec {
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"
	return []queueSpec{
		{name: dlqQ},
		{name: retryQ, args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		}},
		{name: queue, args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		}},
	}
}

func declareQueues(ch *amqp.Channel, queue string) error {
	for _, q := range queueTopology(queue) {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

func (p *QueuePublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *QueuePublisher) Synthesize(ctx context.Context, req domain.SpeechRequest) (string, error) {
	job := Job{
		JobID:     uuid.NewString(),
		UserID:    string(req.Session.UserID),
		SessionID: string(req.Session.SessionID),
		MessageID: string(req.MessageID),
		Text:      req.Text,
		CreatedAt: p.now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.JobID,
			Body:         body,
			Timestamp:    job.CreatedAt,
		},
	)
	if err != nil {
		return "", fmt.Errorf("publish speech job: %w", err)
	}
	return job.JobID, nil
}

// Noop is used when no speech backend is configured.
type Noop struct{}

func (Noop) Synthesize(ctx context.Context, req domain.SpeechRequest) (string, error) {
	return "", nil
}
