package events

import (
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
)

// JobEvent is published on every job status transition.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher forwards job status transitions to RabbitMQ. When disabled
// by config every call is a no-op, so callers never branch on it.
type Publisher struct {
	config *config.Config
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func NewPublisher(cfg *config.Config) *Publisher {
	return &Publisher{config: cfg}
}

// Connect dials RabbitMQ and declares the exchange/queue topology.
func (p *Publisher) Connect() error {
	if !p.config.RabbitMQEnabled {
		return nil
	}

	var err error
	p.conn, err = amqp.Dial(p.config.RabbitMQURL)
	if err != nil {
		return err
	}

	p.ch, err = p.conn.Channel()
	if err != nil {
		return err
	}

	err = p.ch.ExchangeDeclare(
		p.config.RabbitMQExchange, // name
		"topic",                   // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return err
	}

	_, err = p.ch.QueueDeclare(
		p.config.RabbitMQQueue, // name
		true,                   // durable
		false,                  // delete when unused
		false,                  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return err
	}

	err = p.ch.QueueBind(
		p.config.RabbitMQQueue,
		p.config.RabbitMQRoutingKey,
		p.config.RabbitMQExchange,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	log.Printf("Job events publisher connected (exchange: %s)", p.config.RabbitMQExchange)
	return nil
}

// Publish emits one event. Publishing is best-effort: a broker hiccup
// must never fail the job it describes, so errors are only logged.
func (p *Publisher) Publish(event JobEvent) {
	if !p.config.RabbitMQEnabled || p.ch == nil {
		return
	}

	event.Timestamp = time.Now().UTC()
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to encode job event: %v", err)
		return
	}

	err = p.ch.Publish(
		p.config.RabbitMQExchange,
		p.config.RabbitMQRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		log.Printf("Failed to publish job event for %s: %v", event.JobID, err)
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
