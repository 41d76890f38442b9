// internal/messaging/rabbit.go
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"tenant-broadcast/internal/metrics"
)

// RequestQueue carries a tenant's inbound broadcast requests.
func RequestQueue(tenantID string) string {
	return fmt.Sprintf("tenant_%s_broadcasts", tenantID)
}

func DeadLetterQueue(tenantID string) string {
	return fmt.Sprintf("tenant_%s_dlq", tenantID)
}

// EventQueue carries a tenant's broadcast completion events.
func EventQueue(tenantID string) string {
	return fmt.Sprintf("tenant_%s_events", tenantID)
}

type RabbitClient struct {
	conn *amqp.Connection
	log  zerolog.Logger

	// amqp channels are not safe for concurrent publishes.
	mu      sync.Mutex
	channel *amqp.Channel
	URL     string
}

func NewRabbitClient(url string, log zerolog.Logger) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitClient{
		conn:    conn,
		channel: ch,
		log:     log,
		URL:     url,
	}, nil
}

func (r *RabbitClient) GetConnection() *amqp.Connection {
	return r.conn
}

// DeclareTenant creates the tenant's durable request queue (dead-lettering
// into its DLQ) and its event queue.
func (r *RabbitClient) DeclareTenant(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dlqName := DeadLetterQueue(tenantID)
	if _, err := r.channel.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	}
	if _, err := r.channel.QueueDeclare(RequestQueue(tenantID), true, false, false, false, args); err != nil {
		return fmt.Errorf("declare request queue: %w", err)
	}

	if _, err := r.channel.QueueDeclare(EventQueue(tenantID), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare event queue: %w", err)
	}

	r.log.Info().Str("tenant", tenantID).Msg("queues declared")
	return nil
}

// DeleteTenant removes the tenant's queues. Missing queues are not an error.
func (r *RabbitClient) DeleteTenant(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range []string{RequestQueue(tenantID), EventQueue(tenantID), DeadLetterQueue(tenantID)} {
		if _, err := r.channel.QueueDelete(name, false, false, false); err != nil {
			return fmt.Errorf("delete queue %s: %w", name, err)
		}
	}
	return nil
}

// Publish sends a broadcast event to the tenant's event queue.
func (r *RabbitClient) Publish(tenantID string, body []byte) error {
	queueName := EventQueue(tenantID)

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.channel.Publish(
		"",        // default exchange
		queueName, // routing key (queue name)
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queueName, err)
	}
	return nil
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}

func (r *RabbitClient) UpdateQueueDepth(tenantID string) {
	r.mu.Lock()
	q, err := r.channel.QueueInspect(RequestQueue(tenantID))
	r.mu.Unlock()
	if err != nil {
		r.log.Warn().Err(err).Str("tenant", tenantID).Msg("failed to inspect queue")
		return
	}

	metrics.QueueDepth.WithLabelValues(tenantID).Set(float64(q.Messages))
}
