// internal/consumer/consumer.go
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"tenant-broadcast/internal/messaging"
	"tenant-broadcast/internal/model"
)

// RequestHandler starts a broadcast for a request read from the broker. A
// returned error dead-letters the message.
type RequestHandler func(ctx context.Context, tenantID string, req model.BroadcastRequest) error

// Consumer holds control channels and metadata for a running tenant consumer
type Consumer struct {
	TenantID    string
	QueueName   string
	Channel     *amqp.Channel
	StopChan    chan struct{}
	DoneChan    chan struct{}
	Handler     RequestHandler
	ConsumerTag string

	log zerolog.Logger
}

func newConsumer(tenantID string, handler RequestHandler, log zerolog.Logger) *Consumer {
	return &Consumer{
		TenantID:    tenantID,
		QueueName:   messaging.RequestQueue(tenantID),
		StopChan:    make(chan struct{}),
		DoneChan:    make(chan struct{}),
		Handler:     handler,
		ConsumerTag: fmt.Sprintf("consumer-%s", tenantID),
		log:         log.With().Str("tenant", tenantID).Logger(),
	}
}

// StartConsumer starts a goroutine that consumes broadcast requests for a tenant
func StartConsumer(conn *amqp.Connection, tenantID string, handler RequestHandler, log zerolog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("tenant %s: failed to open channel: %w", tenantID, err)
	}
	// One unacked request at a time; the tenant queue does the fan-out.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("tenant %s: failed to set qos: %w", tenantID, err)
	}

	c := newConsumer(tenantID, handler, log)
	c.Channel = ch

	msgs, err := ch.Consume(
		c.QueueName,
		c.ConsumerTag,
		false, // autoAck: false to handle manually
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("tenant %s: failed to start consuming: %w", tenantID, err)
	}

	go c.consumeLoop(msgs)

	c.log.Info().Msg("started consumer")
	return c, nil
}

// consumeLoop processes messages until StopChan is closed
func (c *Consumer) consumeLoop(msgs <-chan amqp.Delivery) {
	defer close(c.DoneChan)

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn().Msg("delivery channel closed")
				return
			}
			c.handle(msg)

		case <-c.StopChan:
			c.log.Info().Msg("stopping consumer")
			if c.Channel != nil {
				_ = c.Channel.Cancel(c.ConsumerTag, false)
			}
			return
		}
	}
}

func (c *Consumer) handle(msg amqp.Delivery) {
	var req model.BroadcastRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		c.log.Warn().Err(err).Msg("undecodable broadcast request; dead-lettering")
		_ = msg.Nack(false, false)
		return
	}
	if req.JobID == "" && msg.MessageId != "" {
		req.JobID = msg.MessageId
	}

	if err := c.Handler(context.Background(), c.TenantID, req); err != nil {
		c.log.Warn().Err(err).Str("job", req.JobID).Msg("broadcast request rejected; dead-lettering")
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

// Stop signals the consumer to stop and waits for cleanup
func (c *Consumer) Stop() {
	close(c.StopChan)
	<-c.DoneChan
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	c.log.Info().Msg("stopped consumer")
}

// Group tracks one consumer per tenant.
type Group struct {
	conn    *amqp.Connection
	handler RequestHandler
	log     zerolog.Logger

	mu        sync.Mutex
	consumers map[string]*Consumer
}

func NewGroup(conn *amqp.Connection, handler RequestHandler, log zerolog.Logger) *Group {
	return &Group{
		conn:      conn,
		handler:   handler,
		log:       log,
		consumers: make(map[string]*Consumer),
	}
}

// Add starts a consumer for tenantID unless one is already running.
func (g *Group) Add(tenantID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.consumers[tenantID]; exists {
		return nil
	}
	c, err := StartConsumer(g.conn, tenantID, g.handler, g.log)
	if err != nil {
		return err
	}
	g.consumers[tenantID] = c
	return nil
}

func (g *Group) Remove(tenantID string) {
	g.mu.Lock()
	c, ok := g.consumers[tenantID]
	delete(g.consumers, tenantID)
	g.mu.Unlock()

	if ok {
		c.Stop()
	}
}

// TenantIDs lists tenants with a running consumer.
func (g *Group) TenantIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.consumers))
	for id := range g.consumers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops every consumer in the group.
func (g *Group) StopAll() {
	g.mu.Lock()
	consumers := g.consumers
	g.consumers = make(map[string]*Consumer)
	g.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}
}
