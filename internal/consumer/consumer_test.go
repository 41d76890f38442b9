package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-broadcast/internal/model"
)

type ackRecord struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ackRecord{tag: tag, acked: true})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) all() []ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ackRecord(nil), f.records...)
}

func TestConsumeLoopAcksHandledRequests(t *testing.T) {
	var mu sync.Mutex
	var got []model.BroadcastRequest
	handler := func(_ context.Context, tenantID string, req model.BroadcastRequest) error {
		assert.Equal(t, "t1", tenantID)
		if req.Message == "reject me" {
			return errors.New("invalid")
		}
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		return nil
	}

	c := newConsumer("t1", handler, zerolog.Nop())
	ack := &fakeAcknowledger{}
	msgs := make(chan amqp.Delivery, 3)
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, MessageId: "job-1",
		Body: []byte(`{"message":"hi","recipients":[{"number":"5511000000001"}]}`)}
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`not json`)}
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte(`{"message":"reject me"}`)}
	close(msgs)

	c.consumeLoop(msgs)

	assert.Equal(t, []ackRecord{
		{tag: 1, acked: true},
		{tag: 2},
		{tag: 3},
	}, ack.all())

	require.Len(t, got, 1)
	assert.Equal(t, "job-1", got[0].JobID)
	assert.Equal(t, "5511000000001", got[0].Recipients[0].Number)
}

func TestConsumeLoopStops(t *testing.T) {
	c := newConsumer("t1", func(context.Context, string, model.BroadcastRequest) error { return nil }, zerolog.Nop())
	msgs := make(chan amqp.Delivery)

	go c.consumeLoop(msgs)
	close(c.StopChan)

	select {
	case <-c.DoneChan:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestNewConsumerNaming(t *testing.T) {
	c := newConsumer("t1", nil, zerolog.Nop())
	assert.Equal(t, "tenant_t1_broadcasts", c.QueueName)
	assert.Equal(t, "consumer-t1", c.ConsumerTag)
}
