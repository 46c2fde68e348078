package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type fakeChannel struct {
	mu          sync.Mutex
	exchanges   []string
	published   []amqp.Publishing
	keys        []string
	bindings    []string
	deliveries  chan amqp.Delivery
	publishErr  error
	hasDeadline bool
	closed      bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.hasDeadline = ctx.Deadline()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if name == "" {
		name = "amq.gen-test"
	}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, _ string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, name+"="+key)
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.deliveries)
	}
	return nil
}

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcker struct {
	mu      sync.Mutex
	records []ackRecord
	done    chan struct{}
}

func newFakeAcker() *fakeAcker { return &fakeAcker{done: make(chan struct{}, 8)} }

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.record(ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.record(ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.record(ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) record(r ackRecord) {
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
	a.done <- struct{}{}
}

func (a *fakeAcker) wait(t *testing.T, n int) []ackRecord {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-a.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for ack %d", i+1)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

func TestNewClient_DeclaresTopicExchange(t *testing.T) {
	ch := newFakeChannel()
	if _, err := NewClient(ch, "", zerolog.Nop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.exchanges) != 1 || ch.exchanges[0] != DefaultExchange+":topic" {
		t.Errorf("expected default topic exchange, got %v", ch.exchanges)
	}
}

func TestClient_Publish(t *testing.T) {
	ch := newFakeChannel()
	c, err := NewClient(ch, "agenda.test", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Publish(context.Background(), "appointment.booked", []byte(`{"id":"1"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.keys) != 1 || ch.keys[0] != "appointment.booked" {
		t.Fatalf("unexpected routing keys: %v", ch.keys)
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected publishing: %+v", msg)
	}
	if !ch.hasDeadline {
		t.Error("expected publish to run under a timeout")
	}

	ch.publishErr = errors.New("channel closed")
	if err := c.Publish(context.Background(), "hold.created", nil); err == nil {
		t.Error("expected publish error")
	}
}

func TestClient_Subscribe_AcksAndNacks(t *testing.T) {
	ch := newFakeChannel()
	c, err := NewClient(ch, "agenda.test", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	h := func(_ context.Context, key string, body []byte) error {
		mu.Lock()
		seen = append(seen, key)
		mu.Unlock()
		if string(body) == "bad" {
			return errors.New("decode failed")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Subscribe(ctx, "", "", h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.bindings) != 1 || ch.bindings[0] != "amq.gen-test=#" {
		t.Errorf("expected catch-all binding, got %v", ch.bindings)
	}

	acker := newFakeAcker()
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, RoutingKey: "appointment.booked", Body: []byte("{}")}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, RoutingKey: "hold.created", Body: []byte("bad")}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, RoutingKey: "hold.created", Body: []byte("bad"), Redelivered: true}

	records := acker.wait(t, 3)
	want := []ackRecord{
		{tag: 1, ack: true},
		{tag: 2, requeue: true},
		{tag: 3, requeue: false},
	}
	for i, w := range want {
		if records[i] != w {
			t.Errorf("delivery %d: expected %+v, got %+v", i+1, w, records[i])
		}
	}

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("expected 3 handled deliveries, got %v", seen)
	}
}
