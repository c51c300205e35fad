package rabbitmq_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/rabbitmq"
	"github.com/evpower/balancehub/rabbitmq/mock_rabbitmq"
	"github.com/golang/mock/gomock"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acknowledger records how deliveries were settled.
type acknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *acknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *acknowledger) settled() ([]uint64, []uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64{}, a.acked...), append([]uint64{}, a.nacked...)
}

func TestSubscribeToTopUps(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient, rabbitmq.WithTopUpExchange("test_topup"))
	require.NoError(t, err)

	ch := make(chan amqp.Delivery, 3)
	amqpClient.EXPECT().
		Listen(gomock.Any(), gomock.Eq("test_topup"), gomock.Eq("topup.#"), gomock.Any(), gomock.Any()).
		Times(1).
		Return(ch, nil)

	paid, err := json.Marshal(models.TopUpEvent{InvoiceID: "inv-1", ClientID: "client-1", Status: "paid", Amount: decimal.NewFromInt(100), Terminal: true})
	require.NoError(t, err)
	canceled, err := json.Marshal(models.TopUpEvent{InvoiceID: "inv-2", ClientID: "client-1", Status: "canceled", Terminal: true})
	require.NoError(t, err)

	ack := &acknowledger{}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: paid}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("not json")}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: canceled}

	var mu sync.Mutex
	received := []models.TopUpEvent{}
	handler := func(ctx context.Context, event models.TopUpEvent) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
		if event.Status == "canceled" {
			return assert.AnError
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- client.SubscribeToTopUps(ctx, handler)
	}()

	assert.Eventually(t, func() bool {
		acked, nacked := ack.settled()
		return len(acked)+len(nacked) == 3
	}, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	acked, nacked := ack.settled()
	assert.Equal(t, []uint64{1}, acked)
	assert.Equal(t, []uint64{2, 3}, nacked)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "inv-1", received[0].InvoiceID)
	assert.True(t, received[0].Amount.Equal(decimal.NewFromInt(100)))
}

func TestSubscribeToTopUpsDisconnected(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient)
	require.NoError(t, err)

	ch := make(chan amqp.Delivery)
	close(ch)
	amqpClient.EXPECT().
		Listen(gomock.Any(), gomock.Eq("balancehub_topup"), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ch, nil)

	err = client.SubscribeToTopUps(context.Background(), func(ctx context.Context, event models.TopUpEvent) error {
		return nil
	})
	assert.ErrorIs(t, err, rabbitmq.ErrDisconnected)
}

func TestStartPublishTopUps(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient, rabbitmq.WithTopUpExchange("test_topup"))
	require.NoError(t, err)

	amqpClient.EXPECT().
		ExchangeDeclare(gomock.Eq("test_topup"), gomock.Eq("topic"), gomock.Eq(true), gomock.Eq(false), gomock.Eq(false), gomock.Eq(false), gomock.Nil()).
		Return(nil)

	published := make(chan models.TopUpEvent, 1)
	amqpClient.EXPECT().
		PublishWithContext(gomock.Any(), gomock.Eq("test_topup"), gomock.Eq("topup.paid"), gomock.Eq(false), gomock.Eq(false), gomock.Any()).
		DoAndReturn(func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
			assert.Equal(t, "application/json", msg.ContentType)
			event := models.TopUpEvent{}
			assert.NoError(t, json.Unmarshal(msg.Body, &event))
			published <- event
			return nil
		})

	events := make(chan models.TopUpEvent, 1)
	unsubscribed := make(chan struct{})
	subscribe := func() (<-chan models.TopUpEvent, func(), error) {
		return events, func() { close(unsubscribed) }, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- client.StartPublishTopUps(ctx, subscribe)
	}()

	events <- models.TopUpEvent{InvoiceID: "inv-1", Status: "paid", Terminal: true}
	select {
	case event := <-published:
		assert.Equal(t, "inv-1", event.InvoiceID)
	case <-time.After(time.Second):
		t.Fatal("top-up event was not published")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	<-unsubscribed
}

func TestTopUpRoutingKey(t *testing.T) {
	assert.Equal(t, "topup.expired", rabbitmq.TopUpRoutingKey(models.TopUpEvent{Status: "expired"}))
}
