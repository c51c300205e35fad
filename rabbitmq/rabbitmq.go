package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/evpower/balancehub/db/models"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

//go:generate mockgen -destination=./mock_rabbitmq/rabbitmq.go github.com/evpower/balancehub/rabbitmq AMQPClient

// bufPool reuses the buffers top-up events are encoded into.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"

	topUpRoutingKeyPattern = "topup.#"
)

var ErrDisconnected = errors.New("disconnected from RabbitMQ")

type (
	TopUpEventHandler = func(ctx context.Context, event models.TopUpEvent) error
	// SubscribeToTopUpsFunc hands out the local stream of reconciled top-ups.
	SubscribeToTopUpsFunc = func() (events <-chan models.TopUpEvent, unsubscribe func(), err error)
)

type Client interface {
	// SubscribeToTopUps delivers top-up events published by any instance.
	SubscribeToTopUps(context.Context, TopUpEventHandler) error
	StartPublishTopUps(context.Context, SubscribeToTopUpsFunc) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient

	logger *lecho.Logger

	topUpExchange          string
	topUpConsumerQueueName string
}

type ClientOption = func(client *DefaultClient)

func WithTopUpExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		if exchange != "" {
			client.topUpExchange = exchange
		}
	}
}

// WithTopUpConsumerQueueName names this instance's queue. An empty name lets
// the broker generate one.
func WithTopUpConsumerQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.topUpConsumerQueueName = name
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

func NewClient(amqpClient AMQPClient, options ...ClientOption) (Client, error) {
	client := &DefaultClient{
		amqpClient: amqpClient,

		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		topUpExchange: "balancehub_topup",
	}

	for _, opt := range options {
		opt(client)
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

func (client *DefaultClient) SubscribeToTopUps(ctx context.Context, handler TopUpEventHandler) error {
	// every instance keeps its own cache, so every instance needs its own
	// queue instead of sharing the load on one
	deliveryChan, err := client.amqpClient.Listen(ctx,
		client.topUpExchange,
		topUpRoutingKeyPattern,
		client.topUpConsumerQueueName,
		WithDurable(false),
		WithAutoDelete(true),
		WithExclusive(true),
	)
	if err != nil {
		return err
	}

	client.logger.Info("Starting RabbitMQ top-up consumer loop")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveryChan:
			if !ok {
				return ErrDisconnected
			}
			var event models.TopUpEvent

			err := json.Unmarshal(delivery.Body, &event)
			if err != nil {
				captureErr(client.logger, err)

				// badly formatted events will never succeed, drop them
				if err := delivery.Nack(false, false); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			err = handler(ctx, event)
			if err != nil {
				captureErr(client.logger, err)

				// requeueing a failing event would loop
				if err := delivery.Nack(false, false); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			if err := delivery.Ack(false); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) StartPublishTopUps(ctx context.Context, subscribeFunc SubscribeToTopUpsFunc) error {
	err := client.amqpClient.ExchangeDeclare(
		client.topUpExchange,
		// topic is a type of exchange that allows routing messages to different queue's bases on a routing key
		"topic",
		// Durable and Non-Auto-Deleted exchanges will survive server restarts and remain
		// declared when there are no remaining bindings.
		true,
		false,
		// Non-Internal exchange's accept direct publishing
		false,
		// Nowait: We set this to false as we want to wait for a server response
		// to check whether the exchange was created succesfully
		false,
		nil,
	)
	if err != nil {
		return err
	}

	events, unsubscribe, err := subscribeFunc()
	if err != nil {
		return err
	}
	defer unsubscribe()

	client.logger.Info("Starting rabbitmq top-up publisher")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := client.publishTopUp(ctx, event); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) publishTopUp(ctx context.Context, event models.TopUpEvent) error {
	payload := bufPool.Get().(*bytes.Buffer)
	defer func() {
		payload.Reset()
		bufPool.Put(payload)
	}()
	if err := json.NewEncoder(payload).Encode(event); err != nil {
		return err
	}

	key := TopUpRoutingKey(event)
	err := client.amqpClient.PublishWithContext(ctx,
		client.topUpExchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType: contentTypeJSON,
			Body:        payload.Bytes(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish top-up %s: %w", event.InvoiceID, err)
	}

	client.logger.Debugf("Successfully published top-up event with key %s invoice_id:%s", key, event.InvoiceID)
	return nil
}

func TopUpRoutingKey(event models.TopUpEvent) string {
	return fmt.Sprintf("topup.%s", event.Status)
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
