package service

import (
	"context"

	"github.com/evpower/balancehub/db/models"
)

// SubscribeTopUps hands the stream of reconciled top-ups to an exporter such
// as the RabbitMQ publisher.
func (svc *BalanceHubService) SubscribeTopUps() (<-chan models.TopUpEvent, func(), error) {
	events := make(chan models.TopUpEvent, 64)
	subId := svc.InvoicePubSub.Subscribe(TopicTopUps, events)
	return events, func() { svc.InvoicePubSub.Unsubscribe(subId, TopicTopUps) }, nil
}

// HandleRemoteTopUpEvent applies a top-up reconciled by another instance to
// this instance's state: its cached balance, its watchers and its monitor.
func (svc *BalanceHubService) HandleRemoteTopUpEvent(ctx context.Context, event models.TopUpEvent) error {
	if event.Origin == svc.InstanceID {
		return nil
	}
	svc.Logger.Debugf("Received remote top-up event invoice_id:%s client_id:%s status:%s", event.InvoiceID, event.ClientID, event.Status)
	svc.BalanceCache.Invalidate(ctx, event.ClientID)
	if event.Terminal && svc.Poller.Cancel(event.InvoiceID) {
		svc.Logger.Infof("Stopped polling invoice reconciled elsewhere invoice_id:%s", event.InvoiceID)
	}
	// watchers only; republishing on TopicTopUps would echo the event back
	svc.InvoicePubSub.Publish(event.InvoiceID, event)
	return nil
}

func (svc *BalanceHubService) StartRabbitMqPublisher(ctx context.Context) error {
	return svc.RabbitMQClient.StartPublishTopUps(ctx, svc.SubscribeTopUps)
}

func (svc *BalanceHubService) StartRabbitMqConsumer(ctx context.Context) error {
	return svc.RabbitMQClient.SubscribeToTopUps(ctx, svc.HandleRemoteTopUpEvent)
}
