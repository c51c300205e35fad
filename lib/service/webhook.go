package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/evpower/balancehub/db/models"
)

// StartWebhookSubscription posts every reconciled top-up to WebhookUrl.
func (svc *BalanceHubService) StartWebhookSubscription(ctx context.Context) {
	svc.Logger.Infof("Starting webhook subscription with webhook url %s", svc.Config.WebhookUrl)
	topUps := make(chan models.TopUpEvent, 64)
	subId := svc.InvoicePubSub.Subscribe(TopicTopUps, topUps)
	defer svc.InvoicePubSub.Unsubscribe(subId, TopicTopUps)
	client := &http.Client{Timeout: 10 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-topUps:
			if err := svc.postToWebhook(ctx, client, event); err != nil {
				svc.Logger.Errorf("Webhook delivery failed invoice_id:%s: %v", event.InvoiceID, err)
			}
		}
	}
}

func (svc *BalanceHubService) postToWebhook(ctx context.Context, client *http.Client, event models.TopUpEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return backoff.Permanent(err)
	}

	post := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.Config.WebhookUrl, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := fmt.Errorf("webhook status code was %d, body: %s", resp.StatusCode, msg)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	return backoff.Retry(post, backoff.WithContext(b, ctx))
}
