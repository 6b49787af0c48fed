package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/GoPolymarket/settlegate/internal/pkg/metrics"
	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

type WebhookOptions struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Encoding   signer.Encoding
}

// WebhookNotifier posts completed settlements to the platform's webhook URL,
// signed with the platform secret the same way platforms sign their requests.
type WebhookNotifier struct {
	registry *PlatformRegistry
	client   *http.Client
	encoding signer.Encoding
	executor failsafe.Executor[int]
}

func NewWebhookNotifier(registry *PlatformRegistry, opts WebhookOptions) *WebhookNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 10 * opts.BaseDelay
	}
	if opts.Encoding == "" {
		opts.Encoding = signer.EncodingHex
	}
	retry := retrypolicy.NewBuilder[int]().
		WithBackoff(opts.BaseDelay, opts.MaxDelay).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(status int, err error) bool {
			return err != nil || status >= 500 || status == http.StatusTooManyRequests
		}).
		Build()

	return &WebhookNotifier{
		registry: registry,
		client:   &http.Client{Timeout: opts.Timeout},
		encoding: opts.Encoding,
		executor: failsafe.With[int](retry),
	}
}

// Run delivers events until ctx is done or the channel closes.
func (n *WebhookNotifier) Run(ctx context.Context, events <-chan *model.SettlementEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := n.Deliver(ctx, ev); err != nil {
				logger.Warn("webhook delivery failed",
					"platform_id", ev.Transaction.PlatformID,
					"transaction_id", ev.Transaction.ID,
					"error", err.Error(),
				)
			}
		}
	}
}

// Deliver sends one event. Events for platforms without a webhook URL, and
// failed transactions, are skipped.
func (n *WebhookNotifier) Deliver(ctx context.Context, ev *model.SettlementEvent) error {
	if ev == nil || ev.Transaction == nil || ev.Transaction.Status != model.StatusCompleted {
		return nil
	}
	p, err := n.registry.Lookup(ctx, ev.Transaction.PlatformID)
	if err != nil {
		return err
	}
	if p.WebhookURL == "" {
		return nil
	}
	target, err := url.Parse(p.WebhookURL)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	status, err := n.executor.WithContext(ctx).Get(func() (int, error) {
		return n.post(ctx, p, target, body)
	})
	switch {
	case err != nil:
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return err
	case status >= 300:
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook returned status %d", status)
	}
	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, p *model.Platform, target *url.URL, body []byte) (int, error) {
	ts := signer.Timestamp(time.Now())
	sig, err := signer.Sign(p.Secret, ts, http.MethodPost, target.RequestURI(), body, n.encoding)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signer.HeaderPlatformToken, p.ID)
	req.Header.Set(signer.HeaderTimestamp, ts)
	req.Header.Set(signer.HeaderSignature, sig)

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
