package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/service/ratelimit"
	pkghttp "TradePipe/pkg/http"

	"github.com/bytedance/sonic"
)

const WebhookName = "webhook_executor"

var ErrRateLimited = errors.New("webhook rate limited")

// WebhookConfig configures the webhook executor.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// Burst and RatePerSec size one token bucket per strategy.
	Burst      float64
	RatePerSec float64
}

// Webhook POSTs each action as JSON.
type Webhook struct {
	cfg     WebhookConfig
	client  *pkghttp.Client
	limiter *ratelimit.Limiter
}

var _ ActionExecutor = (*Webhook)(nil)

func NewWebhook(cfg WebhookConfig, client *pkghttp.Client, limiter *ratelimit.Limiter) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout))
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &Webhook{cfg: cfg, client: client, limiter: limiter}, nil
}

func (e *Webhook) Name() string { return WebhookName }

func (e *Webhook) Execute(ctx context.Context, a models.Action) error {
	if !e.limiter.Allow(a.Strategy, e.cfg.Burst, e.cfg.RatePerSec) {
		return failed(WebhookName, ErrRateLimited)
	}
	body, err := sonic.ConfigFastest.Marshal(a)
	if err != nil {
		return failed(WebhookName, err)
	}

	headers := map[string]string{
		"Content-Type":  "application/json",
		"X-Action-Id":   a.ID.String(),
		"X-Action-Kind": string(a.Kind),
	}
	for k, v := range e.cfg.Headers {
		headers[k] = v
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	err = e.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodPost,
		URL:     e.cfg.URL,
		Headers: headers,
		Body:    body,
	}, nil)
	if err != nil {
		return failed(WebhookName, err)
	}
	return nil
}
