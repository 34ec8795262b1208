package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPWebhookCaller delivers trigger_webhook actions over HTTP, retrying
// transient failures with exponential backoff. 4xx responses are permanent:
// the receiver rejected the payload and a retry would not change that.
type HTTPWebhookCaller struct {
	client *http.Client

	maxElapsed time.Duration
}

var _ WebhookCaller = (*HTTPWebhookCaller)(nil)

// NewHTTPWebhookCaller creates a webhook caller. client may be nil to use a
// default with a ten second timeout; maxElapsed bounds total retry time and
// defaults to thirty seconds.
func NewHTTPWebhookCaller(client *http.Client, maxElapsed time.Duration) *HTTPWebhookCaller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}

	return &HTTPWebhookCaller{client: client, maxElapsed: maxElapsed}
}

func (w *HTTPWebhookCaller) CallWebhook(ctx context.Context, req WebhookRequest) error {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, strings.NewReader(req.Body))
		if err != nil {
			return backoff.Permanent(err)
		}

		if req.Headers["Content-Type"] == "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := w.client.Do(httpReq)
		if err != nil {
			return err
		}

		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}

		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
		}

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = w.maxElapsed

	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
