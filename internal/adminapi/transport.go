package adminapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/tinytelemetry/errlens/internal/model"
)

// retryableStatus lists the responses that are retried on POST.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// checkRetry replays POST requests that come back with a retryable status.
// Transport errors are not retried; they degrade the client instead.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	if resp == nil || (resp.Request != nil && resp.Request.Method != http.MethodPost) {
		return false, nil
	}
	return retryableStatus[resp.StatusCode], nil
}

// newRetryClient builds the pooled client for one base URL. When retries are
// exhausted the last response is handed back so the caller sees its status.
func (c *Client) newRetryClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: c.timeout, Transport: c.baseTransport()}
	rc.RetryMax = c.maxRetries
	rc.RetryWaitMin = c.backoff
	rc.RetryWaitMax = c.backoff * 4
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			c.emit(model.EventDebug, fmt.Sprintf("retrying %s (attempt %d)", req.URL.Path, attempt+1))
		}
	}
	return rc.StandardClient()
}
