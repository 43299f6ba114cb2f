// Package whttp is a small wrapper around retryablehttp used by the token
// exchange and the snapshot API calls. Download streaming lives in the
// snapshot package; everything here buffers the (small, JSON) body.
package whttp

import (
	"context"
	"io"
	stdlog "log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Body       string
}

// NewClient builds a retryablehttp client with its chatty default logger
// discarded. retryMax 0 disables retries entirely (submit is not idempotent).
func NewClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = stdlog.New(io.Discard, "", 0)
	c.RetryMax = retryMax
	c.HTTPClient.Timeout = timeout
	// Hand back the final response instead of a "giving up" error, so a 429
	// or 5xx that exhausts the budget still surfaces its status and body.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// Send performs one HTTP exchange and buffers the response body. A non-2xx
// status is not an error here; callers decide what each status means.
func Send(ctx context.Context, client *retryablehttp.Client, wReq *Request) (*Response, error) {
	var body interface{}
	if len(wReq.Body) > 0 {
		body = wReq.Body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, wReq.Method, wReq.URL, body)
	if err != nil {
		return nil, err
	}

	// Direct map assignment: the vendor's WM_* header names must not be
	// MIME-canonicalized on the wire.
	for name, values := range wReq.Header {
		req.Header[name] = values
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Body: string(bodyBytes)}, nil
}
