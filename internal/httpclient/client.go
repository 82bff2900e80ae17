package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"

	ierr "github.com/tokenrail/tokenrail/internal/errors"

	"github.com/hashicorp/go-retryablehttp"
)

// Request represents an HTTP request
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// Client interface for making HTTP requests
type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// DefaultClient implements the Client interface on top of retryablehttp.
// Transient failures (connection errors, 429, 5xx) are retried with
// exponential backoff before surfacing an error to the caller.
type DefaultClient struct {
	client *retryablehttp.Client
}

// NewDefaultClient creates a new DefaultClient
func NewDefaultClient() Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &DefaultClient{
		client: rc,
	}
}

// Send makes an HTTP request and returns the response
func (c *DefaultClient) Send(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Please check the request payload").
			Mark(ierr.ErrHTTPClient)
	}

	if req.Body != nil {
		httpReq.ContentLength = int64(len(req.Body))
		httpReq.Header.Set("Content-Type", "application/json")
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Please check the request payload").
			Mark(ierr.ErrHTTPClient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Please check the request payload").
			Mark(ierr.ErrHTTPClient)
	}

	headers := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	// Retries are exhausted by this point, so any remaining non-2xx is
	// a real upstream failure.
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, NewError(resp.StatusCode, respBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    headers,
	}, nil
}
