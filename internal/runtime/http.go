package runtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/twparser/internal/domain"
)

// ErrorBody is the error payload shared by the parser service and remote workers.
type ErrorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// FromHTTP maps a non-2xx response to a runtime error. An explicit errorCode in
// the body takes precedence over the status code.
func FromHTTP(status int, body *ErrorBody) *Error {
	msg := http.StatusText(status)
	if body != nil && body.Message != "" {
		msg = body.Message
	}
	if body != nil && body.ErrorCode != "" {
		return &Error{Code: domain.ErrorCode(body.ErrorCode), Message: msg}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Code: domain.ErrCodeRateLimit, Message: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Code: domain.ErrCodeSessionInvalid, Message: msg}
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return &Error{Code: domain.ErrCodeTimedOut, Message: msg}
	case status >= 500:
		return &Error{Code: domain.ErrCodeParserDown, Message: msg}
	default:
		return &Error{Code: domain.ErrCodeUnknown, Message: msg}
	}
}

// FromTransport wraps a transport-level failure.
func FromTransport(err error) *Error {
	return &Error{Code: domain.ErrCodeConnReset, Message: err.Error(), Err: err}
}

// HTTPClient is a JSON client shared by the HTTP-backed runtimes.
type HTTPClient struct {
	client *resty.Client
}

// NewHTTPClient creates a client for baseURL with a per-request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPClient{client: client}
}

// Resty exposes the underlying client for transport settings such as proxies.
func (c *HTTPClient) Resty() *resty.Client {
	return c.client
}

// Post sends body as JSON and decodes a 2xx response into result.
func (c *HTTPClient) Post(ctx context.Context, path string, body, result interface{}) error {
	req := c.client.R().SetContext(ctx).SetBody(body).SetError(&ErrorBody{})
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post(path)
	return c.check(ctx, resp, err)
}

// Get issues a GET and decodes a 2xx response into result.
func (c *HTTPClient) Get(ctx context.Context, path string, result interface{}) error {
	req := c.client.R().SetContext(ctx).SetError(&ErrorBody{})
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Get(path)
	return c.check(ctx, resp, err)
}

func (c *HTTPClient) check(ctx context.Context, resp *resty.Response, err error) error {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return &Error{Code: domain.ErrCodeTimedOut, Message: err.Error(), Err: err}
		}
		return FromTransport(err)
	}
	if resp.IsError() {
		body, _ := resp.Error().(*ErrorBody)
		return FromHTTP(resp.StatusCode(), body)
	}
	return nil
}
