// Package httpx is the transport used by the source adapters: a resty client
// with a fixed timeout, a bounded number of attempts and exponential backoff.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrTransport is returned once every attempt of a request has failed.
var ErrTransport = errors.New("transport failure")

const (
	DefaultTimeout    = 20 * time.Second
	DefaultAttempts   = 3
	DefaultBackoff    = time.Second
	DefaultMaxBackoff = 8 * time.Second
	DefaultUserAgent  = "contribs/1.0 (+https://github.com/aheev/my-portfolio)"
)

type Options struct {
	Timeout    time.Duration
	Attempts   int // total tries including the first one
	Backoff    time.Duration
	MaxBackoff time.Duration
	UserAgent  string
	Logger     zerolog.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = DefaultMaxBackoff
		if o.MaxBackoff < o.Backoff {
			o.MaxBackoff = o.Backoff
		}
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
}

// baseClient bounds dialing and TLS by the request timeout so a stalled
// upstream fails within one attempt.
func baseClient(timeout time.Duration) *http.Client {
	handshake := min(timeout/2, 10*time.Second)
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: handshake, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   handshake,
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       time.Minute,
		},
	}
}

// Client performs retried requests. Non-2xx responses and transport errors
// are retried; the last failure is reported wrapped in ErrTransport.
type Client struct {
	rc       *resty.Client
	attempts int
}

func New(opts Options) *Client {
	opts.defaults()
	rc := resty.NewWithClient(baseClient(opts.Timeout)).
		SetRetryCount(opts.Attempts-1).
		SetRetryWaitTime(opts.Backoff).
		SetRetryMaxWaitTime(opts.MaxBackoff).
		SetHeader("User-Agent", opts.UserAgent).
		SetLogger(restyLogger{opts.Logger}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r == nil || !r.IsSuccess()
		})
	return &Client{rc: rc, attempts: opts.Attempts}
}

// Request describes one call. Body is only used by PostJSON.
type Request struct {
	URL    string
	Query  map[string]string
	Header map[string]string
	Body   any
}

func (c *Client) do(ctx context.Context, method string, req Request) ([]byte, error) {
	r := c.rc.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if len(req.Header) > 0 {
		r.SetHeaders(req.Header)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}
	resp, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s after %d attempt(s): %v", ErrTransport, method, req.URL, c.attempts, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s %s after %d attempt(s): status %d", ErrTransport, method, req.URL, c.attempts, resp.StatusCode())
	}
	return resp.Body(), nil
}

// GetText returns the response body as a string.
func (c *Client) GetText(ctx context.Context, req Request) (string, error) {
	b, err := c.do(ctx, http.MethodGet, req)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetJSON decodes the response into out. Numbers decode as json.Number when
// out is an interface or map.
func (c *Client) GetJSON(ctx context.Context, req Request, out any) error {
	b, err := c.do(ctx, http.MethodGet, req)
	if err != nil {
		return err
	}
	return decode(b, out, req.URL)
}

// PostJSON sends req.Body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, req Request, out any) error {
	b, err := c.do(ctx, http.MethodPost, req)
	if err != nil {
		return err
	}
	return decode(b, out, req.URL)
}

func decode(b []byte, out any, url string) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// restyLogger routes resty's own messages into zerolog.
type restyLogger struct{ l zerolog.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error().Msgf(format, v...) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn().Msgf(format, v...) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug().Msgf(format, v...) }
