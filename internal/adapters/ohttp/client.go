package ohttp

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxIdleConns          = 100
	DefaultMaxIdleConnsPerHost   = 10
	DefaultMaxConnsPerHost       = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAlive             = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
)

type Config struct {
	Timeout time.Duration
	// RatePerSecond caps outgoing requests; zero disables the limiter.
	RatePerSecond float64
	Burst         int
	Transport     *http.Transport
}

type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

func DefaultTransport() *http.Transport {
	return createOptimizedTransport()
}

func NewClient(configs ...Config) *Client {
	var cfg Config
	if len(configs) > 0 {
		cfg = configs[0]
	}

	t := cfg.Transport
	if t == nil {
		t = DefaultTransport()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(t),
			Timeout:   timeout,
		},
	}

	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return c
}

func createOptimizedTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     DefaultMaxConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,

		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,

		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: false,
		},
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: DefaultExpectContinueTimeout,

		DisableCompression: false,
		DisableKeepAlives:  false,
	}
}

// Do waits for the rate limiter, when configured, and sends the request.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.wait(req.Context()); err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
