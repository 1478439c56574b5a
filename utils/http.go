package utils

import (
	"net/http"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

type HTTPClientOption func(*http.Client)

func WithTimeout(timeout time.Duration) HTTPClientOption {
	return func(c *http.Client) {
		c.Timeout = timeout
	}
}

func WithTransport(transport http.RoundTripper) HTTPClientOption {
	return func(c *http.Client) {
		c.Transport = transport
	}
}

func NewHTTPClient(opts ...HTTPClientOption) *http.Client {
	client := &http.Client{
		Timeout: defaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func DefaultHTTPClient() *http.Client {
	return NewHTTPClient()
}
