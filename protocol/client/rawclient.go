// Package client speaks the Git Smart HTTP protocol version 2 against a
// single upstream repository. It covers exactly the read-only surface the
// mirror needs: the capability advertisement, ls-refs, and fetch.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RawClient issues Git protocol v2 requests over HTTP/HTTPS transport
// against one repository URL. It owns no state beyond the connection pool
// of its http.Client; response buffers live only for the duration of a
// single call.
type RawClient struct {
	// Base URL of the Git repository
	base *url.URL
	// HTTP client used for making requests
	client *http.Client
	// User-Agent header value for requests
	userAgent string
	// Bearer token for the Authorization header, if configured
	bearerToken string
}

// Option configures a RawClient.
type Option func(*RawClient) error

// WithHTTPClient sets the HTTP client used for requests. The default is a
// zero-value http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *RawClient) error {
		if httpClient == nil {
			return errors.New("HTTP client cannot be nil")
		}
		c.client = httpClient
		return nil
	}
}

// WithUserAgent sets the User-Agent header value for requests.
func WithUserAgent(userAgent string) Option {
	return func(c *RawClient) error {
		c.userAgent = userAgent
		return nil
	}
}

// WithBearerToken sets the bearer token sent in the Authorization header.
// An empty token leaves requests unauthenticated.
func WithBearerToken(token string) Option {
	return func(c *RawClient) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a client for the given repository URL. Only HTTP and HTTPS
// URLs are supported.
func New(repo string, opts ...Option) (*RawClient, error) {
	if repo == "" {
		return nil, errors.New("repository URL cannot be empty")
	}

	u, err := url.Parse(repo)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("only HTTP and HTTPS URLs are supported")
	}

	u.Path = strings.TrimRight(u.Path, "/")

	c := &RawClient{
		base:   u,
		client: &http.Client{},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// addDefaultHeaders adds the default headers to the request.
func (c *RawClient) addDefaultHeaders(req *http.Request) {
	req.Header.Add("Git-Protocol", "version=2")
	if c.userAgent == "" {
		c.userAgent = "git/aur-mirror"
	}
	req.Header.Add("User-Agent", c.userAgent)

	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
}
