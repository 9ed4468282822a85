// Package transport builds the http clients used to talk to the image service
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DMarby/imageservice-client/internal/metrics"
	"github.com/DMarby/imageservice-client/tracing"
	"github.com/dghubble/oauth1"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTimeout is used when Config.Timeout is not set
const DefaultTimeout = 30 * time.Second

// Auth is the kind of authentication used for requests to the image service
type Auth string

// Supported authentication kinds
const (
	AuthNone   Auth = "none"
	AuthOAuth1 Auth = "oauth1"
	AuthOAuth2 Auth = "oauth2"
)

// ErrInvalidAuth is returned for unknown or incomplete authentication settings
var ErrInvalidAuth = errors.New("invalid authentication settings")

// Config holds the settings for an image service http client
type Config struct {
	Auth Auth

	// Token endpoint for the oauth2 client credentials grant
	AuthURL string

	// Consumer key and secret for oauth1, client id and secret for oauth2
	Key    string
	Secret string

	// Access token and secret for oauth1. For oauth2 without an AuthURL, Token is sent as a static bearer token
	Token       string
	TokenSecret string

	Timeout         time.Duration
	MaxConnsPerHost int
}

// NewHTTPClient returns an instrumented http client that authenticates requests according to cfg.
// ctx is retained by the oauth transports for fetching tokens, it should live as long as the client.
func NewHTTPClient(ctx context.Context, cfg Config, tracer *tracing.Tracer) (*http.Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxConnsPerHost = cfg.MaxConnsPerHost
	base.MaxIdleConnsPerHost = cfg.MaxConnsPerHost

	plain := &http.Client{
		Transport: otelhttp.NewTransport(
			metrics.InstrumentRoundTripper(base),
			otelhttp.WithTracerProvider(tracer),
			otelhttp.WithPropagators(tracing.Propagator()),
		),
	}

	var client *http.Client
	switch cfg.Auth {
	case AuthNone, "":
		client = plain
	case AuthOAuth1:
		if cfg.Key == "" || cfg.Secret == "" {
			return nil, fmt.Errorf("%w: oauth1 requires a key and a secret", ErrInvalidAuth)
		}

		ctx = context.WithValue(ctx, oauth1.HTTPClient, plain)
		client = oauth1.NewConfig(cfg.Key, cfg.Secret).Client(ctx, oauth1.NewToken(cfg.Token, cfg.TokenSecret))
	case AuthOAuth2:
		ctx = context.WithValue(ctx, oauth2.HTTPClient, plain)
		switch {
		case cfg.AuthURL != "":
			credentials := &clientcredentials.Config{
				ClientID:     cfg.Key,
				ClientSecret: cfg.Secret,
				TokenURL:     cfg.AuthURL,
			}
			client = credentials.Client(ctx)
		case cfg.Token != "":
			client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
		default:
			return nil, fmt.Errorf("%w: oauth2 requires an auth url or a token", ErrInvalidAuth)
		}
	default:
		return nil, fmt.Errorf("%w: unknown auth %q", ErrInvalidAuth, cfg.Auth)
	}

	client.Timeout = cfg.Timeout
	if client.Timeout <= 0 {
		client.Timeout = DefaultTimeout
	}

	return client, nil
}

// StatusError is returned for responses with a non 2xx status code
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %s", e.Status)
}

// CheckResponse returns a *StatusError for responses with a non 2xx status code.
// The body of such responses is drained and closed.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	return &StatusError{
		Code:   resp.StatusCode,
		Status: resp.Status,
	}
}
