package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ticos/ticos-e2e/internal/api/client"
	"github.com/ticos/ticos-e2e/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewFromConfig returns a Ticos API client for the project named in cfg.
func NewFromConfig(cfg *config.Config, log logrus.FieldLogger, opts ...client.ClientOption) (*client.Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Service.RequestTimeout.Duration,
	}
	ref := client.WithRequestEditorFn(func(ctx context.Context, req *http.Request) error {
		req.Header.Set(middleware.RequestIDHeader, uuid.NewString())
		return nil
	})
	base := []client.ClientOption{
		client.WithHTTPClient(httpClient),
		client.WithRequestEditorFn(client.BasicAuth(cfg.Service.OrganizationToken.Value())),
		ref,
		client.WithLogger(log),
	}
	c, err := client.NewClient(cfg.Service.BaseUrl, cfg.Service.OrganizationSlug, cfg.Service.ProjectSlug, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating api client: %w", err)
	}
	return c, nil
}

// NewFromConfigFile returns a Ticos API client using the config read from the given file.
func NewFromConfigFile(filename string, log logrus.FieldLogger) (*client.Client, error) {
	cfg, err := config.NewFromFile(filename)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, log)
}
