// Package client talks to the controller on behalf of a dispatcher.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"logrelay/internal/models"

	"github.com/pterm/pterm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultTimeout = 30 * time.Second

// Controller is the HTTP client of one node. Every resource is addressed
// as {base}/{resource}/{node}.
type Controller struct {
	baseURL    string
	node       string
	httpClient *http.Client
	logger     *pterm.Logger
}

func NewController(baseURL, node string, timeout time.Duration, logger *pterm.Logger) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{
		baseURL: strings.TrimRight(baseURL, "/"),
		node:    node,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Node returns the name this client reports as.
func (c *Controller) Node() string {
	return c.node
}

func (c *Controller) url(resource string) string {
	return c.baseURL + "/" + resource + "/" + url.PathEscape(c.node)
}

func (c *Controller) FetchConfigurations(ctx context.Context) ([]models.Configuration, error) {
	var docs []models.Configuration
	if err := c.do(ctx, http.MethodGet, "config", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Controller) FetchCheckpoints(ctx context.Context) ([]models.Checkpoint, error) {
	var docs []models.Checkpoint
	if err := c.do(ctx, http.MethodGet, "checkpoints", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Controller) SendCheckpoints(ctx context.Context, docs []models.Checkpoint) error {
	if docs == nil {
		docs = []models.Checkpoint{}
	}
	return c.do(ctx, http.MethodPost, "checkpoints", docs, nil)
}

func (c *Controller) SendMetrics(ctx context.Context, msg models.MetricsMessage) error {
	return c.do(ctx, http.MethodPost, "metrics", msg, nil)
}

func (c *Controller) SendEvents(ctx context.Context, events []models.Event) error {
	return c.do(ctx, http.MethodPost, "events", events, nil)
}

func (c *Controller) do(ctx context.Context, method, resource string, in, out any) error {
	target := c.url(resource)

	ctx, span := otel.Tracer("logrelay/client").Start(ctx, "controller."+resource)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("node", c.node),
	)

	err := c.request(ctx, method, target, in, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.logger.Trace("Controller request completed", c.logger.Args("method", method, "url", target))
	return nil
}

func (c *Controller) request(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned status %d: %s", method, target, resp.StatusCode, string(responseBody))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", target, err)
	}
	return nil
}
