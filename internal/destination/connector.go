package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"logrelay/internal/models"
)

// ErrNotConfigured is returned by a post attempt when the destination lacks
// the settings its connector needs. The attempt is retried like any other
// failure until the destination is reconfigured.
var ErrNotConfigured = errors.New("destination is not configured for dispatch")

// Connector delivers a batch of records.
type Connector interface {
	Post(ctx context.Context, batch []models.Record) error
}

// NewConnector picks the connector named by the destination. Missing
// settings are reported by Post, not here.
func NewConnector(doc models.Destination, client *http.Client, laEndpoint string) Connector {
	urlConn := &URLConnector{URL: doc.URL, Client: client}
	laConn := &LogAnalyticsConnector{
		WorkspaceID:  doc.WorkspaceID,
		WorkspaceKey: doc.WorkspaceKey,
		LogType:      doc.LogType,
		Endpoint:     laEndpoint,
		Client:       client,
	}

	switch strings.ToLower(doc.Connector) {
	case strings.ToLower(models.ConnectorURL):
		return urlConn
	case strings.ToLower(models.ConnectorLogAnalytics):
		return laConn
	case strings.ToLower(models.ConnectorAMQP):
		return NewAMQPConnector(doc.URL, doc.Exchange, doc.ExchangeType, doc.RoutingKey)
	default:
		return &autoConnector{la: laConn, url: urlConn}
	}
}

// autoConnector prefers Log Analytics when its credentials are present and
// falls back to the URL.
type autoConnector struct {
	la  *LogAnalyticsConnector
	url *URLConnector
}

func (a *autoConnector) Post(ctx context.Context, batch []models.Record) error {
	switch {
	case a.la.configured():
		return a.la.Post(ctx, batch)
	case a.url.URL != "":
		return a.url.Post(ctx, batch)
	default:
		return ErrNotConfigured
	}
}

// URLConnector posts the batch as a JSON array.
type URLConnector struct {
	URL    string
	Client *http.Client
}

func (c *URLConnector) Post(ctx context.Context, batch []models.Record) error {
	if c.URL == "" {
		return fmt.Errorf("url connector: %w", ErrNotConfigured)
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return do(c.Client, req)
}

func do(client *http.Client, req *http.Request) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned status %d: %s", req.URL.Host, resp.StatusCode, string(responseBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
