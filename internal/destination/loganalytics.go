package destination

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"logrelay/internal/models"
)

const logAnalyticsTimestamp = "2006-01-02T15:04:05Z"

// LogAnalyticsConnector posts to the HTTP Data Collector API with a
// SharedKey signature.
type LogAnalyticsConnector struct {
	WorkspaceID  string
	WorkspaceKey string // base64
	LogType      string
	// Endpoint overrides the workspace URL.
	Endpoint string
	Client   *http.Client
	Now      func() time.Time
}

func (c *LogAnalyticsConnector) configured() bool {
	return c.WorkspaceID != "" && c.WorkspaceKey != "" && c.LogType != ""
}

func (c *LogAnalyticsConnector) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.ods.opinsights.azure.com/api/logs?api-version=2016-04-01", c.WorkspaceID)
}

// Signature signs the canonical request string with the workspace key.
func Signature(workspaceKey, date string, length int) (string, error) {
	key, err := base64.StdEncoding.DecodeString(workspaceKey)
	if err != nil {
		return "", fmt.Errorf("workspace key is not base64: %w", err)
	}
	canonical := "POST\n" + strconv.Itoa(length) + "\napplication/json\nx-ms-date:" + date + "\n/api/logs"
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *LogAnalyticsConnector) Post(ctx context.Context, batch []models.Record) error {
	if !c.configured() {
		return fmt.Errorf("log analytics connector: %w", ErrNotConfigured)
	}

	for _, rec := range batch {
		if ts, ok := rec[models.FieldTimestamp].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				rec[models.FieldTimestamp] = parsed.UTC().Format(logAnalyticsTimestamp)
			}
		}
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	date := now().UTC().Format(http.TimeFormat)
	signature, err := Signature(c.WorkspaceKey, date, len(payload))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Log-Type", c.LogType)
	req.Header.Set("x-ms-date", date)
	req.Header.Set("time-generated-field", models.FieldTimestamp)
	req.Header.Set("Authorization", "SharedKey "+c.WorkspaceID+":"+signature)

	return do(c.Client, req)
}
