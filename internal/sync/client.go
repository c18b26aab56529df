package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	analytics "filterwatch/internal/analytics/domain"
	devices "filterwatch/internal/devices/domain"
	"filterwatch/internal/observability/metrics"
)

const (
	defaultAttempts = 3
	defaultBackoff  = time.Second
	tokenLifetime   = 5 * time.Minute
)

// Client pushes accounting events to the companion cloud service. Every
// request carries a short-lived HS256 bearer token. Delivery is best
// effort with bounded retries; callers treat failures as non-fatal.
type Client struct {
	url      string
	secret   []byte
	issuer   string
	client   *http.Client
	attempts int
	backoff  time.Duration
	logger   *log.Logger
}

// NewClient constructs a sync client.
func NewClient(url string, secret []byte, issuer string, logger *log.Logger) (*Client, error) {
	if url == "" {
		return nil, errors.New("sync client: empty url")
	}
	if len(secret) == 0 {
		return nil, errors.New("sync client: empty secret")
	}
	return &Client{
		url:      url,
		secret:   secret,
		issuer:   issuer,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		logger:   logger,
	}, nil
}

type correctionPayload struct {
	Kind               string `json:"kind"`
	DeviceKey          string `json:"device_key"`
	Day                string `json:"day"`
	ReportedSeconds    int64  `json:"reported_seconds"`
	ValidatedSeconds   int64  `json:"validated_seconds"`
	DiscrepancySeconds int64  `json:"discrepancy_seconds"`
	CorrectedAt        string `json:"corrected_at,omitempty"`
}

type filterDuePayload struct {
	Kind            string  `json:"kind"`
	DeviceKey       string  `json:"device_key"`
	FilterHoursUsed float64 `json:"filter_hours_used"`
	TargetHours     float64 `json:"target_hours"`
	UsagePercent    int     `json:"usage_percent"`
}

// NotifyCorrection reports a day whose runtime was overwritten from the
// metering channel.
func (c *Client) NotifyCorrection(ctx context.Context, summary *analytics.DailySummary) error {
	payload := correctionPayload{
		Kind:               "runtime_corrected",
		DeviceKey:          summary.DeviceKey,
		Day:                summary.Day.Format("2006-01-02"),
		ReportedSeconds:    summary.TotalSeconds(),
		ValidatedSeconds:   summary.ValidatedTotalSeconds,
		DiscrepancySeconds: summary.DiscrepancySeconds,
	}
	if summary.CorrectedAt != nil {
		payload.CorrectedAt = summary.CorrectedAt.UTC().Format(time.RFC3339)
	}
	return c.post(ctx, payload)
}

// NotifyFilterDue reports a device whose filter usage reached its
// target.
func (c *Client) NotifyFilterDue(ctx context.Context, device *devices.Device, state *devices.State) error {
	return c.post(ctx, filterDuePayload{
		Kind:            "filter_due",
		DeviceKey:       device.Key,
		FilterHoursUsed: state.FilterHoursUsed,
		TargetHours:     device.FilterTargetHours,
		UsagePercent:    device.FilterUsagePercent,
	})
}

func (c *Client) post(ctx context.Context, payload any) error {
	if c == nil || c.url == "" {
		return errors.New("sync client: not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	backoff := c.backoff
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		lastErr = c.send(ctx, body)
		if lastErr == nil {
			metrics.IncSyncAttempt(metrics.ResultSuccess)
			return nil
		}
		metrics.IncSyncAttempt(metrics.ResultError)
		c.logf("sync_attempt_failed attempt=%d err=%v", attempt, lastErr)
	}
	return fmt.Errorf("sync client: %d attempts failed: %w", c.attempts, lastErr)
}

func (c *Client) send(ctx context.Context, body []byte) error {
	token, err := c.mintToken()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sync client: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) mintToken() (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
