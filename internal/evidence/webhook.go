package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/ppe.report/internal/compliance"
	"github.com/banshee-data/ppe.report/internal/httputil"
)

// WebhookAlerter posts each alert as JSON to a fixed URL.
type WebhookAlerter struct {
	url    string
	client httputil.Doer
}

// NewWebhookAlerter posts to url through client; a nil client uses an
// http.Client with a 5 s timeout.
func NewWebhookAlerter(url string, client httputil.Doer) *WebhookAlerter {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookAlerter{url: url, client: client}
}

type webhookPayload struct {
	PersonID     string                 `json:"person_id"`
	Severity     compliance.Severity    `json:"severity"`
	MissingItems []compliance.ItemClass `json:"missing_items"`
	Timestamp    time.Time              `json:"timestamp"`
}

func (w *WebhookAlerter) Alert(ctx context.Context, a compliance.Alert) error {
	body, err := json.Marshal(webhookPayload{
		PersonID:     a.PersonID,
		Severity:     a.Severity,
		MissingItems: a.MissingItems,
		Timestamp:    a.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert %s: %w", a.PersonID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post alert %s: webhook returned status %d", a.PersonID, resp.StatusCode)
	}
	return nil
}

// MultiAlerter fans an alert out to every alerter and joins their errors.
type MultiAlerter []compliance.Alerter

func (m MultiAlerter) Alert(ctx context.Context, a compliance.Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
