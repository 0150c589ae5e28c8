// shipper.go routes committed audit chain entries to external destinations
// (file, webhook) so a SIEM or log aggregator can consume them independently
// of the primary store. Shipping is strictly downstream of the chain: a
// shipped copy is a convenience export, the chained row is the record of
// truth, so shipping failures are logged and never retried into the request
// path.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/securelms/securelms/internal/db/models"
)

// Shipper delivers one committed entry to an external destination.
type Shipper interface {
	Ship(ctx context.Context, entry *models.AuditLog) error
	Close() error
}

// ShipperConfig selects and configures a destination.
type ShipperConfig struct {
	Enabled bool
	Type    string // "file" or "webhook"
	// File destination: path of a JSON-lines file, appended and fsynced per entry.
	FilePath string
	// Webhook destination.
	WebhookURL     string
	WebhookTimeout time.Duration
	WebhookHeaders map[string]string
}

// NewShipper builds a shipper from config, or nil when shipping is disabled.
func NewShipper(cfg ShipperConfig) (Shipper, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Type {
	case "file":
		return newFileShipper(cfg.FilePath)
	case "webhook":
		return newWebhookShipper(cfg), nil
	default:
		return nil, fmt.Errorf("audit: unknown shipper type %q", cfg.Type)
	}
}

// fileShipper appends entries as JSON lines. Writes are serialized and
// synced so a crash cannot interleave two entries.
type fileShipper struct {
	mu   sync.Mutex
	file *os.File
}

func newFileShipper(path string) (*fileShipper, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: file shipper requires a path")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open shipper file: %w", err)
	}
	return &fileShipper{file: f}, nil
}

func (s *fileShipper) Ship(_ context.Context, entry *models.AuditLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(data); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *fileShipper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// webhookShipper POSTs each entry as JSON to a collector endpoint.
type webhookShipper struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func newWebhookShipper(cfg ShipperConfig) *webhookShipper {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookShipper{
		url:     cfg.WebhookURL,
		headers: cfg.WebhookHeaders,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *webhookShipper) Ship(ctx context.Context, entry *models.AuditLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("audit: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *webhookShipper) Close() error { return nil }
