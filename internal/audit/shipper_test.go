package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/db/models"
)

func TestNewShipper_Disabled(t *testing.T) {
	s, err := audit.NewShipper(audit.ShipperConfig{Enabled: false, Type: "webhook"})
	if err != nil {
		t.Fatalf("NewShipper error: %v", err)
	}
	if s != nil {
		t.Error("disabled config should produce a nil shipper")
	}
}

func TestNewShipper_UnknownType(t *testing.T) {
	if _, err := audit.NewShipper(audit.ShipperConfig{Enabled: true, Type: "foobar"}); err == nil {
		t.Error("expected error for unknown shipper type, got nil")
	}
}

func TestNewShipper_FileMissingPath(t *testing.T) {
	if _, err := audit.NewShipper(audit.ShipperConfig{Enabled: true, Type: "file"}); err == nil {
		t.Error("expected error for file shipper without path, got nil")
	}
}

// ---------------------------------------------------------------------------
// File shipper
// ---------------------------------------------------------------------------

func TestFileShipper_ShipEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	fs, err := audit.NewShipper(audit.ShipperConfig{Enabled: true, Type: "file", FilePath: path})
	if err != nil {
		t.Fatalf("NewShipper error: %v", err)
	}

	userID := "u2"
	entry := &models.AuditLog{
		Seq:          7,
		ID:           "entry-1",
		UserID:       &userID,
		Action:       "RESOURCE_ACCESS",
		Status:       models.AuditStatusSuccess,
		LogHash:      "abc",
		PreviousHash: models.ChainRoot,
	}
	if err := fs.Ship(context.Background(), entry); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	line := bytes.TrimRight(data, "\n")
	var decoded models.AuditLog
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Action != entry.Action {
		t.Errorf("Action = %q, want %q", decoded.Action, entry.Action)
	}
	if decoded.Seq != entry.Seq {
		t.Errorf("Seq = %d, want %d", decoded.Seq, entry.Seq)
	}
	if decoded.UserID == nil || *decoded.UserID != userID {
		t.Errorf("UserID = %v, want %q", decoded.UserID, userID)
	}
}

func TestFileShipper_MultipleEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multi.jsonl")

	fs, err := audit.NewShipper(audit.ShipperConfig{Enabled: true, Type: "file", FilePath: path})
	if err != nil {
		t.Fatalf("NewShipper error: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := fs.Ship(context.Background(), &models.AuditLog{Seq: int64(i + 1), Action: "LOGIN_SUCCESS"}); err != nil {
			t.Fatalf("Ship(%d) error: %v", i, err)
		}
	}
	fs.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	count := 0
	for scanner.Scan() {
		count++
	}
	if count != 5 {
		t.Errorf("file has %d lines, want 5", count)
	}
}

func TestFileShipper_InvalidPath(t *testing.T) {
	// Nonexistent parent directory: OpenFile should fail
	path := filepath.Join(t.TempDir(), "nodir", "audit.jsonl")
	if _, err := audit.NewShipper(audit.ShipperConfig{Enabled: true, Type: "file", FilePath: path}); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

// ---------------------------------------------------------------------------
// Webhook shipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_ShipEntry(t *testing.T) {
	var received bytes.Buffer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		received.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := audit.NewShipper(audit.ShipperConfig{
		Enabled:        true,
		Type:           "webhook",
		WebhookURL:     srv.URL,
		WebhookTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewShipper error: %v", err)
	}
	defer ws.Close()

	entry := &models.AuditLog{Seq: 1, Action: "PERMISSION_GRANTED", Status: models.AuditStatusSuccess}
	if err := ws.Ship(context.Background(), entry); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	var decoded models.AuditLog
	if err := json.Unmarshal(received.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal request body: %v", err)
	}
	if decoded.Action != entry.Action {
		t.Errorf("Action = %q, want %q", decoded.Action, entry.Action)
	}
}

func TestWebhookShipper_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ws, err := audit.NewShipper(audit.ShipperConfig{
		Enabled:        true,
		Type:           "webhook",
		WebhookURL:     srv.URL,
		WebhookTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewShipper error: %v", err)
	}
	defer ws.Close()

	if err := ws.Ship(context.Background(), &models.AuditLog{Action: "LOGIN_FAILURE"}); err == nil {
		t.Error("Ship() = nil, want error for 500 response")
	}
}

func TestWebhookShipper_CustomHeader(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Auth-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := audit.NewShipper(audit.ShipperConfig{
		Enabled:        true,
		Type:           "webhook",
		WebhookURL:     srv.URL,
		WebhookTimeout: 5 * time.Second,
		WebhookHeaders: map[string]string{"X-Auth-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("NewShipper error: %v", err)
	}
	defer ws.Close()

	if err := ws.Ship(context.Background(), &models.AuditLog{Action: "LOGOUT"}); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if gotToken != "secret" {
		t.Errorf("X-Auth-Token = %q, want secret", gotToken)
	}
}
