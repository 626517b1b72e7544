package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hakim/seceval/internal/events"
	"github.com/hakim/seceval/internal/models"
	"go.uber.org/zap"
)

// NotifyConfig configures where to send completion notifications.
type NotifyConfig struct {
	WebhookURL string // if empty, no notifications
	Client     *http.Client
}

// completionPayload is the JSON body posted to the webhook endpoint.
type completionPayload struct {
	ScanID         string                  `json:"scan_id"`
	ProjectPath    string                  `json:"project_path"`
	Kind           models.ScanKind         `json:"kind"`
	Status         models.ScanStatus       `json:"status"`
	ElapsedSeconds float64                 `json:"elapsed_seconds"`
	FindingCount   int                     `json:"finding_count"`
	SeverityCounts map[models.Severity]int `json:"severity_counts"`
	FilesScanned   int                     `json:"files_scanned"`
	WarningCount   int                     `json:"warning_count"`
}

// SendCompletion posts a JSON summary of res to the webhook URL.
// Returns nil if WebhookURL is empty (no-op). Errors are returned but callers
// should treat them as warnings.
func (n *NotifyConfig) SendCompletion(res *models.ScanResult) error {
	if n == nil || n.WebhookURL == "" || res == nil {
		return nil
	}

	payload := completionPayload{
		ScanID:         res.ScanID,
		ProjectPath:    res.ProjectPath,
		Kind:           res.Config.Kind,
		Status:         res.Status,
		ElapsedSeconds: res.Duration.Seconds(),
		FindingCount:   len(res.Findings),
		SeverityCounts: res.Statistics.BySeverity,
		FilesScanned:   res.Statistics.ScannedFiles,
		WarningCount:   len(res.Warnings),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshaling payload: %w", err)
	}

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Post(n.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: posting to %s: %w", n.WebhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned non-2xx status %d", resp.StatusCode)
	}

	return nil
}

// Attach posts every completed scan published on bus until stop is called.
func (n *NotifyConfig) Attach(bus *events.Bus, log *zap.Logger) (stop func()) {
	if log == nil {
		log = zap.NewNop()
	}
	return bus.Observe(func(ev events.Event) {
		if err := n.SendCompletion(ev.Result); err != nil {
			log.Warn("completion webhook failed", zap.String("scan_id", ev.SessionID), zap.Error(err))
		}
	}, events.ScanCompleted)
}
