package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tokenrail/tokenrail/internal/config"
	"github.com/tokenrail/tokenrail/internal/httpclient"
	"github.com/tokenrail/tokenrail/internal/logger"
)

// Severity grades an alert for the receiving channel.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one out-of-band notification for operators: reconciliation
// anomalies, maintenance failures, events that could not be attributed
// to a user.
type Alert struct {
	Severity Severity       `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Channel  string         `json:"channel,omitempty"`
	At       time.Time      `json:"at"`
}

// Sender delivers alerts to the configured channel.
type Sender interface {
	Send(ctx context.Context, alert *Alert) error
}

type sender struct {
	webhookURL string
	channel    string
	client     httpclient.Client
	logger     *logger.Logger
}

// NewSender creates a Sender posting to the alert channel webhook. With no
// URL configured, alerts are logged and dropped.
func NewSender(cfg *config.Configuration, client httpclient.Client, logger *logger.Logger) Sender {
	return &sender{
		webhookURL: cfg.Alert.WebhookURL,
		channel:    cfg.Alert.Channel,
		client:     client,
		logger:     logger,
	}
}

func (s *sender) Send(ctx context.Context, alert *Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	if alert.Channel == "" {
		alert.Channel = s.channel
	}

	if s.webhookURL == "" {
		s.logger.Warnw("alert channel not configured, dropping alert",
			"severity", alert.Severity,
			"title", alert.Title,
			"message", alert.Message,
		)
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	req := &httpclient.Request{
		Method: http.MethodPost,
		URL:    s.webhookURL,
		Body:   body,
	}

	resp, err := s.client.Send(ctx, req)
	if err != nil {
		s.logger.Errorw("failed to deliver alert",
			"error", err,
			"severity", alert.Severity,
			"title", alert.Title,
		)
		return err
	}

	s.logger.Infow("alert delivered",
		"severity", alert.Severity,
		"title", alert.Title,
		"status_code", resp.StatusCode,
	)

	return nil
}
