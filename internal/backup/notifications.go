package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"

	"mysql-backup-sentinel/internal/logging"
)

// AlertNotifier delivers operational alerts to operators. Implementations
// must never block a backup run indefinitely and must treat delivery
// failures as non-fatal to the pipeline.
type AlertNotifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NotificationChannel is a single delivery mechanism for alerts
type NotificationChannel interface {
	Send(ctx context.Context, alert Alert) error
	GetType() string
	IsEnabled() bool
}

// NewAlert builds an alert stamped with the current time
func NewAlert(severity AlertSeverity, subject string, details map[string]interface{}) Alert {
	return Alert{
		Severity:  severity,
		Subject:   subject,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// NotificationManager fans alerts out to all configured channels
type NotificationManager struct {
	logger   *logging.Logger
	config   AlertingConfig
	channels []NotificationChannel
}

// NewNotificationManager creates a manager with channels built from config.
// A log channel is always attached so every alert lands in the structured
// log even when no external channel is configured.
func NewNotificationManager(logger *logging.Logger, config AlertingConfig) *NotificationManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	nm := &NotificationManager{
		logger:   logger,
		config:   config,
		channels: []NotificationChannel{NewLogChannel(logger)},
	}

	if config.Webhook != nil {
		nm.channels = append(nm.channels, NewWebhookChannel(logger, *config.Webhook))
	}
	if config.Email != nil {
		nm.channels = append(nm.channels, NewEmailChannel(logger, *config.Email))
	}
	if config.File != nil {
		nm.channels = append(nm.channels, NewFileChannel(logger, *config.File))
	}

	return nm
}

// Notify sends an alert through all enabled channels. Channel failures are
// logged and do not abort delivery to the remaining channels; an error is
// returned only when every channel failed.
func (nm *NotificationManager) Notify(ctx context.Context, alert Alert) error {
	if !nm.config.Enabled {
		return nil
	}

	if !severityMeetsThreshold(alert.Severity, nm.config.MinSeverity) {
		nm.logger.WithFields(map[string]interface{}{
			"subject":  alert.Subject,
			"severity": string(alert.Severity),
		}).Debug("Alert below severity threshold, not delivering")
		return nil
	}

	var errors []string
	successCount := 0

	for _, channel := range nm.channels {
		if !channel.IsEnabled() {
			continue
		}

		err := channel.Send(ctx, alert)
		if err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", channel.GetType(), err))
			nm.logger.WithFields(map[string]interface{}{
				"channel": channel.GetType(),
				"subject": alert.Subject,
				"error":   err.Error(),
			}).Error("Failed to deliver alert")
		} else {
			successCount++
		}
	}

	if len(errors) > 0 && successCount == 0 {
		return fmt.Errorf("all alert channels failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// severityMeetsThreshold checks if alert severity meets the minimum threshold
func severityMeetsThreshold(alertSeverity, minSeverity AlertSeverity) bool {
	severityLevels := map[AlertSeverity]int{
		AlertSeverityInfo:     1,
		AlertSeverityWarning:  2,
		AlertSeverityCritical: 3,
	}

	alertLevel, exists := severityLevels[alertSeverity]
	if !exists {
		return false
	}

	minLevel, exists := severityLevels[minSeverity]
	if !exists {
		return true
	}

	return alertLevel >= minLevel
}

// LogChannel writes alerts to the structured log
type LogChannel struct {
	logger *logging.Logger
}

// NewLogChannel creates a log-backed notification channel
func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Send logs the alert at a level matching its severity
func (lc *LogChannel) Send(ctx context.Context, alert Alert) error {
	entry := lc.logger.WithFields(map[string]interface{}{
		"alert_severity": string(alert.Severity),
		"details":        alert.Details,
	})

	switch alert.Severity {
	case AlertSeverityCritical:
		entry.Error(alert.Subject)
	case AlertSeverityWarning:
		entry.Warn(alert.Subject)
	default:
		entry.Info(alert.Subject)
	}

	return nil
}

// GetType returns the channel type
func (lc *LogChannel) GetType() string {
	return "log"
}

// IsEnabled checks if the channel is enabled
func (lc *LogChannel) IsEnabled() bool {
	return lc.logger != nil
}

// WebhookChannel posts alerts to an HTTP endpoint as JSON
type WebhookChannel struct {
	logger *logging.Logger
	config WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a webhook notification channel
func NewWebhookChannel(logger *logging.Logger, config WebhookConfig) *WebhookChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookChannel{
		logger: logger,
		config: config,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts the alert to the configured URL
func (wc *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	if wc.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := wc.config.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, wc.config.URL, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}

	return nil
}

// GetType returns the channel type
func (wc *WebhookChannel) GetType() string {
	return "webhook"
}

// IsEnabled checks if the channel is enabled
func (wc *WebhookChannel) IsEnabled() bool {
	return wc.config.URL != ""
}

// EmailChannel delivers alerts over SMTP
type EmailChannel struct {
	logger *logging.Logger
	config EmailConfig
}

// NewEmailChannel creates an email notification channel
func NewEmailChannel(logger *logging.Logger, config EmailConfig) *EmailChannel {
	return &EmailChannel{
		logger: logger,
		config: config,
	}
}

// Send sends the alert as a plain-text email
func (ec *EmailChannel) Send(ctx context.Context, alert Alert) error {
	if ec.config.SMTPHost == "" || len(ec.config.To) == 0 {
		return fmt.Errorf("email configuration incomplete")
	}

	subject := fmt.Sprintf("[%s] Backup alert: %s", alert.Severity, alert.Subject)

	var details strings.Builder
	for k, v := range alert.Details {
		fmt.Fprintf(&details, "  %s: %v\n", k, v)
	}

	body := fmt.Sprintf(`Backup Pipeline Alert

Severity: %s
Time: %s

%s

Details:
%s
This is an automated message from the backup pipeline.
`, alert.Severity, alert.Timestamp.Format(time.RFC3339), alert.Subject, details.String())

	message := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s",
		strings.Join(ec.config.To, ","), subject, body)

	var auth smtp.Auth
	if ec.config.Username != "" {
		auth = smtp.PlainAuth("", ec.config.Username, ec.config.Password, ec.config.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", ec.config.SMTPHost, ec.config.SMTPPort)

	if err := smtp.SendMail(addr, auth, ec.config.From, ec.config.To, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// GetType returns the channel type
func (ec *EmailChannel) GetType() string {
	return "email"
}

// IsEnabled checks if the channel is enabled
func (ec *EmailChannel) IsEnabled() bool {
	return ec.config.SMTPHost != "" && len(ec.config.To) > 0
}

// FileChannel appends alerts to a local file as JSON lines
type FileChannel struct {
	logger *logging.Logger
	config FileConfig
}

// NewFileChannel creates a file notification channel
func NewFileChannel(logger *logging.Logger, config FileConfig) *FileChannel {
	return &FileChannel{
		logger: logger,
		config: config,
	}
}

// Send appends the alert to the configured file
func (fc *FileChannel) Send(ctx context.Context, alert Alert) error {
	if fc.config.Path == "" {
		return fmt.Errorf("file path not configured")
	}

	jsonData, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert to JSON: %w", err)
	}

	file, err := os.OpenFile(fc.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open alert file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write alert to file: %w", err)
	}

	return nil
}

// GetType returns the channel type
func (fc *FileChannel) GetType() string {
	return "file"
}

// IsEnabled checks if the channel is enabled
func (fc *FileChannel) IsEnabled() bool {
	return fc.config.Path != ""
}
