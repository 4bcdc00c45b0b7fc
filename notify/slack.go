package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pinlink/config"
)

// SlackNotifier sends notifications to Slack
type SlackNotifier struct {
	config     *config.SlackConfig
	instanceID string
	logger     *slog.Logger
	client     *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(cfg *config.SlackConfig, instanceID string, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		config:     cfg,
		instanceID: instanceID,
		logger:     logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if Slack notifications are configured
func (s *SlackNotifier) IsEnabled() bool {
	return s.config.WebhookURL != ""
}

// event describes one kind of device notification
type event struct {
	title   string
	color   string
	enabled func(cfg *config.SlackConfig) bool
}

var (
	eventConnected = event{
		title:   "Device Connected",
		color:   "good",
		enabled: func(cfg *config.SlackConfig) bool { return cfg.NotifyConnect },
	}
	eventDisconnected = event{
		title:   "Device Disconnected",
		color:   "warning",
		enabled: func(cfg *config.SlackConfig) bool { return cfg.NotifyDisconnect },
	}
	eventError = event{
		title:   "Device Error",
		color:   "danger",
		enabled: func(cfg *config.SlackConfig) bool { return cfg.NotifyErrors },
	}
)

// NotifyConnected reports a successful handshake
func (s *SlackNotifier) NotifyConnected(port, session string) error {
	return s.notify(eventConnected, port,
		SlackField{Title: "Session", Value: session},
	)
}

// NotifyDisconnected reports the end of a device session
func (s *SlackNotifier) NotifyDisconnected(port string, uptime time.Duration) error {
	return s.notify(eventDisconnected, port,
		SlackField{Title: "Uptime", Value: formatDuration(uptime), Short: true},
	)
}

// NotifyError reports a failed handshake or a lost session. session is
// empty when no handshake completed.
func (s *SlackNotifier) NotifyError(port, session string, err error) error {
	var fields []SlackField
	if session != "" {
		fields = append(fields, SlackField{Title: "Session", Value: session})
	}
	fields = append(fields, SlackField{Title: "Error", Value: err.Error()})
	return s.notify(eventError, port, fields...)
}

// notify posts ev for port unless the webhook or the event is disabled.
// Instance and port lead every message.
func (s *SlackNotifier) notify(ev event, port string, extra ...SlackField) error {
	if !s.IsEnabled() || !ev.enabled(s.config) {
		return nil
	}

	fields := append([]SlackField{
		{Title: "Instance", Value: s.instanceID, Short: true},
		{Title: "Port", Value: port, Short: true},
	}, extra...)

	s.logger.Debug("Sending Slack notification", "event", ev.title, "port", port)
	return s.send(SlackMessage{
		Attachments: []SlackAttachment{{
			Color:     ev.color,
			Title:     ev.title,
			Fields:    fields,
			Footer:    "pinlink",
			Timestamp: time.Now().Unix(),
		}},
	})
}

func (s *SlackNotifier) send(msg SlackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-OK status: %d", resp.StatusCode)
	}

	s.logger.Debug("Slack notification sent")
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
