package notify

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinlink/config"
)

type webhook struct {
	mu       sync.Mutex
	messages []SlackMessage
	status   int
}

func newWebhook(t *testing.T) (*webhook, *httptest.Server) {
	t.Helper()
	hook := &webhook{status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		hook.mu.Lock()
		hook.messages = append(hook.messages, msg)
		status := hook.status
		hook.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return hook, srv
}

func (h *webhook) received() []SlackMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SlackMessage(nil), h.messages...)
}

func newNotifier(cfg *config.SlackConfig) *SlackNotifier {
	return NewSlackNotifier(cfg, "bench-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNotifyConnected(t *testing.T) {
	hook, srv := newWebhook(t)
	n := newNotifier(&config.SlackConfig{WebhookURL: srv.URL, NotifyConnect: true})

	require.NoError(t, n.NotifyConnected("/dev/ttyACM0", "3f1c"))

	msgs := hook.received()
	require.Len(t, msgs, 1)
	att := msgs[0].Attachments[0]
	assert.Equal(t, "good", att.Color)
	assert.Equal(t, "Device Connected", att.Title)
	assert.Contains(t, att.Fields, SlackField{Title: "Port", Value: "/dev/ttyACM0", Short: true})
	assert.Contains(t, att.Fields, SlackField{Title: "Session", Value: "3f1c", Short: false})
}

func TestNotifyDisconnected(t *testing.T) {
	hook, srv := newWebhook(t)
	n := newNotifier(&config.SlackConfig{WebhookURL: srv.URL, NotifyDisconnect: true})

	require.NoError(t, n.NotifyDisconnected("/dev/ttyACM0", 90*time.Second))

	msgs := hook.received()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Attachments[0].Fields, SlackField{Title: "Uptime", Value: "1m 30s", Short: true})
}

func TestNotifyError(t *testing.T) {
	hook, srv := newWebhook(t)
	n := newNotifier(&config.SlackConfig{WebhookURL: srv.URL, NotifyErrors: true})

	require.NoError(t, n.NotifyError("/dev/ttyACM0", "3f1c", errors.New("receive /dev/ttyACM0: device unplugged")))

	msgs := hook.received()
	require.Len(t, msgs, 1)
	att := msgs[0].Attachments[0]
	assert.Equal(t, "danger", att.Color)
	assert.Equal(t, "Device Error", att.Title)
	assert.Equal(t, []SlackField{
		{Title: "Instance", Value: "bench-1", Short: true},
		{Title: "Port", Value: "/dev/ttyACM0", Short: true},
		{Title: "Session", Value: "3f1c"},
		{Title: "Error", Value: "receive /dev/ttyACM0: device unplugged"},
	}, att.Fields)
}

func TestNotifyErrorWithoutSession(t *testing.T) {
	hook, srv := newWebhook(t)
	n := newNotifier(&config.SlackConfig{WebhookURL: srv.URL, NotifyErrors: true})

	require.NoError(t, n.NotifyError("/dev/ttyACM0", "", errors.New("no handshake response from device")))

	msgs := hook.received()
	require.Len(t, msgs, 1)
	for _, f := range msgs[0].Attachments[0].Fields {
		assert.NotEqual(t, "Session", f.Title)
	}
}

func TestNotificationsRespectFlags(t *testing.T) {
	hook, srv := newWebhook(t)
	n := newNotifier(&config.SlackConfig{WebhookURL: srv.URL})

	assert.NoError(t, n.NotifyConnected("/dev/ttyACM0", "s"))
	assert.NoError(t, n.NotifyDisconnected("/dev/ttyACM0", time.Second))
	assert.NoError(t, n.NotifyError("/dev/ttyACM0", "s", errors.New("x")))
	assert.Empty(t, hook.received())
}

func TestDisabledWithoutWebhook(t *testing.T) {
	n := newNotifier(&config.SlackConfig{NotifyConnect: true, NotifyErrors: true})

	assert.False(t, n.IsEnabled())
	assert.NoError(t, n.NotifyConnected("/dev/ttyACM0", "s"))
}

func TestNonOKStatus(t *testing.T) {
	hook, srv := newWebhook(t)
	hook.status = http.StatusInternalServerError
	n := newNotifier(&config.SlackConfig{WebhookURL: srv.URL, NotifyErrors: true})

	err := n.NotifyError("/dev/ttyACM0", "", errors.New("x"))
	assert.ErrorContains(t, err, "500")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m 3s", formatDuration(123*time.Second))
	assert.Equal(t, "1h 0m 1s", formatDuration(time.Hour+time.Second))
}
