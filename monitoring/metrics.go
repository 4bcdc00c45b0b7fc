package monitoring

import (
	"fmt"
	"net/http"
)

// MetricsHandler creates an HTTP handler for Prometheus metrics
type MetricsHandler struct {
	dev Device
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(dev Device) *MetricsHandler {
	return &MetricsHandler{
		dev: dev,
	}
}

// ServeHTTP handles the /metrics endpoint in Prometheus format
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	port := h.dev.Port()
	stats := h.dev.Stats()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Connection status
	connected := 0
	if h.dev.IsConnected() {
		connected = 1
	}
	fmt.Fprintln(w, "# HELP pinlink_connected Device handshake status (1=connected, 0=not connected)")
	fmt.Fprintln(w, "# TYPE pinlink_connected gauge")
	fmt.Fprintf(w, "pinlink_connected{port=%q} %d\n", port, connected)

	counters := []struct {
		name, help string
		value      int64
	}{
		{"pinlink_bytes_received_total", "Total bytes received from the device", stats.BytesReceived},
		{"pinlink_bytes_sent_total", "Total bytes sent to the device", stats.BytesSent},
		{"pinlink_lines_read_total", "Total response lines read", stats.LinesRead},
		{"pinlink_buffer_overflows_total", "Total receive buffer overflows", stats.Overflows},
	}
	for _, c := range counters {
		fmt.Fprintln(w, "")
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s{port=%q} %d\n", c.name, port, c.value)
	}

	// Buffered bytes
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "# HELP pinlink_buffered_bytes Bytes received but not yet read")
	fmt.Fprintln(w, "# TYPE pinlink_buffered_bytes gauge")
	fmt.Fprintf(w, "pinlink_buffered_bytes{port=%q} %d\n", port, stats.Buffered)
}
