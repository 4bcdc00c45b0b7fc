package monitoring

import (
	"encoding/json"
	"net/http"

	"pinlink/discovery"
)

// PortsResponse lists the serial ports and the locator's pick
type PortsResponse struct {
	Ports []string `json:"ports"`
	Guess string   `json:"guess,omitempty"`
}

// PortsHandler handles serial port listing requests
type PortsHandler struct {
	locator discovery.Locator
}

// NewPortsHandler creates a new ports handler
func NewPortsHandler(locator discovery.Locator) *PortsHandler {
	return &PortsHandler{
		locator: locator,
	}
}

// ServeHTTP handles port listing requests
func (h *PortsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.locator == nil {
		http.Error(w, "port discovery not available on this platform", http.StatusNotImplemented)
		return
	}

	ports, err := h.locator.ListPorts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	guess, _ := h.locator.GuessPort(ports)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PortsResponse{
		Ports: ports,
		Guess: guess,
	})
}
