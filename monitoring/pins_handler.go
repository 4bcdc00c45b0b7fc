package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pinlink/device"
	"pinlink/serial"
)

// pinReadTimeout bounds how long a read request waits for the device
const pinReadTimeout = 2 * time.Second

// PinResponse is returned by pin reads and writes
type PinResponse struct {
	Kind  string `json:"kind"`
	Pin   int    `json:"pin"`
	Value int    `json:"value"`
}

type pinWriteRequest struct {
	Value *int `json:"value"`
}

// PinsHandler handles /api/pins/{kind}/{pin}: GET reads, POST writes
type PinsHandler struct {
	dev    Device
	logger *slog.Logger
}

// NewPinsHandler creates a new pins handler
func NewPinsHandler(dev Device, logger *slog.Logger) *PinsHandler {
	return &PinsHandler{
		dev:    dev,
		logger: logger,
	}
}

// ServeHTTP handles pin requests
func (h *PinsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if kind != "digital" && kind != "analog" {
		http.Error(w, "pin kind must be digital or analog", http.StatusNotFound)
		return
	}
	pin, err := strconv.Atoi(r.PathValue("pin"))
	if err != nil {
		http.Error(w, "pin must be a number", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.read(w, r, kind, pin)
	case http.MethodPost:
		h.write(w, r, kind, pin)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PinsHandler) read(w http.ResponseWriter, r *http.Request, kind string, pin int) {
	ctx, cancel := context.WithTimeout(r.Context(), pinReadTimeout)
	defer cancel()

	var value int
	var err error
	if kind == "digital" {
		var high bool
		high, err = h.dev.DigitalReadContext(ctx, pin)
		if high {
			value = 1
		}
	} else {
		value, err = h.dev.AnalogReadContext(ctx, pin)
	}
	if err != nil {
		h.fail(w, "read", kind, pin, err)
		return
	}

	writeJSON(w, PinResponse{Kind: kind, Pin: pin, Value: value})
}

func (h *PinsHandler) write(w http.ResponseWriter, r *http.Request, kind string, pin int) {
	var req pinWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		http.Error(w, `body must be {"value": <int>}`, http.StatusBadRequest)
		return
	}
	value := *req.Value

	var err error
	if kind == "digital" {
		if value != 0 && value != 1 {
			http.Error(w, "digital value must be 0 or 1", http.StatusBadRequest)
			return
		}
		err = h.dev.DigitalWrite(pin, value == 1)
	} else {
		err = h.dev.AnalogWrite(pin, value)
	}
	if err != nil {
		h.fail(w, "write", kind, pin, err)
		return
	}

	writeJSON(w, PinResponse{Kind: kind, Pin: pin, Value: value})
}

func (h *PinsHandler) fail(w http.ResponseWriter, op, kind string, pin int, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("Pin request failed", "op", op, "kind", kind, "pin", pin, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrInvalidPin):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, device.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, serial.ErrInterrupted):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
