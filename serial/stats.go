package serial

import (
	"time"

	"go.uber.org/atomic"
)

// Stats tracks traffic on a transport. Counters survive Close/Open cycles.
type Stats struct {
	bytesReceived atomic.Int64
	bytesSent     atomic.Int64
	linesRead     atomic.Int64
	overflows     atomic.Int64
	opens         atomic.Int64
	openedAt      atomic.Time
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	BytesReceived int64     `json:"bytes_received"`
	BytesSent     int64     `json:"bytes_sent"`
	LinesRead     int64     `json:"lines_read"`
	Overflows     int64     `json:"overflows"`
	Opens         int64     `json:"opens"`
	OpenedAt      time.Time `json:"opened_at"`
	Buffered      int       `json:"buffered"`
}

func (s *Stats) opened() {
	s.opens.Inc()
	s.openedAt.Store(time.Now())
}

// Snapshot returns the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BytesReceived: s.bytesReceived.Load(),
		BytesSent:     s.bytesSent.Load(),
		LinesRead:     s.linesRead.Load(),
		Overflows:     s.overflows.Load(),
		Opens:         s.opens.Load(),
		OpenedAt:      s.openedAt.Load(),
	}
}
