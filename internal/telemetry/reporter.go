// Package telemetry periodically writes link statistics as time-series points.
//
// One point named MeasurementLinkStats, tagged with the peer name, is written
// per source and interval. Counters are cumulative since the daemon started.
package telemetry

import (
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/link"
	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
)

// MeasurementLinkStats is the measurement name of every written point.
const MeasurementLinkStats = "link_stats"

// DefaultInterval is used when New receives a non-positive interval.
const DefaultInterval = 60 * time.Second

// PointWriter is the sink for points. *influxdb.Client satisfies it.
// Implementations must not block; the reporter runs on the reactor goroutine.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Source provides a stats snapshot. *link.Link satisfies it.
type Source interface {
	Stats() link.Stats
}

// Logger defines the logging interface used by the reporter.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Reporter writes a point per source on a fixed reactor timer.
//
// Thread Safety:
//   - Not safe for concurrent use; it runs on the reactor goroutine.
type Reporter struct {
	r        *reactor.Reactor
	w        PointWriter
	interval time.Duration
	logger   Logger
	now      func() time.Time

	sources []Source
	running bool
	timer   reactor.Handle
	reports uint64
}

// New creates a stopped reporter.
func New(r *reactor.Reactor, w PointWriter, interval time.Duration, logger Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reporter{
		r:        r,
		w:        w,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Add registers a source. Sources added while running are picked up at the
// next tick.
func (rep *Reporter) Add(src Source) {
	rep.sources = append(rep.sources, src)
}

// Start schedules the first report one interval from now.
func (rep *Reporter) Start() {
	if rep.running {
		return
	}
	rep.running = true
	rep.schedule()
}

// Stop cancels the pending tick.
func (rep *Reporter) Stop() {
	if !rep.running {
		return
	}
	rep.running = false
	rep.r.CancelTimer(rep.timer)
}

// Reports returns the number of completed report rounds.
func (rep *Reporter) Reports() uint64 {
	return rep.reports
}

// ReportNow writes one point per source immediately.
func (rep *Reporter) ReportNow() {
	ts := rep.now()
	for _, src := range rep.sources {
		st := src.Stats()
		rep.w.WritePointWithTime(MeasurementLinkStats, map[string]string{"peer": st.Peer}, Fields(st), ts)
	}
	rep.reports++
	rep.logger.Debug("link statistics reported", "sources", len(rep.sources))
}

func (rep *Reporter) schedule() {
	rep.timer = rep.r.RunOnceAfter(rep.interval, func(int64) {
		if !rep.running {
			return
		}
		rep.ReportNow()
		rep.schedule()
	})
}

// Fields flattens a stats snapshot into point fields.
func Fields(st link.Stats) map[string]any {
	return map[string]any{
		"connected":  st.Connected,
		"reconnects": st.Reconnects,

		"bytes_received":    st.Transport.BytesReceived,
		"bytes_sent":        st.Transport.BytesSent,
		"opens":             st.Transport.Opens,
		"open_failures":     st.Transport.OpenFailures,
		"connection_errors": st.Transport.ConnectionErrors,

		"messages_received": st.Framing.MessagesReceived,
		"messages_sent":     st.Framing.MessagesSent,
		"framing_errors":    st.Framing.FramingErrors,
		"queued_bytes":      int64(st.Framing.QueuedBytes),

		"requests_sent":          st.RPC.RequestsSent,
		"notifications_sent":     st.RPC.NotificationsSent,
		"requests_received":      st.RPC.RequestsReceived,
		"notifications_received": st.RPC.NotificationsReceived,
		"responses_received":     st.RPC.ResponsesReceived,
		"dropped_responses":      st.RPC.DroppedResponses,
		"protocol_errors":        st.RPC.ProtocolErrors,
		"pending_calls":          int64(st.RPC.PendingCalls),
	}
}
