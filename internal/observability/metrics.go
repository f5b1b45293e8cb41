package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/spec-kit/call-signaling"

// Metrics holds the service instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	errors          metric.Int64Counter

	roomsOpened     metric.Int64Counter
	joinsRejected   metric.Int64Counter
	callsStarted    metric.Int64Counter
	callsEnded      metric.Int64Counter
	relayed         metric.Int64Counter
	dropped         metric.Int64Counter
	callbackFailed  metric.Int64Counter
	liveConnections metric.Int64UpDownCounter
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider registers instruments on provider.
func NewMetricsWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.requests, err = meter.Int64Counter("http.server.requests"); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram("http.server.duration", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("http.server.errors"); err != nil {
		return nil, err
	}
	if m.roomsOpened, err = meter.Int64Counter("signaling.rooms.opened"); err != nil {
		return nil, err
	}
	if m.joinsRejected, err = meter.Int64Counter("signaling.joins.rejected"); err != nil {
		return nil, err
	}
	if m.callsStarted, err = meter.Int64Counter("signaling.calls.started"); err != nil {
		return nil, err
	}
	if m.callsEnded, err = meter.Int64Counter("signaling.calls.ended"); err != nil {
		return nil, err
	}
	if m.relayed, err = meter.Int64Counter("signaling.messages.relayed"); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("signaling.messages.dropped"); err != nil {
		return nil, err
	}
	if m.callbackFailed, err = meter.Int64Counter("signaling.callbacks.failed"); err != nil {
		return nil, err
	}
	if m.liveConnections, err = meter.Int64UpDownCounter("signaling.connections.live"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest counts a served HTTP request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	ctx := context.Background()
	m.requests.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordError counts a failed HTTP request by error code.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("method", method),
		attribute.String("code", code),
	))
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.roomsOpened.Add(context.Background(), 1)
}

func (m *Metrics) JoinRejected(code string) {
	if m == nil {
		return
	}
	m.joinsRejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.callsStarted.Add(context.Background(), 1)
}

func (m *Metrics) CallEnded(reason string) {
	if m == nil {
		return
	}
	m.callsEnded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) MessageRelayed(kind string) {
	if m == nil {
		return
	}
	m.relayed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) MessageDropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) CallbackFailed(callback string) {
	if m == nil {
		return
	}
	m.callbackFailed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("callback", callback)))
}

// ConnectionOpened and ConnectionClosed track live WebSocket connections.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.liveConnections.Add(context.Background(), 1)
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.liveConnections.Add(context.Background(), -1)
}
