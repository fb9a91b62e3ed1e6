package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/grc"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Activity metrics
	ActivityRecordedTotal metric.Int64Counter
	ActivityDroppedTotal  metric.Int64Counter

	// Authorization metrics
	AuthorizationDeniedTotal metric.Int64Counter

	// Invitation metrics
	InvitationsIssuedTotal   metric.Int64Counter
	InvitationsAcceptedTotal metric.Int64Counter
	InvitationsRejectedTotal metric.Int64Counter

	// Notification metrics
	NotificationsDeliveredTotal metric.Int64Counter
	NotificationsFailedTotal    metric.Int64Counter
	NotificationDuration        metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Activity metrics
	m.ActivityRecordedTotal, _ = meter.Int64Counter(
		"grc.activity.recorded.total",
		metric.WithDescription("Total number of activity log entries written"),
		metric.WithUnit("{entry}"),
	)

	m.ActivityDroppedTotal, _ = meter.Int64Counter(
		"grc.activity.dropped.total",
		metric.WithDescription("Total number of activity log entries dropped due to write errors"),
		metric.WithUnit("{entry}"),
	)

	// Authorization metrics
	m.AuthorizationDeniedTotal, _ = meter.Int64Counter(
		"grc.authorization.denied.total",
		metric.WithDescription("Total number of denied authorization checks"),
		metric.WithUnit("{check}"),
	)

	// Invitation metrics
	m.InvitationsIssuedTotal, _ = meter.Int64Counter(
		"grc.invitations.issued.total",
		metric.WithDescription("Total number of invitations issued"),
		metric.WithUnit("{invitation}"),
	)

	m.InvitationsAcceptedTotal, _ = meter.Int64Counter(
		"grc.invitations.accepted.total",
		metric.WithDescription("Total number of invitations accepted"),
		metric.WithUnit("{invitation}"),
	)

	m.InvitationsRejectedTotal, _ = meter.Int64Counter(
		"grc.invitations.rejected.total",
		metric.WithDescription("Total number of invitation links rejected, by reason"),
		metric.WithUnit("{request}"),
	)

	// Notification metrics
	m.NotificationsDeliveredTotal, _ = meter.Int64Counter(
		"grc.notifications.delivered.total",
		metric.WithDescription("Total number of notifications delivered"),
		metric.WithUnit("{notification}"),
	)

	m.NotificationsFailedTotal, _ = meter.Int64Counter(
		"grc.notifications.failed.total",
		metric.WithDescription("Total number of notifications abandoned after retries"),
		metric.WithUnit("{notification}"),
	)

	m.NotificationDuration, _ = meter.Float64Histogram(
		"grc.notifications.duration",
		metric.WithDescription("Duration of notification delivery including retries"),
		metric.WithUnit("ms"),
	)

	return m
}
