// Package metrics holds the Prometheus instruments for the API.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
	IssueTransitions     *prometheus.CounterVec
	AcceptConflicts      prometheus.Counter
	NotificationsCreated *prometheus.CounterVec
	EngagementToggles    *prometheus.CounterVec
	IssuesRateLimited    prometheus.Counter
}

// New registers every instrument with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "townsquare_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "townsquare_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		IssueTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "townsquare_issue_transitions_total",
			Help: "Accepted issue status transitions by target status",
		}, []string{"to"}),
		AcceptConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "townsquare_issue_accept_conflicts_total",
			Help: "Accept attempts that lost the race to another resolver",
		}),
		NotificationsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "townsquare_notifications_created_total",
			Help: "Notification rows created by type",
		}, []string{"type"}),
		EngagementToggles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "townsquare_engagement_toggles_total",
			Help: "Membership toggles by kind and resulting state",
		}, []string{"kind", "active"}),
		IssuesRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "townsquare_issues_rate_limited_total",
			Help: "Issue creations rejected by the daily limit",
		}),
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}

func (m *Metrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.IssueTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncAcceptConflict() {
	if m == nil {
		return
	}
	m.AcceptConflicts.Inc()
}

func (m *Metrics) IncNotification(kind string) {
	if m == nil {
		return
	}
	m.NotificationsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncToggle(kind string, active bool) {
	if m == nil {
		return
	}
	m.EngagementToggles.WithLabelValues(kind, strconv.FormatBool(active)).Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.IssuesRateLimited.Inc()
}
