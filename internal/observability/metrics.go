package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "chatsync"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds. Upgraded websocket requests are excluded.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_server_handled_total",
			Help:      "Unary gRPC calls handled, by method and code.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_active_connections",
			Help:      "Open websocket sessions, by kind (conversation or inbox).",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_lifecycle_events_total",
			Help:      "Websocket lifecycle events (connect, disconnect, error).",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amqp_publish_errors_total",
			Help:      "Broker publishes that failed.",
		},
	)
	feedSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscriptions",
			Help:      "Number of live change-feed subscriptions.",
		},
		[]string{"scope"},
	)
	feedDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_dispatched_total",
			Help:      "Total number of change events dispatched by the hub.",
		},
		[]string{"scope", "kind"},
	)
	feedEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_evictions_total",
			Help:      "Total number of subscriptions evicted for not keeping up.",
		},
		[]string{"scope"},
	)
	messagesAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Total number of message appends by outcome.",
		},
		[]string{"outcome"},
	)
	projectionStaleWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_stale_writes_total",
			Help:      "Total number of latest-message updates skipped because a newer message was recorded.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		feedSubscriptions,
		feedDispatchedTotal,
		feedEvictionsTotal,
		messagesAppendedTotal,
		projectionStaleWritesTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies by matched route,
// so path parameters do not explode label cardinality.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		if status != http.StatusSwitchingProtocols {
			httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		}
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// splitFullMethod splits "/pkg.Service/Method".
func splitFullMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || service == "" || method == "" {
		return "unknown", "unknown"
	}
	return service, method
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

// IncAMQPPublishError is called by the broker publishers on every failed publish.
func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncFeedSubscriptions(scope string) {
	feedSubscriptions.WithLabelValues(scope).Inc()
}

func DecFeedSubscriptions(scope string) {
	feedSubscriptions.WithLabelValues(scope).Dec()
}

func IncFeedDispatched(scope, kind string) {
	feedDispatchedTotal.WithLabelValues(scope, kind).Inc()
}

func IncFeedEviction(scope string) {
	feedEvictionsTotal.WithLabelValues(scope).Inc()
}

// IncMessageAppend counts appends; outcome is "ok", "replayed", "error" or "rejected".
func IncMessageAppend(outcome string) {
	messagesAppendedTotal.WithLabelValues(outcome).Inc()
}

func IncProjectionStaleWrite() {
	projectionStaleWritesTotal.Inc()
}
