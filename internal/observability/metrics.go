package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_chat_grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hive_chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_chat_events_published_total",
			Help: "Change events handed to the broker.",
		},
		[]string{"kind"},
	)
	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_chat_events_dropped_total",
			Help: "Change events dropped because a subscriber buffer was full.",
		},
		[]string{"kind"},
	)
	eventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_chat_event_subscribers",
			Help: "Active broker subscriptions.",
		},
	)
	messagesPostedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_chat_messages_posted_total",
			Help: "Messages appended to chats.",
		},
		[]string{"chat_type"},
	)
	versionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_chat_version_conflicts_total",
			Help: "Optimistic chat updates that lost a race and were retried.",
		},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_chat_notifications_total",
			Help: "Notification lifecycle operations.",
		},
		[]string{"op"},
	)
	presenceOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_chat_presence_online_users",
			Help: "Users with at least one live connection on this instance.",
		},
	)
	typingExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_chat_typing_expired_total",
			Help: "Typing indicators cleared by the idle sweeper.",
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
		eventsPublishedTotal,
		eventsDroppedTotal,
		eventSubscribers,
		messagesPostedTotal,
		versionConflictsTotal,
		notificationsTotal,
		presenceOnline,
		typingExpiredTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
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

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncEventPublished(kind string) {
	eventsPublishedTotal.WithLabelValues(kind).Inc()
}

func IncEventDropped(kind string) {
	eventsDroppedTotal.WithLabelValues(kind).Inc()
}

func SetEventSubscribers(n int) {
	eventSubscribers.Set(float64(n))
}

func IncMessagePosted(chatType string) {
	messagesPostedTotal.WithLabelValues(chatType).Inc()
}

func IncVersionConflict() {
	versionConflictsTotal.Inc()
}

// IncNotification counts notification operations: "created" or "acknowledged".
func IncNotification(op string) {
	notificationsTotal.WithLabelValues(op).Inc()
}

func SetPresenceOnline(n int) {
	presenceOnline.Set(float64(n))
}

func IncTypingExpired() {
	typingExpiredTotal.Inc()
}
