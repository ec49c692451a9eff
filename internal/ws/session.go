package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync/internal/apperr"
	"chat-sync/internal/feed"
	"chat-sync/internal/middleware"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Feed hands out hub subscriptions.
type Feed interface {
	Subscribe(conversationID string) *feed.Subscription
	SubscribeUser(userID string) *feed.Subscription
}

// NewUpgrader accepts any origin when allowed is empty or contains "*".
func NewUpgrader(allowed []string) *websocket.Upgrader {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		origins[o] = struct{}{}
	}
	_, anyOrigin := origins["*"]
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if anyOrigin || len(origins) == 0 || origin == "" {
				return true
			}
			_, ok := origins[origin]
			return ok
		},
	}
}

// session owns one upgraded connection. Only pump writes data frames; the read
// loop exists to process control frames and notice the peer leaving.
type session struct {
	conn       *websocket.Conn
	kind       string
	resourceID string
	info       ConnInfo
	log        *zap.Logger
	closed     chan struct{}
	readErr    error
}

type closeInfo struct {
	code   int
	reason string
	failed bool
}

func rejectHandshake(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err), "code": apperr.CodeOf(err)})
}

func upgrade(c *gin.Context, upgrader *websocket.Upgrader, kind, resourceID, userID string, span trace.Span, log *zap.Logger) (*session, error) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return nil, err
	}

	requestID := c.GetString(middleware.RequestIDKey)
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	s := &session{
		conn:       conn,
		kind:       kind,
		resourceID: resourceID,
		info:       info,
		log:        log.With(zap.String("conn_id", info.ConnID), zap.String("kind", kind), zap.String("resource_id", resourceID)),
		closed:     make(chan struct{}),
	}

	observability.IncWSActive(kind)
	publishLifecycle(c.Request.Context(), kind, resourceID, "ws_connect", info, "")
	go s.readLoop()
	return s, nil
}

func (s *session) readLoop() {
	defer close(s.closed)
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.readErr = err
			return
		}
	}
}

// pump writes backlog and then live events from sub. keep decides per event
// whether it is sent and whether it ends the stream.
func (s *session) pump(ctx context.Context, sub *feed.Subscription, backlog []models.ChangeEvent, keep func(models.ChangeEvent) (send, last bool)) {
	for _, ev := range backlog {
		if done, ci := s.deliver(ev, keep); done {
			s.finish(ctx, sub, ci)
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finish(ctx, sub, closeInfo{code: websocket.CloseGoingAway, reason: "server shutting down"})
			return
		case <-s.closed:
			ci := closeInfo{reason: s.readErr.Error()}
			ci.failed = !websocket.IsCloseError(s.readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			s.finish(ctx, sub, ci)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Evicted() {
					s.finish(ctx, sub, closeInfo{code: websocket.CloseTryAgainLater, reason: "resync"})
				} else {
					s.finish(ctx, sub, closeInfo{code: websocket.CloseNormalClosure, reason: "unsubscribed"})
				}
				return
			}
			if done, ci := s.deliver(ev, keep); done {
				s.finish(ctx, sub, ci)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.finish(ctx, sub, closeInfo{reason: err.Error(), failed: true})
				return
			}
		}
	}
}

func (s *session) deliver(ev models.ChangeEvent, keep func(models.ChangeEvent) (bool, bool)) (bool, closeInfo) {
	send, last := keep(ev)
	if !send {
		return false, closeInfo{}
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(ev); err != nil {
		return true, closeInfo{reason: err.Error(), failed: true}
	}
	if last {
		return true, closeInfo{code: websocket.CloseNormalClosure, reason: string(ev.Scope) + " " + string(ev.Kind)}
	}
	return false, closeInfo{}
}

// finish tears the session down exactly once per connection.
func (s *session) finish(ctx context.Context, sub *feed.Subscription, ci closeInfo) {
	sub.Cancel()
	if ci.code != 0 {
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(ci.code, ci.reason), time.Now().Add(writeWait))
	}
	_ = s.conn.Close()
	<-s.closed

	observability.DecWSActive(s.kind)
	// The request context may already be cancelled; the events still go out.
	ctx = context.WithoutCancel(ctx)
	if ci.failed {
		s.log.Warn("websocket closed with error", zap.String("reason", ci.reason))
		publishLifecycle(ctx, s.kind, s.resourceID, "ws_error", s.info, ci.reason)
	}
	publishLifecycle(ctx, s.kind, s.resourceID, "ws_disconnect", s.info, ci.reason)
}
