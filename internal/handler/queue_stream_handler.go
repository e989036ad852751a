package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	"github.com/noah-isme/clinic-queue-api/internal/service"
	"github.com/noah-isme/clinic-queue-api/pkg/response"
)

type snapshotSubscriptions interface {
	SubscribeProvider(ctx context.Context, providerID string) (*service.Subscription, *models.QueueSnapshot, error)
	SubscribeLocation(ctx context.Context, locationID string) (*service.Subscription, *models.QueueSnapshot, error)
	Unsubscribe(sub *service.Subscription)
}

// StreamConfig tunes WebSocket keepalive.
type StreamConfig struct {
	PongWait    time.Duration
	PingPeriod  time.Duration
	WriteWait   time.Duration
	CheckOrigin func(r *http.Request) bool
}

// StreamMessage is the frame pushed to subscribers.
type StreamMessage struct {
	Type     string                `json:"type"`
	Snapshot *models.QueueSnapshot `json:"snapshot"`
}

const streamMessageSnapshot = "queue.snapshot"

// QueueStreamHandler pushes whole-state queue snapshots over WebSocket.
type QueueStreamHandler struct {
	subs     snapshotSubscriptions
	upgrader websocket.Upgrader
	cfg      StreamConfig
	logger   *zap.Logger
}

// NewQueueStreamHandler constructs the handler.
func NewQueueStreamHandler(subs snapshotSubscriptions, cfg StreamConfig, logger *zap.Logger) *QueueStreamHandler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueStreamHandler{
		subs: subs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// ProviderStream godoc
// @Summary Subscribe to a provider's queue snapshots
// @Tags Queue
// @Param providerId path string true "Provider ID"
// @Success 101 {string} string "Switching Protocols"
// @Failure 404 {object} response.Envelope
// @Router /queues/providers/{providerId}/ws [get]
func (h *QueueStreamHandler) ProviderStream(c *gin.Context) {
	sub, snapshot, err := h.subs.SubscribeProvider(c.Request.Context(), c.Param("providerId"))
	h.serve(c, sub, snapshot, err)
}

// LocationStream godoc
// @Summary Subscribe to every queue at a location
// @Tags Queue
// @Param locationId path string true "Location ID"
// @Success 101 {string} string "Switching Protocols"
// @Router /queues/locations/{locationId}/ws [get]
func (h *QueueStreamHandler) LocationStream(c *gin.Context) {
	sub, snapshot, err := h.subs.SubscribeLocation(c.Request.Context(), c.Param("locationId"))
	h.serve(c, sub, snapshot, err)
}

func (h *QueueStreamHandler) serve(c *gin.Context, sub *service.Subscription, initial *models.QueueSnapshot, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	defer h.subs.Unsubscribe(sub)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("topic", sub.Topic), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("topic", sub.Topic), zap.String("subscription_id", sub.ID))
	log.Debug("queue subscriber connected")

	if err := h.write(conn, initial); err != nil {
		log.Debug("initial snapshot write failed", zap.Error(err))
		return
	}

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done, log)
	log.Debug("queue subscriber disconnected")
}

// readPump discards client frames and keeps the read deadline alive on pong.
func (h *QueueStreamHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *QueueStreamHandler) writePump(conn *websocket.Conn, sub *service.Subscription, done <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case snapshot, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(h.cfg.WriteWait))
				return
			}
			if err := h.write(conn, &snapshot); err != nil {
				log.Debug("snapshot write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *QueueStreamHandler) write(conn *websocket.Conn, snapshot *models.QueueSnapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	return conn.WriteJSON(StreamMessage{Type: streamMessageSnapshot, Snapshot: snapshot})
}
