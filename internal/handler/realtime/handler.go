package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	realtimesvc "github.com/bujji-ai/vision-assistant/internal/service/realtime"
	sessionservice "github.com/bujji-ai/vision-assistant/internal/service/session"
)

const (
	// 读超时，依赖客户端 pong 或消息刷新
	readWait = 60 * time.Second
	// ping 间隔，必须小于 readWait
	pingInterval = 54 * time.Second
)

// Handler 实时通道的WebSocket处理器
type Handler struct {
	registry   *realtimesvc.Registry
	sessionSvc *sessionservice.Service
	upgrader   websocket.Upgrader
}

// New 创建实时通道处理器
func New(registry *realtimesvc.Registry, sessionSvc *sessionservice.Service) *Handler {
	return &Handler{
		registry:   registry,
		sessionSvc: sessionSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{clientID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

// handleWebSocket 处理单个客户端的实时连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		http.Error(w, "clientID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	handle := h.registry.Register(clientID, conn)
	h.sessionSvc.Reset(r.Context(), clientID)
	defer h.registry.Release(handle)

	logger := log.With().Str("client_id", clientID).Logger()
	logger.Info().Msg("realtime client connected")
	defer logger.Info().Msg("realtime client disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	go h.pingLoop(ctx, handle)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("websocket read error")
				}
				return
			}

			conn.SetReadDeadline(time.Now().Add(readWait))
			h.handleMessage(clientID, logger, &msg)
		}
	}
}

// handleMessage 分发入站消息
func (h *Handler) handleMessage(clientID string, logger zerolog.Logger, msg *inboundMessage) {
	switch msg.Type {
	case "ping":
		h.registry.Send(clientID, outgoingMessage{Type: "pong"})
	case "scene_update":
		h.registry.Send(clientID, outgoingMessage{
			Type:      "scene_acknowledged",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	default:
		logger.Debug().Str("type", msg.Type).Msg("ignoring unsupported message type")
	}
}

// pingLoop 定期发送ping保持连接
func (h *Handler) pingLoop(ctx context.Context, handle *realtimesvc.Handle) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := handle.Ping(); err != nil {
				return
			}
		}
	}
}
