package handlers

import (
	"askable/internal/models"
	"askable/internal/services"
	"askable/pkg/queue"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// LogSubscriber 实时日志订阅
type LogSubscriber interface {
	SubscribeRunLog(ctx context.Context, runID string) *redis.PubSub
}

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	subscriber LogSubscriber
	runService *services.RunService
	log        *logrus.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(subscriber LogSubscriber, runService *services.RunService, allowedOrigins []string, log *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// 同源请求
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || matchOrigin(origin, allowed) {
						return true
					}
				}
				log.Warnf("WebSocket连接被拒绝，非法Origin: %s", origin)
				return false
			},
			ReadBufferSize:  1024 * 32,
			WriteBufferSize: 1024 * 32,
		},
		subscriber: subscriber,
		runService: runService,
		log:        log,
	}
}

// RunStream 推送执行的实时输出
func (h *WebSocketHandler) RunStream(c *gin.Context) {
	runID := c.Param("id")
	if _, err := h.runService.Get(runID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "执行不存在"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("WebSocket升级失败")
		return
	}
	defer conn.Close()

	h.log.WithFields(logrus.Fields{
		"run_id":      runID,
		"remote_addr": c.ClientIP(),
	}).Info("WebSocket连接已建立")

	h.streamRunLogs(conn, runID)
}

func (h *WebSocketHandler) streamRunLogs(conn *websocket.Conn, runID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := h.subscriber.SubscribeRunLog(ctx, runID)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.WithError(err).Errorf("订阅频道失败: %s", queue.LogChannel(runID))
		return
	}

	go h.readPump(conn, cancel)

	ch := pubsub.Channel()

	const (
		writeTimeout = 10 * time.Second
		// 最后一条消息之后等待的时间
		gracePeriod = 5 * time.Second
	)

	pingTicker := time.NewTicker(60 * time.Second)
	defer pingTicker.Stop()
	graceTicker := time.NewTicker(time.Second)
	defer graceTicker.Stop()

	lastMessage := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case <-graceTicker.C:
			if time.Since(lastMessage) > gracePeriod && h.runEnded(runID) {
				h.log.WithField("run_id", runID).Info("执行已结束，关闭WebSocket")
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.WithError(err).Error("发送ping失败")
				return
			}

		case msg, ok := <-ch:
			if !ok {
				return
			}
			lastMessage = time.Now()

			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.log.WithError(err).Warn("解析实时日志失败")
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(payload); err != nil {
				h.log.WithError(err).Error("发送实时日志失败")
				return
			}
		}
	}
}

func (h *WebSocketHandler) runEnded(runID string) bool {
	run, err := h.runService.Get(runID)
	if err != nil {
		return true
	}
	return run.Status == models.RunStatusCompleted || run.Status == models.RunStatusFailed
}

// readPump 处理客户端消息（主要是 pong）
func (h *WebSocketHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := 300 * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Warn("WebSocket异常关闭")
			}
			return
		}
	}
}

// matchOrigin 支持精确匹配和 *.example.com 形式的通配
func matchOrigin(origin, allowed string) bool {
	if origin == allowed {
		return true
	}
	if !strings.HasPrefix(allowed, "*.") {
		return false
	}
	domain := allowed[2:]

	host := origin
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
