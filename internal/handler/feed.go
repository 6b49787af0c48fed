package handler

import (
	"time"

	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
)

// FeedHandler streams settlement events to operators over a websocket.
type FeedHandler struct {
	bus      *service.EventBus
	upgrader websocket.Upgrader
}

func NewFeedHandler(bus *service.EventBus) *FeedHandler {
	return &FeedHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Stream sends every event as one JSON text frame. ?platformId= filters.
func (h *FeedHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader has already answered with an HTTP error
		logger.Warn("feed upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	events, cancel := h.bus.Subscribe()
	defer cancel()
	platformID := c.Query("platformId")

	// 读循环：只处理 pong 和关闭帧
	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(feedWriteWait))
				return
			}
			if platformID != "" && ev.Transaction.PlatformID != platformID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}
