package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"titanic/passenger"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	maxMessage   = 4096
)

// newUpgrader accepts browsers from the configured origins and clients that
// send no Origin header.
func newUpgrader(origins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origins, origin)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// socketClient 一个实时预测连接
type socketClient struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	clientID string
	logger   *zap.Logger
}

// handlePredictSocket answers every query message on the connection with a
// prediction, the way the slider form updates on each change.
func (h *Handlers) handlePredictSocket(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.String("origin", r.Header.Get("Origin")), zap.Error(err))
			return
		}
		h.serveSocket(conn, r)
	}
}

func (h *Handlers) serveSocket(conn *websocket.Conn, r *http.Request) {
	clientID := uuid.NewString()
	client := &socketClient{
		conn:     conn,
		send:     make(chan []byte, 16),
		done:     make(chan struct{}),
		clientID: clientID,
		logger:   h.logger.With(zap.String("client_id", clientID)),
	}
	client.logger.Debug("websocket client connected")

	go client.writePump()
	client.readPump(r.Context(), h)
}

// writePump 写入泵，定时发送ping
func (c *socketClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取泵，每条消息是一个查询
func (c *socketClient) readPump(ctx context.Context, h *Handlers) {
	defer close(c.send)

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))

		var reply interface{}
		query := passenger.DefaultQuery()
		if err := json.Unmarshal(data, &query); err != nil {
			reply = errorResponse{Error: "invalid query: " + err.Error()}
		} else if prediction, err := h.predictor.Predict(ctx, query); err != nil {
			reply = errorResponse{Error: err.Error()}
		} else {
			reply = prediction
		}

		message, err := json.Marshal(reply)
		if err != nil {
			c.logger.Error("encode websocket reply", zap.Error(err))
			return
		}
		select {
		case c.send <- message:
		case <-c.done:
			return
		}
	}
}
