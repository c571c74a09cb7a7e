package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/game"
	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

const writeWait = 10 * time.Second

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is one subscriber socket: the write pump streams bus events down, the
// read pump accepts in-band operations (message, vote, leave) up.
type Client struct {
	conn   wsConnection
	sub    types.Subscription
	engine *game.Engine
	room   types.RoomCode
	player types.PlayerID
}

// clientFrame is the envelope for operations sent over the socket.
type clientFrame struct {
	Type   string `json:"type"` // "message", "vote", or "leave"
	Text   string `json:"text,omitempty"`
	Target string `json:"target,omitempty"`
}

// serveWs authenticates the caller and upgrades to a WebSocket subscription.
// The first event on the socket is always a snapshot.
func (s *Server) serveWs(c *gin.Context) {
	if !s.limiter.CheckWebSocket(c) {
		return // response already written
	}

	code := types.RoomCode(c.Param("code"))
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}
	claims, err := s.sessions.VerifyFor(token, code)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	sub, err := s.engine.Subscribe(code)
	if err != nil {
		s.writeError(c, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		sub:    sub,
		engine: s.engine,
		room:   code,
		player: types.PlayerID(claims.PlayerID),
	}
	metrics.IncConnection()
	logging.Info(c.Request.Context(), "WebSocket subscriber attached",
		zap.String("room_code", string(code)), zap.String("player_id", claims.PlayerID))

	go client.writePump()
	go client.readPump()
}

// checkOrigin allows the configured origins; with none configured, only the
// local development frontend.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	allowed := s.origins
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:3000"}
	}
	for _, o := range allowed {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// writePump streams bus events to the socket. The bus closing the subscription
// (room ended, or this subscriber fell behind) closes the socket.
func (c *Client) writePump() {
	defer c.conn.Close()

	for ev := range c.sub.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			logging.Error(context.Background(), "Failed to marshal event",
				zap.String("room_code", string(c.room)), zap.Error(err))
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump processes in-band operation frames until the socket drops.
// Operation failures are logged, not fatal; the REST surface reports them.
func (c *Client) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(context.Background(), "Dropping malformed client frame",
				zap.String("player_id", string(c.player)), zap.Error(err))
			continue
		}

		ctx := context.Background()
		switch frame.Type {
		case "message":
			if _, err := c.engine.SendMessage(ctx, c.room, c.player, frame.Text); err != nil {
				logging.Warn(ctx, "In-band message rejected",
					zap.String("player_id", string(c.player)), zap.Error(err))
			}
		case "vote":
			if err := c.engine.Vote(ctx, c.room, c.player, types.PlayerID(frame.Target)); err != nil {
				logging.Warn(ctx, "In-band vote rejected",
					zap.String("player_id", string(c.player)), zap.Error(err))
			}
		case "leave":
			if err := c.engine.Leave(ctx, c.room, c.player); err != nil {
				logging.Warn(ctx, "In-band leave rejected",
					zap.String("player_id", string(c.player)), zap.Error(err))
			}
			return
		default:
			logging.Warn(ctx, "Unknown client frame type", zap.String("type", frame.Type))
		}
	}
}
