// Package transport is the HTTP and WebSocket adapter over the game engine:
// REST for room management and operations, WebSocket for the live event
// stream. It owns no game state; everything goes through the engine.
package transport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/auth"
	"github.com/turingden/find-the-ai/internal/v1/config"
	"github.com/turingden/find-the-ai/internal/v1/game"
	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/ratelimit"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// Server wires the engine to Gin.
type Server struct {
	engine   *game.Engine
	sessions *auth.Sessions
	limiter  *ratelimit.RateLimiter
	origins  []string
}

// NewServer builds the transport adapter.
func NewServer(engine *game.Engine, sessions *auth.Sessions, limiter *ratelimit.RateLimiter, cfg *config.Config) *Server {
	var origins []string
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return &Server{engine: engine, sessions: sessions, limiter: limiter, origins: origins}
}

// Register mounts the API and WebSocket routes on the router.
func (s *Server) Register(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		rooms := api.Group("/rooms")
		rooms.POST("", s.limiter.MiddlewareForEndpoint("rooms"), s.createRoom)
		rooms.GET("", s.listRooms)
		rooms.GET("/:code", s.requireSession(), s.snapshot)
		rooms.POST("/:code/join", s.join)
		rooms.POST("/:code/leave", s.requireSession(), s.leave)
		rooms.POST("/:code/messages", s.requireSession(), s.limiter.MiddlewareForEndpoint("messages"), s.sendMessage)
		rooms.POST("/:code/votes", s.requireSession(), s.vote)
	}

	r.GET("/ws/v1/rooms/:code", s.serveWs)
}

// requireSession verifies the bearer token and pins it to the :code room.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
			return
		}
		claims, err := s.sessions.VerifyFor(token, types.RoomCode(c.Param("code")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ratelimit.ClaimsContextKey, claims)
		c.Set(string(logging.PlayerIDKey), claims.PlayerID)
		c.Set(string(logging.RoomCodeKey), claims.RoomCode)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, _ := c.Get(ratelimit.ClaimsContextKey)
	claims, _ := v.(*auth.Claims)
	return claims
}

// --- Handlers ---

type createRoomRequest struct {
	MaxHumans    int `json:"maxHumans" binding:"required"`
	TotalPlayers int `json:"totalPlayers" binding:"required"`
}

type joinResponse struct {
	Code   types.RoomCode `json:"code"`
	Player types.Player   `json:"player"`
	Token  string         `json:"token"`
}

// createRoom allocates a room and seats the caller as its creator.
func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxHumans and totalPlayers are required"})
		return
	}

	ctx := c.Request.Context()
	room, err := s.engine.CreateRoom(ctx, req.MaxHumans, req.TotalPlayers)
	if err != nil {
		s.writeError(c, err)
		return
	}

	player, err := room.Join(ctx)
	if err != nil {
		s.engine.DeleteRoom(room.Code())
		s.writeError(c, err)
		return
	}

	token, err := s.sessions.Mint(room.Code(), player.ID)
	if err != nil {
		logging.Error(ctx, "Failed to mint session token", zap.Error(err))
		s.writeError(c, game.ErrInternal)
		return
	}
	c.JSON(http.StatusCreated, joinResponse{Code: room.Code(), Player: player, Token: token})
}

// listRooms pages through joinable rooms.
func (s *Server) listRooms(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("perPage", "20"))

	rooms, totalPages := s.engine.ListRooms(page, perPage)
	c.JSON(http.StatusOK, gin.H{
		"rooms":      rooms,
		"page":       page,
		"totalPages": totalPages,
	})
}

// snapshot returns the room state for polling clients.
func (s *Server) snapshot(c *gin.Context) {
	snap, err := s.engine.Snapshot(types.RoomCode(c.Param("code")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// join seats a human and returns their session token.
func (s *Server) join(c *gin.Context) {
	code := types.RoomCode(c.Param("code"))
	player, err := s.engine.Join(c.Request.Context(), code)
	if err != nil {
		s.writeError(c, err)
		return
	}

	token, err := s.sessions.Mint(code, player.ID)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to mint session token", zap.Error(err))
		s.writeError(c, game.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, joinResponse{Code: code, Player: player, Token: token})
}

func (s *Server) leave(c *gin.Context) {
	claims := claimsFrom(c)
	err := s.engine.Leave(c.Request.Context(), types.RoomCode(claims.RoomCode), types.PlayerID(claims.PlayerID))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	claims := claimsFrom(c)
	msg, err := s.engine.SendMessage(c.Request.Context(), types.RoomCode(claims.RoomCode), types.PlayerID(claims.PlayerID), req.Text)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type voteRequest struct {
	Target string `json:"target" binding:"required"`
}

func (s *Server) vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}

	claims := claimsFrom(c)
	err := s.engine.Vote(c.Request.Context(), types.RoomCode(claims.RoomCode), types.PlayerID(claims.PlayerID), types.PlayerID(req.Target))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "voted"})
}

// writeError maps engine errors onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, game.ErrInvalidParams):
		status = http.StatusBadRequest
	case errors.Is(err, game.ErrRoomFull),
		errors.Is(err, game.ErrAlreadyStarted),
		errors.Is(err, game.ErrPhaseMismatch),
		errors.Is(err, game.ErrAlreadyVoted):
		status = http.StatusConflict
	case errors.Is(err, game.ErrTerminated):
		status = http.StatusGone
	case errors.Is(err, game.ErrCapacityExceeded), errors.Is(err, game.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logging.Error(c.Request.Context(), "Unhandled engine error", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
