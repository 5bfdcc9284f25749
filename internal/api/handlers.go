// Package api exposes the orchestrator over HTTP: workspace token minting,
// game commands, timeline reads, and the websocket stream.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/config"
	"github.com/moonhollow/werewolf-arena/internal/game"
	"github.com/moonhollow/werewolf-arena/internal/middleware"
	"github.com/moonhollow/werewolf-arena/internal/models"
	"github.com/moonhollow/werewolf-arena/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer
	},
}

type Handler struct {
	engine *game.Engine
	hub    *ws.Hub
	cfg    *config.Config
	log    *zap.Logger
}

func NewHandler(engine *game.Engine, hub *ws.Hub, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		hub:    hub,
		cfg:    cfg,
		log:    logger.Named("api"),
	}
}

// ============================================================================
// AUTH
// ============================================================================

// MintToken issues a workspace-scoped JWT. Guarded by the service API key
// when one is configured.
func (h *Handler) MintToken(c *gin.Context) {
	if key := h.cfg.Server.APIKey; key != "" && c.GetHeader("X-Api-Key") != key {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	var req models.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, expiresAt, err := middleware.GenerateWorkspaceToken(req.WorkspaceID, h.cfg.JWT.Secret, h.cfg.JWT.Expiry)
	if err != nil {
		h.log.Error("failed to mint token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, models.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// ============================================================================
// GAME COMMANDS
// ============================================================================

// CreateGame deals a fresh six-seat table and starts the first night.
func (h *Handler) CreateGame(c *gin.Context) {
	var req models.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.engine.CreateGame(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ListGames returns the games of one workspace, masked while running. The
// workspace defaults to the token's claim.
func (h *Handler) ListGames(c *gin.Context) {
	workspaceID := c.Query("workspaceId")
	if workspaceID == "" {
		workspaceID = c.GetString("workspace_id")
	}
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspaceId is required"})
		return
	}

	games, err := h.engine.ListGames(c.Request.Context(), workspaceID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, games)
}

// GetGame returns the masked view of one game plus the human seat's private
// block; finished games include the role reveal.
func (h *Handler) GetGame(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}

	view, err := h.engine.GetGameView(c.Request.Context(), gameID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListEvents serves the persisted timeline, visibility-filtered while the
// game runs. Supports ?after=<id> and ?limit=<n> for incremental reads.
func (h *Handler) ListEvents(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}

	afterID, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	events, err := h.engine.ListGameEvents(c.Request.Context(), gameID, afterID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}

// GetReview returns the post-game report, building and persisting it on
// first access.
func (h *Handler) GetReview(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}

	review, err := h.engine.GetReview(c.Request.Context(), gameID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, review)
}

// SubmitNightAction applies the human seat's night choice.
func (h *Handler) SubmitNightAction(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}

	var req models.SubmitNightActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.engine.SubmitNightAction(c.Request.Context(), gameID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitSpeech applies the human seat's day speech, or a skip.
func (h *Handler) SubmitSpeech(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}

	var req models.SubmitSpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.SubmitSpeech(c.Request.Context(), gameID, req); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// SubmitVote applies the human seat's ballot.
func (h *Handler) SubmitVote(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}

	var req models.SubmitVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.SubmitVote(c.Request.Context(), gameID, req); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// ============================================================================
// WEBSOCKET
// ============================================================================

// StreamGame upgrades to a websocket subscription: persisted public history
// is replayed in id order, then the stream goes live. Consumers dedupe by
// frame id across the seam.
func (h *Handler) StreamGame(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}

	// Reject unknown games before hijacking the connection.
	if _, err := h.engine.ListGameEvents(c.Request.Context(), gameID, 0, 1); err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := ws.NewClient(h.hub, conn, gameID)
	client.Register()

	// Snapshot after registering: anything emitted from here on parks in the
	// client's pending buffer, so nothing falls between history and live.
	history, err := h.engine.ListGameEvents(c.Request.Context(), gameID, 0, 0)
	if err != nil {
		h.log.Warn("websocket history fetch failed",
			zap.String("game_id", gameID.String()), zap.Error(err))
		client.Unregister()
		return
	}
	for _, ev := range history {
		if err := client.Replay(ev); err != nil {
			client.Unregister()
			return
		}
	}
	if err := client.GoLive(); err != nil {
		client.Unregister()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// ============================================================================
// HELPERS
// ============================================================================

func parseGameID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game ID"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps engine sentinels onto HTTP statuses. Anything unmapped
// is an internal error and logged.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, game.ErrBusy):
		c.JSON(http.StatusTooManyRequests, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, game.ErrInvalidUtterance):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, game.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, game.ErrGameFinished),
		errors.Is(err, game.ErrGameRunning),
		errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, game.ErrActorDead),
		errors.Is(err, game.ErrWrongPhase),
		errors.Is(err, game.ErrSkipLimitReached):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal error"})
	}
}
