package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/config"
	"github.com/moonhollow/werewolf-arena/internal/game"
	"github.com/moonhollow/werewolf-arena/internal/middleware"
	"github.com/moonhollow/werewolf-arena/internal/models"
	"github.com/moonhollow/werewolf-arena/internal/store"
	"github.com/moonhollow/werewolf-arena/internal/ws"
)

// parkedLLM blocks every completion until the engine shuts down, pinning
// created games at their first werewolf turn. entered closes once the first
// turn has reached the model, i.e. once the turn announcement is persisted.
type parkedLLM struct {
	entered chan struct{}
	once    sync.Once
}

func newParkedLLM() *parkedLLM {
	return &parkedLLM{entered: make(chan struct{})}
}

func (p *parkedLLM) ChatJSON(ctx context.Context, _, _ string, _ models.DecodeConfig) (string, error) {
	p.once.Do(func() { close(p.entered) })
	<-ctx.Done()
	return "", ctx.Err()
}

type apiRig struct {
	router *gin.Engine
	llm    *parkedLLM
	token  string
}

func newAPIRig(t *testing.T, apiKey string) *apiRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{APIKey: apiKey},
		JWT:    config.JWTConfig{Secret: "api-test-secret", Expiry: time.Hour},
		Game: config.GameConfig{
			LLMRetry:           2,
			SpeechSimThreshold: 0.45,
			VoteSimThreshold:   0.46,
			SpeechCountdownSec: 18,
			VoteCountdownSec:   12,
			SpeechSkipLimit:    1,
		},
	}

	llm := newParkedLLM()
	engine := game.NewEngine(store.NewMemory(), llm, cfg.Game, zap.NewNop())
	t.Cleanup(engine.Stop)

	hub := ws.NewHub(zap.NewNop())
	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(hubCtx)

	handler := NewHandler(engine, hub, cfg, zap.NewNop())

	router := gin.New()
	public := router.Group("/api/v1")
	{
		public.POST("/auth/token", handler.MintToken)
		public.GET("/games/:id/ws", handler.StreamGame)
	}
	protected := router.Group("/api/v1")
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		protected.POST("/games", handler.CreateGame)
		protected.GET("/games", handler.ListGames)
		protected.GET("/games/:id", handler.GetGame)
		protected.GET("/games/:id/events", handler.ListEvents)
		protected.GET("/games/:id/review", handler.GetReview)
		protected.POST("/games/:id/night-action", handler.SubmitNightAction)
		protected.POST("/games/:id/speech", handler.SubmitSpeech)
		protected.POST("/games/:id/vote", handler.SubmitVote)
	}

	token, _, err := middleware.GenerateWorkspaceToken("ws-api", cfg.JWT.Secret, cfg.JWT.Expiry)
	require.NoError(t, err)

	return &apiRig{router: router, llm: llm, token: token}
}

func (r *apiRig) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	rec := httptest.NewRecorder()
	r.router.ServeHTTP(rec, req)
	return rec
}

func (r *apiRig) createGame(t *testing.T) models.CreateGameResponse {
	t.Helper()
	rec := r.do(t, http.MethodPost, "/api/v1/games", models.CreateGameRequest{WorkspaceID: "ws-api"}, true)
	require.Equal(t, http.StatusCreated, rec.Code, "create must succeed: %s", rec.Body.String())
	var resp models.CreateGameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func apiError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestAPI_MintTokenIssuesWorkspaceJWT(t *testing.T) {
	rig := newAPIRig(t, "")

	rec := rig.do(t, http.MethodPost, "/api/v1/auth/token", models.TokenRequest{WorkspaceID: "ws-minted"}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, 5*time.Second)

	claims, err := middleware.ValidateToken(resp.Token, "api-test-secret")
	require.NoError(t, err)
	assert.Equal(t, "ws-minted", claims.WorkspaceID)

	rec = rig.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "workspace_id is required")
}

func TestAPI_MintTokenHonorsServiceKey(t *testing.T) {
	rig := newAPIRig(t, "svc-secret")

	rec := rig.do(t, http.MethodPost, "/api/v1/auth/token", models.TokenRequest{WorkspaceID: "ws-minted"}, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid api key", apiError(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"workspace_id":"ws-minted"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", "wrong")
	rec = httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"workspace_id":"ws-minted"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", "svc-secret")
	rec = httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_CreateGameDealsMaskedTable(t *testing.T) {
	rig := newAPIRig(t, "")

	resp := rig.createGame(t)
	require.NotNil(t, resp.Game)
	assert.NotEqual(t, uuid.Nil, resp.Game.ID)
	assert.Equal(t, models.GameStatusRunning, resp.Game.Status)
	assert.Empty(t, resp.HumanRole, "an all-AI table has no human block")
	assert.Empty(t, resp.Reveal)
	require.Len(t, resp.Players, 6)

	rec := rig.do(t, http.MethodGet, "/api/v1/games/"+resp.Game.ID.String(), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.GameView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.Game)
	assert.Equal(t, resp.Game.ID, view.Game.ID)
	assert.Nil(t, view.Human)
	assert.Empty(t, view.Reveal, "no reveal while the game runs")
	require.Len(t, view.Players, 6)
	for i, p := range view.Players {
		assert.Equal(t, i+1, p.SeatNo, "seat order must be stable")
		assert.Equal(t, models.RoleVillager, p.Role, "seat %d must be masked while running", p.SeatNo)
		assert.NotEmpty(t, p.Label)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/games?workspaceId=ws-api", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []*models.Game
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, resp.Game.ID, listed[0].ID)

	rec = rig.do(t, http.MethodGet, "/api/v1/games/"+resp.Game.ID.String(), nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "game reads sit behind the token gate")
}

func TestAPI_GameIDValidation(t *testing.T) {
	rig := newAPIRig(t, "")

	rec := rig.do(t, http.MethodGet, "/api/v1/games/not-a-uuid", nil, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid game ID", apiError(t, rec))

	unknown := uuid.New().String()
	rec = rig.do(t, http.MethodGet, "/api/v1/games/"+unknown, nil, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, game.ErrGameNotFound.Error(), apiError(t, rec))

	rec = rig.do(t, http.MethodGet, "/api/v1/games/"+unknown+"/review", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListEventsCursorValidation(t *testing.T) {
	rig := newAPIRig(t, "")
	resp := rig.createGame(t)
	base := "/api/v1/games/" + resp.Game.ID.String() + "/events"

	rec := rig.do(t, http.MethodGet, base+"?after=abc", nil, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid after cursor", apiError(t, rec))

	rec = rig.do(t, http.MethodGet, base+"?limit=-1", nil, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid limit", apiError(t, rec))

	// Once the first turn has reached the model its announcement is on disk.
	<-rig.llm.entered
	rec = rig.do(t, http.MethodGet, base, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []*models.RoundEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.NotEmpty(t, events, "the wolf turn announcement must be visible")
	for _, ev := range events {
		assert.True(t, ev.IsPublic, "running games serve public events only, got %s", ev.EventType)
	}

	rec = rig.do(t, http.MethodGet, base+"?after=0&limit=1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var page []*models.RoundEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page, 1)
}

func TestAPI_ReviewConflictsWhileRunning(t *testing.T) {
	rig := newAPIRig(t, "")
	resp := rig.createGame(t)

	rec := rig.do(t, http.MethodGet, "/api/v1/games/"+resp.Game.ID.String()+"/review", nil, true)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, game.ErrGameRunning.Error(), apiError(t, rec))
}

func TestAPI_SubmitValidation(t *testing.T) {
	rig := newAPIRig(t, "")
	unknown := uuid.New().String()

	rec := rig.do(t, http.MethodPost, "/api/v1/games/"+unknown+"/night-action", map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "night action requires actor and action type")

	rec = rig.do(t, http.MethodPost, "/api/v1/games/"+unknown+"/night-action", models.SubmitNightActionRequest{
		ActorAgentID: uuid.New(),
		ActionType:   models.NightActionWolfKill,
	}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code, "well-formed submits against unknown games are 404s")

	rec = rig.do(t, http.MethodPost, "/api/v1/games/"+unknown+"/speech", map[string]string{"text": "没有演员字段"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = rig.do(t, http.MethodPost, "/api/v1/games/"+unknown+"/speech", models.SubmitSpeechRequest{
		ActorAgentID: uuid.New(),
		Text:         "我先听大家的理由再说。",
	}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = rig.do(t, http.MethodPost, "/api/v1/games/"+unknown+"/vote", map[string]any{
		"voter_agent_id":  uuid.New(),
		"target_agent_id": uuid.New(),
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a ballot without a reason is rejected")

	rec = rig.do(t, http.MethodPost, "/api/v1/games/"+unknown+"/vote", models.SubmitVoteRequest{
		VoterAgentID:  uuid.New(),
		TargetAgentID: uuid.New(),
		Reason:        "玩家2的发言和票型对不上。",
	}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &Handler{log: zap.NewNop(), cfg: &config.Config{}}

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "not found", err: game.ErrGameNotFound, wantStatus: http.StatusNotFound, wantBody: game.ErrGameNotFound.Error()},
		{name: "busy", err: game.ErrBusy, wantStatus: http.StatusTooManyRequests, wantBody: game.ErrBusy.Error()},
		{name: "utterance rejected", err: fmt.Errorf("%w: 与历史发言过于相似", game.ErrInvalidUtterance), wantStatus: http.StatusUnprocessableEntity, wantBody: "utterance rejected: 与历史发言过于相似"},
		{name: "invalid target", err: game.ErrInvalidTarget, wantStatus: http.StatusBadRequest, wantBody: game.ErrInvalidTarget.Error()},
		{name: "finished", err: game.ErrGameFinished, wantStatus: http.StatusConflict, wantBody: game.ErrGameFinished.Error()},
		{name: "running", err: game.ErrGameRunning, wantStatus: http.StatusConflict, wantBody: game.ErrGameRunning.Error()},
		{name: "not your turn", err: game.ErrNotYourTurn, wantStatus: http.StatusConflict, wantBody: game.ErrNotYourTurn.Error()},
		{name: "actor dead", err: game.ErrActorDead, wantStatus: http.StatusConflict, wantBody: game.ErrActorDead.Error()},
		{name: "wrong phase", err: game.ErrWrongPhase, wantStatus: http.StatusConflict, wantBody: game.ErrWrongPhase.Error()},
		{name: "skip limit", err: game.ErrSkipLimitReached, wantStatus: http.StatusConflict, wantBody: game.ErrSkipLimitReached.Error()},
		{name: "unmapped", err: errors.New("pg connection reset"), wantStatus: http.StatusInternalServerError, wantBody: "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			handler.respondError(c, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)
			var body models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantBody, body.Error)
		})
	}
}

func TestAPI_StreamRejectsBeforeUpgrade(t *testing.T) {
	rig := newAPIRig(t, "")

	rec := rig.do(t, http.MethodGet, "/api/v1/games/"+uuid.New().String()+"/ws", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown games are rejected before the hijack")

	resp := rig.createGame(t)
	rec = rig.do(t, http.MethodGet, "/api/v1/games/"+resp.Game.ID.String()+"/ws", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a plain GET is not a websocket handshake")
}

func TestAPI_StreamReplaysHistoryOverWebsocket(t *testing.T) {
	rig := newAPIRig(t, "")
	resp := rig.createGame(t)
	<-rig.llm.entered

	srv := httptest.NewServer(rig.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/games/" + resp.Game.ID.String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err, "the public history must replay on connect")
	var frame models.StreamFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	require.NotNil(t, frame.ID, "replayed frames carry their persisted id")
	assert.Positive(t, *frame.ID)
	assert.NotEmpty(t, frame.Event)
	assert.Equal(t, resp.Game.ID, frame.Data.GameID)
}
