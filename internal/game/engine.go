package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/agent"
	"github.com/moonhollow/werewolf-arena/internal/config"
	"github.com/moonhollow/werewolf-arena/internal/llm"
	"github.com/moonhollow/werewolf-arena/internal/metrics"
	"github.com/moonhollow/werewolf-arena/internal/models"
	"github.com/moonhollow/werewolf-arena/internal/store"
)

// Engine orchestrates every game: it owns the phase machine, the turn
// scheduler and the agent adapters. All state lives in the store; the engine
// itself only caches per-game RNGs, so a restart resumes cleanly.
type Engine struct {
	store store.Store
	llm   llm.Client
	cfg   config.GameConfig
	log   *zap.Logger

	validator *agent.Validator
	adapter   *agent.TurnAdapter
	sched     *Scheduler

	emitter Emitter
	bridge  *redis.Client

	rngMu      sync.Mutex
	rngs       map[uuid.UUID]*rand.Rand
	rngFactory func(gameID uuid.UUID) *rand.Rand
}

func NewEngine(st store.Store, client llm.Client, cfg config.GameConfig, logger *zap.Logger) *Engine {
	v := agent.NewValidator(cfg.SpeechSimThreshold, cfg.VoteSimThreshold)
	e := &Engine{
		store:     st,
		llm:       client,
		cfg:       cfg,
		log:       logger,
		validator: v,
		adapter:   agent.NewTurnAdapter(client, v, logger, cfg.LLMRetry),
		rngs:      make(map[uuid.UUID]*rand.Rand),
		rngFactory: func(uuid.UUID) *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
	e.sched = NewScheduler(e, logger)
	return e
}

// SetEmitter wires the live fan-out. Called once at startup, before any game
// runs.
func (e *Engine) SetEmitter(em Emitter) { e.emitter = em }

// SetEventBridge wires the optional pub/sub mirror of the frame stream.
func (e *Engine) SetEventBridge(rdb *redis.Client) { e.bridge = rdb }

// SetRNGFactory replaces the per-game randomness source. Tests install a
// factory seeded from the game id to make whole games reproducible.
func (e *Engine) SetRNGFactory(f func(gameID uuid.UUID) *rand.Rand) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	e.rngFactory = f
	e.rngs = make(map[uuid.UUID]*rand.Rand)
}

// Stop drains the scheduler. In-flight turns finish; no new work starts.
func (e *Engine) Stop() { e.sched.Stop() }

// ResumeRunningGames kicks every game left running by a previous process.
// Parked human turns re-announce themselves and park again.
func (e *Engine) ResumeRunningGames(ctx context.Context) error {
	ids, err := e.store.ListRunningGameIDs(ctx)
	if err != nil {
		return fmt.Errorf("list running games: %w", err)
	}
	for _, id := range ids {
		e.sched.Kick(id)
	}
	if len(ids) > 0 {
		e.log.Info("resumed running games", zap.Int("count", len(ids)))
	}
	return nil
}

// rngFor returns the cached per-game source. Only the game's runner goroutine
// draws from it, so no further locking is needed around use.
func (e *Engine) rngFor(gameID uuid.UUID) *rand.Rand {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	if r, ok := e.rngs[gameID]; ok {
		return r
	}
	r := e.rngFactory(gameID)
	e.rngs[gameID] = r
	return r
}

func (e *Engine) dropRNG(gameID uuid.UUID) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	delete(e.rngs, gameID)
}

// loadGame fetches the game row plus seats and normalizes the JSONB blobs.
func (e *Engine) loadGame(ctx context.Context, gameID uuid.UUID) (*models.Game, []*models.Player, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrGameNotFound
		}
		return nil, nil, fmt.Errorf("load game: %w", err)
	}
	players, err := e.store.ListPlayers(ctx, gameID)
	if err != nil {
		return nil, nil, fmt.Errorf("load players: %w", err)
	}
	g.State.Normalize()
	for _, p := range players {
		p.Memory.Normalize()
	}
	return g, players, nil
}

// ============================================================================
// WINNER EVALUATION & CLOSE
// ============================================================================

// evaluateWinner applies the parity rule: no wolves means the good side won;
// wolves matching or outnumbering the rest means the wolves won.
func evaluateWinner(players []*models.Player) *models.WinnerSide {
	wolves, good := 0, 0
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if p.Role == models.RoleWerewolf {
			wolves++
		} else {
			good++
		}
	}
	if wolves == 0 {
		w := models.WinnerGoodSide
		return &w
	}
	if wolves >= good {
		w := models.WinnerWerewolfSide
		return &w
	}
	return nil
}

// closeGame finalizes a decided game: terminal row state, the game_over
// event with the full reveal, and ephemeral agent cleanup.
func (e *Engine) closeGame(ctx context.Context, g *models.Game, players []*models.Player, winner models.WinnerSide) error {
	now := time.Now().UTC()
	g.Status = models.GameStatusFinished
	g.Phase = models.PhaseGameOver
	g.WinnerSide = &winner
	g.EndedAt = &now
	g.CurrentTurnPlayerID = nil
	g.State.VotersPending = []uuid.UUID{}
	if err := e.store.SaveGame(ctx, g); err != nil {
		return fmt.Errorf("finalize game: %w", err)
	}

	reveal := make(map[string]models.Role, len(players))
	for _, p := range players {
		reveal[fmt.Sprintf("%d", p.SeatNo)] = p.Role
	}
	if _, err := e.record(ctx, g, models.EventGameOver, true, nil, nil, models.EventPayload{
		Winner:  &winner,
		Message: gmGameOver(winner),
		Roles:   reveal,
	}); err != nil {
		return err
	}
	e.emitTransient(ctx, g, models.EventTimelineTick, nil, models.EventPayload{Marker: "game_over"})

	var ephemeral []uuid.UUID
	for _, p := range players {
		if !p.IsHuman {
			ephemeral = append(ephemeral, p.AgentID)
		}
	}
	if err := e.store.SoftDeleteAgents(ctx, ephemeral); err != nil {
		e.log.Warn("soft-delete ephemeral agents failed",
			zap.String("game_id", g.ID.String()), zap.Error(err))
	}

	metrics.GamesFinished.WithLabelValues(string(winner)).Inc()
	e.dropRNG(g.ID)
	e.log.Info("game finished",
		zap.String("game_id", g.ID.String()),
		zap.String("winner", string(winner)),
		zap.Int("rounds", g.RoundNo))
	return nil
}

// ============================================================================
// SEAT HELPERS
// ============================================================================

func playerByID(players []*models.Player, id uuid.UUID) *models.Player {
	for _, p := range players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func playerByAgent(players []*models.Player, agentID uuid.UUID) *models.Player {
	for _, p := range players {
		if p.AgentID == agentID {
			return p
		}
	}
	return nil
}

func playerBySeat(players []*models.Player, seat int) *models.Player {
	for _, p := range players {
		if p.SeatNo == seat {
			return p
		}
	}
	return nil
}

// alivePlayers preserves the store's seat order.
func alivePlayers(players []*models.Player) []*models.Player {
	out := make([]*models.Player, 0, len(players))
	for _, p := range players {
		if p.Alive {
			out = append(out, p)
		}
	}
	return out
}

func livingWolves(players []*models.Player) []*models.Player {
	out := make([]*models.Player, 0, 2)
	for _, p := range players {
		if p.Alive && p.Role == models.RoleWerewolf {
			out = append(out, p)
		}
	}
	return out
}

func livingByRole(players []*models.Player, role models.Role) *models.Player {
	for _, p := range players {
		if p.Alive && p.Role == role {
			return p
		}
	}
	return nil
}

func seatsOf(players []*models.Player) []int {
	out := make([]int, len(players))
	for i, p := range players {
		out[i] = p.SeatNo
	}
	return out
}

func idsOf(players []*models.Player) []uuid.UUID {
	out := make([]uuid.UUID, len(players))
	for i, p := range players {
		out[i] = p.ID
	}
	return out
}

func aliveSeatMap(players []*models.Player) map[int]bool {
	out := make(map[int]bool, len(players))
	for _, p := range players {
		out[p.SeatNo] = p.Alive
	}
	return out
}

func deadSeats(players []*models.Player) []int {
	var out []int
	for _, p := range players {
		if !p.Alive {
			out = append(out, p.SeatNo)
		}
	}
	return out
}
