package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/agent"
	"github.com/moonhollow/werewolf-arena/internal/metrics"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

const tableSize = 6

// rolePool is the fixed six-seat distribution, shuffled over seats at
// creation.
var rolePool = []models.Role{
	models.RoleWerewolf, models.RoleWerewolf,
	models.RoleSeer, models.RoleWitch,
	models.RoleVillager, models.RoleVillager,
}

// CreateGame builds a six-seat table for the workspace: the human agent (when
// given) in seat 1 plus ephemeral AI seats, roles shuffled with the game's
// RNG, and kicks the opening night.
func (e *Engine) CreateGame(ctx context.Context, req models.CreateGameRequest) (*models.CreateGameResponse, error) {
	gameID := uuid.New()
	roles := append([]models.Role(nil), rolePool...)
	rng := e.rngFor(gameID)
	rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })

	g, players, err := e.createGameWithRoles(ctx, gameID, req.WorkspaceID, req.HumanAgentID, roles)
	if err != nil {
		return nil, err
	}
	e.sched.Kick(g.ID)

	resp := &models.CreateGameResponse{
		Game:    maskGame(g, humanPlayer(players)),
		Players: playerViews(g, players),
	}
	if human := humanPlayer(players); human != nil {
		resp.HumanRole = human.Role
		resp.HumanNightInfo, resp.HumanSpeechInfo = humanInstructions(human.Role)
	}
	return resp, nil
}

// createGameWithRoles persists the table with an explicit seat→role layout.
// Seat 1 is the human when present; AI seats follow in strategy-slot order.
func (e *Engine) createGameWithRoles(ctx context.Context, gameID uuid.UUID, workspaceID string, humanAgentID *uuid.UUID, roles []models.Role) (*models.Game, []*models.Player, error) {
	if len(roles) != tableSize {
		return nil, nil, fmt.Errorf("need %d roles, got %d", tableSize, len(roles))
	}

	now := time.Now().UTC()
	aiCount := tableSize
	if humanAgentID != nil {
		aiCount = tableSize - 1
	}

	agents := make([]*models.Agent, 0, aiCount)
	for i := 0; i < aiCount; i++ {
		slot := agent.SlotOrder[i%len(agent.SlotOrder)]
		profile := agent.ProfileFor(slot)
		agents = append(agents, &models.Agent{
			ID:          uuid.New(),
			WorkspaceID: workspaceID,
			Name:        profile.AgentName,
			StrategyKey: slot,
			Ephemeral:   true,
			CreatedAt:   now,
		})
	}

	memberIDs := make([]uuid.UUID, 0, tableSize)
	if humanAgentID != nil {
		memberIDs = append(memberIDs, *humanAgentID)
	}
	for _, a := range agents {
		memberIDs = append(memberIDs, a.ID)
	}
	group := &models.Group{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Name:        fmt.Sprintf("werewolf-%s", gameID.String()[:8]),
		MemberIDs:   memberIDs,
		CreatedAt:   now,
	}

	players := make([]*models.Player, 0, tableSize)
	seat := 1
	if humanAgentID != nil {
		players = append(players, newPlayer(gameID, *humanAgentID, seat, roles[seat-1], true, ""))
		seat++
	}
	for _, a := range agents {
		players = append(players, newPlayer(gameID, a.ID, seat, roles[seat-1], false, a.StrategyKey))
		seat++
	}

	g := &models.Game{
		ID:           gameID,
		WorkspaceID:  workspaceID,
		Status:       models.GameStatusRunning,
		Phase:        models.PhaseNightWolf,
		RoundNo:      1,
		HumanAgentID: humanAgentID,
		GroupID:      group.ID,
		State: models.GameState{
			TurnOrder:     idsOf(livingWolves(players)),
			VotersPending: []uuid.UUID{},
			TieCandidates: []uuid.UUID{},
			Night:         models.NightState{WolfVotes: map[uuid.UUID]uuid.UUID{}, DeathsLastNight: []uuid.UUID{}},
		},
		StartedAt: now,
	}

	if err := e.store.CreateGame(ctx, g, players, agents, group); err != nil {
		return nil, nil, fmt.Errorf("create game: %w", err)
	}

	// The creation event is private: it carries the true role layout so the
	// finished game can be reconstructed from the log alone.
	rolesBySeat := make(map[string]models.Role, tableSize)
	for _, p := range players {
		rolesBySeat[fmt.Sprintf("%d", p.SeatNo)] = p.Role
	}
	if _, err := e.record(ctx, g, models.EventGameCreated, false, nil, nil, models.EventPayload{
		Roles: rolesBySeat,
	}); err != nil {
		return nil, nil, err
	}
	if err := e.gmNotice(ctx, g, gmNightFalls(1)); err != nil {
		return nil, nil, err
	}
	e.playCinematic(ctx, g, "nightfall", e.cfg.CinematicNight)

	mode := "exhibition"
	if humanAgentID != nil {
		mode = "human"
	}
	metrics.GamesCreated.WithLabelValues(mode).Inc()
	e.log.Info("game created",
		zap.String("game_id", gameID.String()),
		zap.String("workspace_id", workspaceID),
		zap.String("mode", mode))
	return g, players, nil
}

func newPlayer(gameID, agentID uuid.UUID, seatNo int, role models.Role, isHuman bool, strategyKey string) *models.Player {
	p := &models.Player{
		ID:           uuid.New(),
		GameID:       gameID,
		AgentID:      agentID,
		IsHuman:      isHuman,
		Role:         role,
		Alive:        true,
		SeatNo:       seatNo,
		StrategyKey:  strategyKey,
		EmotionState: models.EmotionCalm,
	}
	if !isHuman {
		p.DecodeConfig = agent.ProfileFor(strategyKey).Decode
	}
	p.Memory.Normalize()
	return p
}

func humanPlayer(players []*models.Player) *models.Player {
	for _, p := range players {
		if p.IsHuman {
			return p
		}
	}
	return nil
}
