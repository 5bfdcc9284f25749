package game

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/moonhollow/werewolf-arena/internal/agent"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

const humanLabel = "人类玩家"

// GetGameView returns the externally-visible projection of one game: the
// masked game row, the masked seat list, the reveal once finished, and the
// human seat's private block.
func (e *Engine) GetGameView(ctx context.Context, gameID uuid.UUID) (*models.GameView, error) {
	g, players, err := e.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	human := humanPlayer(players)
	view := &models.GameView{
		Game:    maskGame(g, human),
		Players: playerViews(g, players),
	}
	if g.Status == models.GameStatusFinished {
		view.Reveal = roleReveals(players)
	}
	if human != nil {
		view.Human = e.humanPrivate(g, players, human)
	}
	return view, nil
}

// ListGameEvents serves the persisted timeline. While the game runs only
// public entries are visible; once finished the full log (creation payload,
// night actions) opens up.
func (e *Engine) ListGameEvents(ctx context.Context, gameID uuid.UUID, afterID int64, limit int) ([]*models.RoundEvent, error) {
	g, _, err := e.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	publicOnly := g.Status == models.GameStatusRunning
	return e.store.ListEvents(ctx, gameID, afterID, limit, publicOnly)
}

func (e *Engine) ListGames(ctx context.Context, workspaceID string) ([]*models.Game, error) {
	games, err := e.store.ListGames(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for i, g := range games {
		g.State.Normalize()
		if g.Status == models.GameStatusRunning {
			games[i] = maskGame(g, nil)
		}
	}
	return games, nil
}

// maskGame copies the row with everything secret scrubbed while the game
// runs: the night ledger shrinks to last night's deaths, and during night
// phases the turn order and pointer (which would betray who holds a night
// role) disappear. The human's own pointer stays, their client needs it to
// know it is their move.
func maskGame(g *models.Game, human *models.Player) *models.Game {
	if g.Status != models.GameStatusRunning {
		return g
	}
	masked := *g
	masked.State.Night = models.NightState{
		DeathsLastNight: g.State.Night.DeathsLastNight,
	}
	if g.Phase.IsNight() {
		masked.State.TurnOrder = []uuid.UUID{}
		masked.State.TurnIndex = 0
		masked.CurrentTurnPlayerID = nil
		if human != nil && g.CurrentTurnPlayerID != nil && *g.CurrentTurnPlayerID == human.ID {
			masked.CurrentTurnPlayerID = g.CurrentTurnPlayerID
		}
	}
	return &masked
}

// playerViews projects the seat list. While running, every non-human seat
// reports villager; the human's own seat keeps its true role for their
// client.
func playerViews(g *models.Game, players []*models.Player) []models.PlayerView {
	views := make([]models.PlayerView, 0, len(players))
	for _, p := range players {
		role := p.Role
		if g.Status == models.GameStatusRunning && !p.IsHuman {
			role = models.RoleVillager
		}
		label := humanLabel
		if !p.IsHuman {
			label = agent.ProfileFor(p.StrategyKey).AgentName
		}
		views = append(views, models.PlayerView{
			AgentID: p.AgentID,
			SeatNo:  p.SeatNo,
			Label:   label,
			IsHuman: p.IsHuman,
			Alive:   p.Alive,
			Role:    role,
			Emotion: p.EmotionState,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].SeatNo < views[j].SeatNo })
	return views
}

func roleReveals(players []*models.Player) []models.RoleReveal {
	out := make([]models.RoleReveal, 0, len(players))
	for _, p := range players {
		out = append(out, models.RoleReveal{AgentID: p.AgentID, SeatNo: p.SeatNo, Role: p.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNo < out[j].SeatNo })
	return out
}

// humanPrivate assembles the block only the human seat may see: their role,
// the role-specific night knowledge, and the remaining skip budget.
func (e *Engine) humanPrivate(g *models.Game, players []*models.Player, human *models.Player) *models.HumanPrivate {
	night := g.State.Night
	priv := &models.HumanPrivate{
		Role:            human.Role,
		SpeechSkipsLeft: e.cfg.SpeechSkipLimit - human.Memory.SpeechSkipsUsed,
	}
	priv.NightInfo, priv.SpeechInfo = humanInstructions(human.Role)

	switch human.Role {
	case models.RoleWerewolf:
		for _, w := range livingWolves(players) {
			if w.ID != human.ID {
				priv.TeammateSeats = append(priv.TeammateSeats, w.SeatNo)
			}
		}
	case models.RoleSeer:
		if night.SeerCheckTarget != nil {
			if t := playerByID(players, *night.SeerCheckTarget); t != nil {
				priv.SeerCheck = &models.SeerCheckView{
					TargetSeat: t.SeatNo,
					Verdict:    night.SeerResult,
				}
			}
		}
	case models.RoleWitch:
		priv.WitchHealAvailable = !night.WitchHealUsed
		priv.WitchPoisonAvailable = !night.WitchPoisonUsed
		if g.Phase == models.PhaseNightWitch && night.PendingKill != nil {
			if v := playerByID(players, *night.PendingKill); v != nil {
				seat := v.SeatNo
				priv.PendingKillSeat = &seat
			}
		}
	}
	return priv
}

func humanInstructions(role models.Role) (night, speech string) {
	switch role {
	case models.RoleWerewolf:
		return "夜晚轮到你时选择一名击杀目标；狼队意见一致才会形成刀口。",
			"白天把自己说成好人，引导票型远离狼队。"
	case models.RoleSeer:
		return "夜晚选择一名玩家查验，你会得到他是否狼人的结果。",
			"白天可以用查验结果引导局势，但亮身份会让你成为刀口。"
	case models.RoleWitch:
		return "夜晚你会得知今晚的刀口；解药与毒药整局各一瓶，每晚至多用一瓶。",
			"白天先隐藏你掌握的信息，关键轮次再出手。"
	default:
		return "夜晚你无需行动，闭眼等待天亮。",
			"白天认真比对发言与票型，投出你怀疑的狼人。"
	}
}
