package game

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/agent"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

// phraseWindow is how many recent utterances a seat keeps for the
// originality check and the prompt's "do not repeat" block.
const phraseWindow = 8

// suspicionBump is added to the target's ledger for each vote cast against
// them.
const suspicionBump = 0.15

// ============================================================================
// PROMPT & VALIDATOR CONTEXT
// ============================================================================

// promptInput assembles the shared snapshot one turn prompt is built from.
// A failed event read degrades to a history-less prompt rather than failing
// the turn.
func (e *Engine) promptInput(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) agent.PromptInput {
	events, err := e.store.ListEvents(ctx, g.ID, 0, 0, true)
	if err != nil {
		e.log.Warn("load events for prompt failed",
			zap.String("game_id", g.ID.String()), zap.Error(err))
	}

	in := agent.PromptInput{
		Profile:          agent.ProfileFor(actor.StrategyKey),
		SeatNo:           actor.SeatNo,
		Role:             actor.Role,
		RoundNo:          g.RoundNo,
		Phase:            g.Phase,
		IsTiebreak:       g.State.IsTiebreak,
		PeacefulFirstDay: e.peacefulFirstDay(g),
		AliveSeats:       seatsOf(alivePlayers(players)),
		DeadSeats:        deadSeats(players),
		PublicLines:      recentPublicLines(events),
		RecentPhrases:    actor.Memory.LastPhrases,
	}

	switch actor.Role {
	case models.RoleWerewolf:
		for _, w := range livingWolves(players) {
			if w.ID != actor.ID {
				in.TeammateSeats = append(in.TeammateSeats, w.SeatNo)
			}
		}
	case models.RoleSeer:
		if g.State.Night.SeerCheckTarget != nil {
			if t := playerByID(players, *g.State.Night.SeerCheckTarget); t != nil {
				in.SeerCheckSeat = &t.SeatNo
				in.SeerVerdict = g.State.Night.SeerResult
			}
		}
	case models.RoleWitch:
		in.WitchHealAvailable = !g.State.Night.WitchHealUsed
		in.WitchPoisonAvailable = !g.State.Night.WitchPoisonUsed
		if g.Phase == models.PhaseNightWitch && g.State.Night.PendingKill != nil {
			if v := playerByID(players, *g.State.Night.PendingKill); v != nil {
				in.PendingKillSeat = &v.SeatNo
			}
		}
	}
	return in
}

// peacefulFirstDay reports whether day talk must not reference overnight
// events: round one, nobody died.
func (e *Engine) peacefulFirstDay(g *models.Game) bool {
	return g.RoundNo == 1 && !g.Phase.IsNight() && len(g.State.Night.DeathsLastNight) == 0
}

func (e *Engine) validatorContext(g *models.Game, players []*models.Player, actor *models.Player, history []string) agent.Context {
	vctx := agent.Context{
		RoundNo:          g.RoundNo,
		PeacefulFirstDay: e.peacefulFirstDay(g),
		Seats:            aliveSeatMap(players),
		History:          history,
	}
	if !actor.IsHuman {
		vctx.BannedPhrases = agent.ProfileFor(actor.StrategyKey).BannedPhrases
	}
	return vctx
}

// speechHistory and voteHistory feed the same-kind originality window.
func speechHistory(p *models.Player) []string {
	recs := p.Memory.SpeechHistory
	if len(recs) > phraseWindow {
		recs = recs[len(recs)-phraseWindow:]
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Text
	}
	return out
}

func voteHistory(p *models.Player) []string {
	recs := p.Memory.VoteHistory
	if len(recs) > phraseWindow {
		recs = recs[len(recs)-phraseWindow:]
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Reason
	}
	return out
}

// ============================================================================
// AI TURNS
// ============================================================================

func (e *Engine) decodeFor(g *models.Game, actor *models.Player, night bool) models.DecodeConfig {
	profile := agent.ProfileFor(actor.StrategyKey)
	return agent.ResolveDecode(profile, actor.AgentID, g.RoundNo, g.State.IsTiebreak, night)
}

func (e *Engine) aiWolfKill(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) uuid.UUID {
	targets := wolfKillCandidates(players)
	in := e.promptInput(ctx, g, players, actor)
	in.NightAction = models.NightActionWolfKill
	in.TargetSeats = seatsOf(targets)

	out := e.adapter.Night(ctx, in, e.decodeFor(g, actor, true), e.rngFor(g.ID))
	if out.TargetSeat != nil {
		if t := playerBySeat(players, *out.TargetSeat); t != nil {
			return t.ID
		}
	}
	// Mandatory pick with a non-empty candidate set never reaches here; the
	// first candidate keeps a corrupted reply from stalling the night.
	return targets[0].ID
}

// wolfKillCandidates are the living non-wolves; the consensus invariant says
// a pending kill always names one of them.
func wolfKillCandidates(players []*models.Player) []*models.Player {
	out := make([]*models.Player, 0, len(players))
	for _, p := range players {
		if p.Alive && p.Role != models.RoleWerewolf {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) aiSeerCheck(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) *models.Player {
	targets := make([]*models.Player, 0, len(players))
	for _, p := range alivePlayers(players) {
		if p.ID != actor.ID {
			targets = append(targets, p)
		}
	}
	in := e.promptInput(ctx, g, players, actor)
	in.NightAction = models.NightActionSeerCheck
	in.TargetSeats = seatsOf(targets)

	out := e.adapter.Night(ctx, in, e.decodeFor(g, actor, true), e.rngFor(g.ID))
	if out.TargetSeat != nil {
		if t := playerBySeat(players, *out.TargetSeat); t != nil {
			return t
		}
	}
	return targets[0]
}

// aiWitchTurn runs the witch's two optional asks: save first, then poison.
// One charge per night; a heal ends the turn.
func (e *Engine) aiWitchTurn(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) error {
	night := g.State.Night

	if !night.WitchHealUsed && night.PendingKill != nil {
		if victim := playerByID(players, *night.PendingKill); victim != nil && victim.Alive {
			in := e.promptInput(ctx, g, players, actor)
			in.NightAction = models.NightActionWitchHeal
			in.TargetSeats = []int{victim.SeatNo}
			in.AllowNull = true
			out := e.adapter.Night(ctx, in, e.decodeFor(g, actor, true), e.rngFor(g.ID))
			if out.TargetSeat != nil && *out.TargetSeat == victim.SeatNo {
				return e.applyWitchHeal(ctx, g, players, actor)
			}
		}
	}

	if !night.WitchPoisonUsed {
		var targets []*models.Player
		for _, p := range alivePlayers(players) {
			if p.ID != actor.ID {
				targets = append(targets, p)
			}
		}
		in := e.promptInput(ctx, g, players, actor)
		in.NightAction = models.NightActionWitchPoison
		in.TargetSeats = seatsOf(targets)
		in.AllowNull = true
		out := e.adapter.Night(ctx, in, e.decodeFor(g, actor, true), e.rngFor(g.ID))
		if out.TargetSeat != nil {
			if t := playerBySeat(players, *out.TargetSeat); t != nil {
				return e.applyWitchPoison(ctx, g, players, actor, t)
			}
		}
	}

	return e.applyWitchSkip(ctx, g, players, actor)
}

func (e *Engine) aiSpeech(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) agent.SpeechOutcome {
	in := e.promptInput(ctx, g, players, actor)
	vctx := e.validatorContext(g, players, actor, speechHistory(actor))
	return e.adapter.Speech(ctx, in, e.decodeFor(g, actor, false), vctx)
}

func (e *Engine) aiVote(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) (*models.Player, string) {
	candidates := voteCandidates(g, players, actor)
	in := e.promptInput(ctx, g, players, actor)
	in.TargetSeats = seatsOf(candidates)
	vctx := e.validatorContext(g, players, actor, voteHistory(actor))

	var exclude []int
	if actor.Role == models.RoleWerewolf {
		exclude = seatsOf(livingWolves(players))
	}
	out := e.adapter.Vote(ctx, in, e.decodeFor(g, actor, false), vctx, exclude, e.rngFor(g.ID))
	target := playerBySeat(players, out.TargetSeat)
	if target == nil {
		target = candidates[0]
	}
	return target, out.Reason
}

// ============================================================================
// APPLY (shared by AI turns and human submissions)
// ============================================================================

func (e *Engine) applyWolfVote(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player, targetID uuid.UUID) error {
	g.State.Night.WolfVotes[actor.ID] = targetID
	e.advanceOrder(g, players)
	if err := e.store.SaveGame(ctx, g); err != nil {
		return fmt.Errorf("save wolf vote: %w", err)
	}
	target := playerByID(players, targetID)
	targetSeat := 0
	if target != nil {
		targetSeat = target.SeatNo
	}
	_, err := e.record(ctx, g, models.EventNightAction, false, &actor.ID, &targetID, models.EventPayload{
		Action:     string(models.NightActionWolfKill),
		SeatNo:     actor.SeatNo,
		TargetSeat: targetSeat,
	})
	return err
}

func (e *Engine) applySeerCheck(ctx context.Context, g *models.Game, players []*models.Player, actor, target *models.Player) error {
	verdict := models.SeerVerdictGood
	score := 0.0
	if target.Role == models.RoleWerewolf {
		verdict = models.SeerVerdictWerewolf
		score = 1.0
	}
	g.State.Night.SeerCheckTarget = &target.ID
	g.State.Night.SeerResult = verdict

	actor.Memory.SuspectMap[target.ID] = score
	refreshFocus(actor)

	e.advanceOrder(g, players)
	if err := e.store.SaveGameAndPlayers(ctx, g, []*models.Player{actor}); err != nil {
		return fmt.Errorf("save seer check: %w", err)
	}
	_, err := e.record(ctx, g, models.EventNightAction, false, &actor.ID, &target.ID, models.EventPayload{
		Action:     string(models.NightActionSeerCheck),
		SeatNo:     actor.SeatNo,
		TargetSeat: target.SeatNo,
		Verdict:    verdict,
	})
	return err
}

func (e *Engine) applyWitchHeal(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) error {
	night := &g.State.Night
	target := night.PendingKill
	night.WitchHealUsed = true
	night.WitchSaved = true
	e.advanceOrder(g, players)
	if err := e.store.SaveGame(ctx, g); err != nil {
		return fmt.Errorf("save witch heal: %w", err)
	}
	payload := models.EventPayload{Action: string(models.NightActionWitchHeal), SeatNo: actor.SeatNo}
	if target != nil {
		if t := playerByID(players, *target); t != nil {
			payload.TargetSeat = t.SeatNo
		}
	}
	_, err := e.record(ctx, g, models.EventNightAction, false, &actor.ID, target, payload)
	return err
}

func (e *Engine) applyWitchPoison(ctx context.Context, g *models.Game, players []*models.Player, actor, target *models.Player) error {
	night := &g.State.Night
	night.WitchPoisonUsed = true
	night.WitchPoisonTarget = &target.ID
	e.advanceOrder(g, players)
	if err := e.store.SaveGame(ctx, g); err != nil {
		return fmt.Errorf("save witch poison: %w", err)
	}
	_, err := e.record(ctx, g, models.EventNightAction, false, &actor.ID, &target.ID, models.EventPayload{
		Action:     string(models.NightActionWitchPoison),
		SeatNo:     actor.SeatNo,
		TargetSeat: target.SeatNo,
	})
	return err
}

func (e *Engine) applyWitchSkip(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) error {
	e.advanceOrder(g, players)
	if err := e.store.SaveGame(ctx, g); err != nil {
		return fmt.Errorf("save witch skip: %w", err)
	}
	_, err := e.record(ctx, g, models.EventNightAction, false, &actor.ID, nil, models.EventPayload{
		Action: string(models.NightActionWitchSkip),
		SeatNo: actor.SeatNo,
	})
	return err
}

func (e *Engine) applySpeech(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player, text string) error {
	e.streamSpeech(ctx, g, actor, text)

	actor.Memory.PushPhrase(text, phraseWindow)
	actor.Memory.SpeechHistory = append(actor.Memory.SpeechHistory, models.SpeechRecord{
		RoundNo: g.RoundNo,
		Text:    text,
	})
	e.advanceOrder(g, players)
	if err := e.store.SaveGameAndPlayers(ctx, g, []*models.Player{actor}); err != nil {
		return fmt.Errorf("save speech: %w", err)
	}
	_, err := e.record(ctx, g, models.EventSpeech, true, &actor.ID, nil, models.EventPayload{
		SeatNo: actor.SeatNo,
		Text:   text,
	})
	return err
}

func (e *Engine) applySpeechSkip(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player) error {
	actor.Memory.SpeechSkipsUsed++
	e.advanceOrder(g, players)
	if err := e.store.SaveGameAndPlayers(ctx, g, []*models.Player{actor}); err != nil {
		return fmt.Errorf("save speech skip: %w", err)
	}
	_, err := e.record(ctx, g, models.EventSpeechSkip, true, &actor.ID, nil, models.EventPayload{
		SeatNo:    actor.SeatNo,
		SkipsUsed: actor.Memory.SpeechSkipsUsed,
	})
	return err
}

// refreshFocus recomputes the seat's top-two suspects, deterministically
// ordered by score then id.
func refreshFocus(p *models.Player) {
	type scored struct {
		id    uuid.UUID
		score float64
	}
	all := make([]scored, 0, len(p.Memory.SuspectMap))
	for id, s := range p.Memory.SuspectMap {
		if s > 0 {
			all = append(all, scored{id, s})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id.String() < all[j].id.String()
	})
	if len(all) > 2 {
		all = all[:2]
	}
	p.Memory.FocusTargets = make([]uuid.UUID, len(all))
	for i, s := range all {
		p.Memory.FocusTargets[i] = s.id
	}
}

// ============================================================================
// NARRATOR
// ============================================================================

func gmNightFalls(round int) string {
	return fmt.Sprintf("第%d夜降临，全场闭眼。狼人请睁眼，低声商议今晚的目标。", round)
}

const (
	gmNightSeer      = "狼人行动结束。预言家请睁眼，选择一名玩家查验身份。"
	gmNightWitch     = "预言家行动结束。女巫请睁眼。"
	gmSpeaking       = "进入发言环节，存活玩家按座位顺序轮流发言。"
	gmVoting         = "发言结束，进入投票环节，请依次亮票并给出理由。"
	gmTiebreakVoting = "辩护结束，平票候选人之间加赛投票。"
	gmRandomPick     = "加赛仍然平票，按规则随机决定出局者。"
)

func gmDawn(deaths []int) string {
	if len(deaths) == 0 {
		return "天亮了。昨夜是平安夜，无人出局。"
	}
	return fmt.Sprintf("天亮了。昨夜%s出局。", seatLabels(deaths))
}

func gmTie(seats []int) string {
	return fmt.Sprintf("出现平票：%s。候选人依次辩护后加赛一轮投票。", seatLabels(seats))
}

func gmElimination(seat int, role models.Role) string {
	return fmt.Sprintf("玩家%d被投票出局，身份是%s。", seat, roleLabel(role))
}

func gmGameOver(w models.WinnerSide) string {
	if w == models.WinnerGoodSide {
		return "游戏结束：狼人全部出局，好人阵营获胜。"
	}
	return "游戏结束：狼人数量已不少于好人，狼人阵营获胜。"
}
