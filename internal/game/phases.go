package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/metrics"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

// maxAdvanceIterations bounds one advance invocation. A healthy six-seat game
// finishes well inside the cap; hitting it means corrupted state, and a
// bounded loop fails loud instead of spinning.
const maxAdvanceIterations = 160

// advance drives one game forward until it parks on a human turn, reaches a
// terminal state, or hits the iteration cap. Always called from the game's
// runner goroutine, never concurrently.
func (e *Engine) advance(ctx context.Context, gameID uuid.UUID) error {
	for iter := 0; iter < maxAdvanceIterations; iter++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g, players, err := e.loadGame(ctx, gameID)
		if err != nil {
			return err
		}
		if g.Status != models.GameStatusRunning {
			return nil
		}
		parked, err := e.step(ctx, g, players)
		if err != nil {
			return err
		}
		if parked {
			return nil
		}
	}
	e.log.Warn("advance iteration cap reached", zap.String("game_id", gameID.String()))
	return nil
}

// step executes one scheduler iteration: either resolve the pending actor's
// turn or perform the current phase's bookkeeping.
func (e *Engine) step(ctx context.Context, g *models.Game, players []*models.Player) (bool, error) {
	switch g.Phase {
	case models.PhaseNightWolf:
		return e.stepNightWolf(ctx, g, players)
	case models.PhaseNightSeer:
		return e.stepNightSeer(ctx, g, players)
	case models.PhaseNightWitch:
		return e.stepNightWitch(ctx, g, players)
	case models.PhaseDayAnnounce:
		return false, e.stepDayAnnounce(ctx, g, players)
	case models.PhaseDaySpeaking, models.PhaseDayTiebreakSpeaking:
		return e.stepSpeaking(ctx, g, players)
	case models.PhaseDayVoting, models.PhaseDayTiebreakVoting:
		return e.stepVoting(ctx, g, players)
	case models.PhaseDayElimination:
		return false, e.stepElimination(ctx, g, players)
	case models.PhaseGameOver:
		return true, nil
	default:
		return false, fmt.Errorf("unknown phase %q", g.Phase)
	}
}

// ============================================================================
// TURN POINTER
// ============================================================================

func currentPlayer(g *models.Game, players []*models.Player) *models.Player {
	if g.CurrentTurnPlayerID == nil {
		return nil
	}
	return playerByID(players, *g.CurrentTurnPlayerID)
}

// nextInOrder finds the next living actor in TurnOrder at or after TurnIndex.
func nextInOrder(g *models.Game, players []*models.Player) (int, *models.Player) {
	for i := g.State.TurnIndex; i < len(g.State.TurnOrder); i++ {
		if p := playerByID(players, g.State.TurnOrder[i]); p != nil && p.Alive {
			return i, p
		}
	}
	return len(g.State.TurnOrder), nil
}

// advanceOrder moves the pointer past the actor that just resolved. A nil
// current player tells the next iteration to run phase bookkeeping.
func (e *Engine) advanceOrder(g *models.Game, players []*models.Player) {
	g.State.TurnIndex++
	if idx, next := nextInOrder(g, players); next != nil {
		g.State.TurnIndex = idx
		g.CurrentTurnPlayerID = &next.ID
	} else {
		g.CurrentTurnPlayerID = nil
	}
}

// positionOnNext selects the pending actor for an ordered phase, or reports
// that the order is exhausted.
func (e *Engine) positionOnNext(ctx context.Context, g *models.Game, players []*models.Player) (bool, error) {
	idx, next := nextInOrder(g, players)
	if next == nil {
		return false, nil
	}
	g.State.TurnIndex = idx
	g.CurrentTurnPlayerID = &next.ID
	if err := e.store.SaveGame(ctx, g); err != nil {
		return false, fmt.Errorf("save turn pointer: %w", err)
	}
	return true, nil
}

// announceTurn stamps turn_start and the countdown hint. Night turns stay
// anonymous in the public stream so the phase never leaks who holds a night
// role; the human learns their turn from the masked game view.
func (e *Engine) announceTurn(ctx context.Context, g *models.Game, actor *models.Player, kind string) error {
	seconds := e.turnCountdown(actor, kind)
	payload := models.EventPayload{Action: kind, Seconds: seconds}
	var actorRef *uuid.UUID
	if !g.Phase.IsNight() {
		actorRef = &actor.ID
		payload.SeatNo = actor.SeatNo
	}
	if _, err := e.record(ctx, g, models.EventTurnStart, true, actorRef, nil, payload); err != nil {
		return err
	}
	e.emitCountdown(ctx, g, actorRef, seconds)
	return nil
}

func (e *Engine) turnCountdown(actor *models.Player, kind string) int {
	if actor.IsHuman {
		if kind == "speech" {
			return e.cfg.SpeechCountdownSec
		}
		return e.cfg.VoteCountdownSec
	}
	var d time.Duration
	switch kind {
	case "speech":
		d = e.cfg.AISpeakDelay
	case "vote":
		d = e.cfg.AIVoteDelay
	default:
		d = e.cfg.AINightDelay
	}
	return int((d + time.Second - 1) / time.Second)
}

// finishTurn stamps turn_end and applies the pacing pause.
func (e *Engine) finishTurn(ctx context.Context, g *models.Game, actor *models.Player, pause time.Duration) error {
	payload := models.EventPayload{}
	var actorRef *uuid.UUID
	if !g.Phase.IsNight() {
		actorRef = &actor.ID
		payload.SeatNo = actor.SeatNo
	}
	if _, err := e.record(ctx, g, models.EventTurnEnd, true, actorRef, nil, payload); err != nil {
		return err
	}
	kind := "ai"
	if actor.IsHuman {
		kind = "human"
	}
	metrics.TurnsTaken.WithLabelValues(kind).Inc()
	e.sleep(ctx, pause)
	return nil
}

// transition moves the machine to the next phase, stamping phase_change and
// the narrator line, then pausing for the phase beat.
func (e *Engine) transition(ctx context.Context, g *models.Game, phase models.Phase, notice string) error {
	g.Phase = phase
	g.CurrentTurnPlayerID = nil
	if err := e.store.SaveGame(ctx, g); err != nil {
		return fmt.Errorf("save phase transition: %w", err)
	}
	if _, err := e.record(ctx, g, models.EventPhaseChange, true, nil, nil, models.EventPayload{
		Phase:      phase,
		RoundNo:    g.RoundNo,
		IsTiebreak: g.State.IsTiebreak,
	}); err != nil {
		return err
	}
	if notice != "" {
		if err := e.gmNotice(ctx, g, notice); err != nil {
			return err
		}
	}
	e.sleep(ctx, e.cfg.PhaseDelay)
	return nil
}

// ============================================================================
// NIGHT PHASES
// ============================================================================

func (e *Engine) stepNightWolf(ctx context.Context, g *models.Game, players []*models.Player) (bool, error) {
	actor := currentPlayer(g, players)
	if actor == nil {
		positioned, err := e.positionOnNext(ctx, g, players)
		if err != nil || positioned {
			return false, err
		}
		return false, e.resolveWolfConsensus(ctx, g, players)
	}
	if err := e.announceTurn(ctx, g, actor, "night"); err != nil {
		return false, err
	}
	if actor.IsHuman {
		return true, nil
	}
	target := e.aiWolfKill(ctx, g, players, actor)
	if err := e.applyWolfVote(ctx, g, players, actor, target); err != nil {
		return false, err
	}
	return false, e.finishTurn(ctx, g, actor, e.cfg.AINightDelay)
}

// resolveWolfConsensus turns the collected wolf votes into the pending kill:
// a strict plurality names a victim, any tie at the top means no consensus.
func (e *Engine) resolveWolfConsensus(ctx context.Context, g *models.Game, players []*models.Player) error {
	g.State.Night.PendingKill = uniquePlurality(g.State.Night.WolfVotes)

	g.State.TurnOrder = []uuid.UUID{}
	g.State.TurnIndex = 0
	if seer := livingByRole(players, models.RoleSeer); seer != nil {
		g.State.TurnOrder = []uuid.UUID{seer.ID}
	}
	return e.transition(ctx, g, models.PhaseNightSeer, gmNightSeer)
}

func uniquePlurality(votes map[uuid.UUID]uuid.UUID) *uuid.UUID {
	if len(votes) == 0 {
		return nil
	}
	counts := make(map[uuid.UUID]int, len(votes))
	for _, t := range votes {
		counts[t]++
	}
	var best uuid.UUID
	bestN := 0
	tied := false
	for t, n := range counts {
		switch {
		case n > bestN:
			best, bestN, tied = t, n, false
		case n == bestN:
			tied = true
		}
	}
	if tied {
		return nil
	}
	return &best
}

func (e *Engine) stepNightSeer(ctx context.Context, g *models.Game, players []*models.Player) (bool, error) {
	actor := currentPlayer(g, players)
	if actor == nil {
		positioned, err := e.positionOnNext(ctx, g, players)
		if err != nil || positioned {
			return false, err
		}
		return false, e.enterNightWitch(ctx, g, players)
	}
	if err := e.announceTurn(ctx, g, actor, "night"); err != nil {
		return false, err
	}
	if actor.IsHuman {
		return true, nil
	}
	target := e.aiSeerCheck(ctx, g, players, actor)
	if err := e.applySeerCheck(ctx, g, players, actor, target); err != nil {
		return false, err
	}
	return false, e.finishTurn(ctx, g, actor, e.cfg.AINightDelay)
}

func (e *Engine) enterNightWitch(ctx context.Context, g *models.Game, players []*models.Player) error {
	g.State.TurnOrder = []uuid.UUID{}
	g.State.TurnIndex = 0
	if witch := livingByRole(players, models.RoleWitch); witch != nil {
		g.State.TurnOrder = []uuid.UUID{witch.ID}
	}
	return e.transition(ctx, g, models.PhaseNightWitch, gmNightWitch)
}

func (e *Engine) stepNightWitch(ctx context.Context, g *models.Game, players []*models.Player) (bool, error) {
	actor := currentPlayer(g, players)
	if actor == nil {
		positioned, err := e.positionOnNext(ctx, g, players)
		if err != nil || positioned {
			return false, err
		}
		return false, e.resolveNight(ctx, g, players)
	}
	if err := e.announceTurn(ctx, g, actor, "night"); err != nil {
		return false, err
	}
	if actor.IsHuman {
		return true, nil
	}
	if err := e.aiWitchTurn(ctx, g, players, actor); err != nil {
		return false, err
	}
	return false, e.finishTurn(ctx, g, actor, e.cfg.AINightDelay)
}

// resolveNight applies the kill and the poison, marks victims atomically with
// the transition into day_announce, and stamps the per-victim emotions.
func (e *Engine) resolveNight(ctx context.Context, g *models.Game, players []*models.Player) error {
	night := &g.State.Night

	var victims []*models.Player
	if night.PendingKill != nil && !night.WitchSaved {
		if v := playerByID(players, *night.PendingKill); v != nil && v.Alive {
			victims = append(victims, v)
		}
	}
	if night.WitchPoisonTarget != nil {
		if v := playerByID(players, *night.WitchPoisonTarget); v != nil && v.Alive && playerByID(victims, v.ID) == nil {
			victims = append(victims, v)
		}
	}

	night.DeathsLastNight = idsOf(victims)
	for _, v := range victims {
		v.Alive = false
		v.EmotionState = models.EmotionEliminated
	}

	g.Phase = models.PhaseDayAnnounce
	g.CurrentTurnPlayerID = nil
	g.State.TurnOrder = []uuid.UUID{}
	g.State.TurnIndex = 0
	if err := e.store.SaveGameAndPlayers(ctx, g, victims); err != nil {
		return fmt.Errorf("save night resolution: %w", err)
	}

	if _, err := e.record(ctx, g, models.EventPhaseChange, true, nil, nil, models.EventPayload{
		Phase:   models.PhaseDayAnnounce,
		RoundNo: g.RoundNo,
	}); err != nil {
		return err
	}
	for _, v := range victims {
		if _, err := e.record(ctx, g, models.EventEmotionUpdate, true, &v.ID, nil, models.EventPayload{
			SeatNo:  v.SeatNo,
			Emotion: models.EmotionEliminated,
		}); err != nil {
			return err
		}
	}
	e.sleep(ctx, e.cfg.PhaseDelay)
	return nil
}

// ============================================================================
// DAY ANNOUNCE
// ============================================================================

func (e *Engine) stepDayAnnounce(ctx context.Context, g *models.Game, players []*models.Player) error {
	e.playCinematic(ctx, g, "dawn", e.cfg.CinematicDawn)

	seats := make([]int, 0, len(g.State.Night.DeathsLastNight))
	var victims []*models.Player
	for _, id := range g.State.Night.DeathsLastNight {
		if v := playerByID(players, id); v != nil {
			victims = append(victims, v)
			seats = append(seats, v.SeatNo)
		}
	}

	if _, err := e.record(ctx, g, models.EventDayAnnounce, true, nil, nil, models.EventPayload{
		Deaths:  seats,
		Message: gmDawn(seats),
	}); err != nil {
		return err
	}
	for _, v := range victims {
		e.playCinematic(ctx, g, "death_reveal", e.cfg.CinematicDeath)
		if _, err := e.record(ctx, g, models.EventDeathReveal, true, &v.ID, nil, models.EventPayload{
			SeatNo: v.SeatNo,
		}); err != nil {
			return err
		}
	}

	if len(victims) > 0 {
		var tense []*models.Player
		for _, p := range alivePlayers(players) {
			if p.EmotionState != models.EmotionTense {
				p.EmotionState = models.EmotionTense
				tense = append(tense, p)
			}
		}
		if len(tense) > 0 {
			if err := e.store.SaveGameAndPlayers(ctx, g, tense); err != nil {
				return fmt.Errorf("save dawn emotions: %w", err)
			}
			for _, p := range tense {
				if _, err := e.record(ctx, g, models.EventEmotionUpdate, true, &p.ID, nil, models.EventPayload{
					SeatNo:  p.SeatNo,
					Emotion: models.EmotionTense,
				}); err != nil {
					return err
				}
			}
		}
	}

	if w := evaluateWinner(players); w != nil {
		return e.closeGame(ctx, g, players, *w)
	}

	alive := alivePlayers(players)
	g.State.TurnOrder = idsOf(alive)
	g.State.TurnIndex = 0
	return e.transition(ctx, g, models.PhaseDaySpeaking, gmSpeaking)
}

// ============================================================================
// SPEAKING (day and tiebreak defense)
// ============================================================================

func (e *Engine) stepSpeaking(ctx context.Context, g *models.Game, players []*models.Player) (bool, error) {
	actor := currentPlayer(g, players)
	if actor == nil {
		positioned, err := e.positionOnNext(ctx, g, players)
		if err != nil || positioned {
			return false, err
		}
		return false, e.enterVoting(ctx, g, players)
	}
	if err := e.announceTurn(ctx, g, actor, "speech"); err != nil {
		return false, err
	}
	if actor.IsHuman {
		return true, nil
	}
	out := e.aiSpeech(ctx, g, players, actor)
	if err := e.applySpeech(ctx, g, players, actor, out.Text); err != nil {
		return false, err
	}
	return false, e.finishTurn(ctx, g, actor, e.cfg.AISpeakDelay)
}
