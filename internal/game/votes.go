package game

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

// pressureThreshold is the vote count at which a seat's emotion flips to
// pressured during the reveal.
const pressureThreshold = 2

// enterVoting seeds the voter queue and moves into the matching voting phase.
// In a tiebreak the tied candidates are the voters; otherwise the whole table
// votes in seat order.
func (e *Engine) enterVoting(ctx context.Context, g *models.Game, players []*models.Player) error {
	var voters []uuid.UUID
	phase := models.PhaseDayVoting
	notice := gmVoting
	if g.State.IsTiebreak {
		phase = models.PhaseDayTiebreakVoting
		notice = gmTiebreakVoting
		for _, id := range g.State.TieCandidates {
			if p := playerByID(players, id); p != nil && p.Alive {
				voters = append(voters, p.ID)
			}
		}
	} else {
		voters = idsOf(alivePlayers(players))
	}
	g.State.VotersPending = voters
	g.State.TurnOrder = []uuid.UUID{}
	g.State.TurnIndex = 0
	return e.transition(ctx, g, phase, notice)
}

func (e *Engine) stepVoting(ctx context.Context, g *models.Game, players []*models.Player) (bool, error) {
	actor := currentPlayer(g, players)
	if actor == nil {
		next := nextVoter(g, players)
		if next == nil {
			g.State.VotersPending = []uuid.UUID{}
			return false, e.transition(ctx, g, models.PhaseDayElimination, "")
		}
		g.CurrentTurnPlayerID = &next.ID
		if err := e.store.SaveGame(ctx, g); err != nil {
			return false, fmt.Errorf("save voter pointer: %w", err)
		}
		return false, nil
	}
	if err := e.announceTurn(ctx, g, actor, "vote"); err != nil {
		return false, err
	}
	if actor.IsHuman {
		return true, nil
	}
	target, reason := e.aiVote(ctx, g, players, actor)
	if err := e.applyVote(ctx, g, players, actor, target, reason); err != nil {
		return false, err
	}
	return false, e.finishTurn(ctx, g, actor, e.cfg.AIVoteDelay)
}

// nextVoter returns the head of the pending queue, dropping entries that died
// since the queue was seeded.
func nextVoter(g *models.Game, players []*models.Player) *models.Player {
	for len(g.State.VotersPending) > 0 {
		p := playerByID(players, g.State.VotersPending[0])
		if p != nil && p.Alive {
			return p
		}
		g.State.VotersPending = g.State.VotersPending[1:]
	}
	return nil
}

// voteCandidates is the ballot for one voter: the tied candidates during a
// tiebreak, every living seat otherwise, never the voter themselves.
func voteCandidates(g *models.Game, players []*models.Player, actor *models.Player) []*models.Player {
	var pool []*models.Player
	if g.State.IsTiebreak {
		for _, id := range g.State.TieCandidates {
			if p := playerByID(players, id); p != nil && p.Alive {
				pool = append(pool, p)
			}
		}
	} else {
		pool = alivePlayers(players)
	}
	out := make([]*models.Player, 0, len(pool))
	for _, p := range pool {
		if p.ID != actor.ID {
			out = append(out, p)
		}
	}
	return out
}

// applyVote persists the ballot, updates both memories (the voter's history
// and the target's suspicion toward the voter), pops the queue and stamps the
// public vote event.
func (e *Engine) applyVote(ctx context.Context, g *models.Game, players []*models.Player, voter, target *models.Player, reason string) error {
	vote := &models.Vote{
		ID:         uuid.New(),
		GameID:     g.ID,
		RoundNo:    g.RoundNo,
		VoterID:    voter.ID,
		TargetID:   target.ID,
		IsTiebreak: g.State.IsTiebreak,
		Reason:     reason,
	}
	if err := e.store.SaveVote(ctx, vote); err != nil {
		return fmt.Errorf("save vote: %w", err)
	}

	voter.Memory.PushPhrase(reason, phraseWindow)
	voter.Memory.VoteHistory = append(voter.Memory.VoteHistory, models.VoteRecord{
		RoundNo:    g.RoundNo,
		IsTiebreak: g.State.IsTiebreak,
		TargetSeat: target.SeatNo,
		Reason:     reason,
	})
	target.Memory.SuspectMap[voter.ID] += suspicionBump
	refreshFocus(target)

	g.State.VotersPending = removeID(g.State.VotersPending, voter.ID)
	g.CurrentTurnPlayerID = nil
	if err := e.store.SaveGameAndPlayers(ctx, g, []*models.Player{voter, target}); err != nil {
		return fmt.Errorf("save vote state: %w", err)
	}
	_, err := e.record(ctx, g, models.EventVote, true, &voter.ID, &target.ID, models.EventPayload{
		SeatNo:     voter.SeatNo,
		TargetSeat: target.SeatNo,
		Reason:     reason,
	})
	return err
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// stepElimination tallies the finished voting round, reveals the counts,
// applies vote pressure to emotions, and either eliminates the leader or
// recurses into the tiebreak. A second tie is settled by the game's RNG.
func (e *Engine) stepElimination(ctx context.Context, g *models.Game, players []*models.Player) error {
	votes, err := e.store.ListVotes(ctx, g.ID, g.RoundNo, g.State.IsTiebreak)
	if err != nil {
		return fmt.Errorf("load votes: %w", err)
	}
	if len(votes) == 0 {
		return fmt.Errorf("no votes recorded for round %d (tiebreak=%v)", g.RoundNo, g.State.IsTiebreak)
	}

	counts := make(map[uuid.UUID]int, len(votes))
	for _, v := range votes {
		counts[v.TargetID]++
	}
	leaders := voteLeaders(counts, players)

	seatCounts := make(map[string]int, len(counts))
	for id, n := range counts {
		if p := playerByID(players, id); p != nil {
			seatCounts[strconv.Itoa(p.SeatNo)] = n
		}
	}
	revealPayload := models.EventPayload{VoteCounts: seatCounts}
	if len(leaders) > 1 {
		revealPayload.Candidates = seatsOf(leaders)
	}
	if _, err := e.record(ctx, g, models.EventVoteReveal, true, nil, nil, revealPayload); err != nil {
		return err
	}
	if err := e.applyVotePressure(ctx, g, players, counts); err != nil {
		return err
	}

	if len(leaders) > 1 {
		if !g.State.IsTiebreak {
			return e.enterTiebreak(ctx, g, leaders)
		}
		pick := leaders[e.rngFor(g.ID).Intn(len(leaders))]
		if err := e.gmNotice(ctx, g, gmRandomPick); err != nil {
			return err
		}
		return e.eliminate(ctx, g, players, pick)
	}
	return e.eliminate(ctx, g, players, leaders[0])
}

// voteLeaders returns every player holding the top vote count, seat order.
func voteLeaders(counts map[uuid.UUID]int, players []*models.Player) []*models.Player {
	top := 0
	for _, n := range counts {
		if n > top {
			top = n
		}
	}
	var out []*models.Player
	for _, p := range players {
		if counts[p.ID] == top {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNo < out[j].SeatNo })
	return out
}

// applyVotePressure recomputes every living seat's self-risk from the reveal
// and flips heavily-voted seats to pressured.
func (e *Engine) applyVotePressure(ctx context.Context, g *models.Game, players []*models.Player, counts map[uuid.UUID]int) error {
	alive := alivePlayers(players)
	var changed []*models.Player
	var pressured []*models.Player
	for _, p := range alive {
		risk := float64(counts[p.ID]) / float64(len(alive))
		if p.Memory.SelfRisk != risk {
			p.Memory.SelfRisk = risk
			changed = append(changed, p)
		}
		if counts[p.ID] >= pressureThreshold && p.EmotionState != models.EmotionPressured {
			p.EmotionState = models.EmotionPressured
			pressured = append(pressured, p)
			if playerByID(changed, p.ID) == nil {
				changed = append(changed, p)
			}
		}
	}
	if len(changed) == 0 {
		return nil
	}
	if err := e.store.SaveGameAndPlayers(ctx, g, changed); err != nil {
		return fmt.Errorf("save vote pressure: %w", err)
	}
	for _, p := range pressured {
		if _, err := e.record(ctx, g, models.EventEmotionUpdate, true, &p.ID, nil, models.EventPayload{
			SeatNo:  p.SeatNo,
			Emotion: models.EmotionPressured,
		}); err != nil {
			return err
		}
	}
	return nil
}

// enterTiebreak restricts the floor to the tied candidates: they defend in
// seat order, then vote among themselves.
func (e *Engine) enterTiebreak(ctx context.Context, g *models.Game, leaders []*models.Player) error {
	g.State.IsTiebreak = true
	g.State.TieCandidates = idsOf(leaders)
	g.State.TurnOrder = idsOf(leaders)
	g.State.TurnIndex = 0
	g.State.VotersPending = []uuid.UUID{}
	return e.transition(ctx, g, models.PhaseDayTiebreakSpeaking, gmTie(seatsOf(leaders)))
}

// eliminate kills the voted-out seat, reveals their role, and hands off to
// the winner check or the next round.
func (e *Engine) eliminate(ctx context.Context, g *models.Game, players []*models.Player, victim *models.Player) error {
	victim.Alive = false
	victim.EmotionState = models.EmotionEliminated

	g.State.IsTiebreak = false
	g.State.TieCandidates = []uuid.UUID{}
	g.State.VotersPending = []uuid.UUID{}
	g.State.TurnOrder = []uuid.UUID{}
	g.State.TurnIndex = 0
	g.CurrentTurnPlayerID = nil
	if err := e.store.SaveGameAndPlayers(ctx, g, []*models.Player{victim}); err != nil {
		return fmt.Errorf("save elimination: %w", err)
	}

	role := victim.Role
	if _, err := e.record(ctx, g, models.EventElimination, true, &victim.ID, nil, models.EventPayload{
		SeatNo:  victim.SeatNo,
		Role:    &role,
		Message: gmElimination(victim.SeatNo, role),
	}); err != nil {
		return err
	}
	if _, err := e.record(ctx, g, models.EventEmotionUpdate, true, &victim.ID, nil, models.EventPayload{
		SeatNo:  victim.SeatNo,
		Emotion: models.EmotionEliminated,
	}); err != nil {
		return err
	}

	if w := evaluateWinner(players); w != nil {
		return e.closeGame(ctx, g, players, *w)
	}
	return e.beginNextRound(ctx, g, players)
}

// beginNextRound resets the night slate (witch charges persist for the whole
// game) and sends the living wolves back out.
func (e *Engine) beginNextRound(ctx context.Context, g *models.Game, players []*models.Player) error {
	g.RoundNo++
	heal := g.State.Night.WitchHealUsed
	poison := g.State.Night.WitchPoisonUsed
	g.State.Night = models.NightState{
		WolfVotes:       map[uuid.UUID]uuid.UUID{},
		WitchHealUsed:   heal,
		WitchPoisonUsed: poison,
	}
	g.State.TurnOrder = idsOf(livingWolves(players))
	g.State.TurnIndex = 0
	e.playCinematic(ctx, g, "nightfall", e.cfg.CinematicNight)
	return e.transition(ctx, g, models.PhaseNightWolf, gmNightFalls(g.RoundNo))
}
