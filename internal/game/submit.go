package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/moonhollow/werewolf-arena/internal/agent"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

// Human submissions run on the game's runner, exactly like an AI turn: the
// preconditions, the mutation, and the advance pass that follows all execute
// inside one task, so nothing can interleave with them. The call returns once
// the game has parked again or finished.

// SubmitNightAction resolves the human's night turn: the wolf's kill vote,
// the seer's check (whose verdict is returned), or one of the witch's calls.
func (e *Engine) SubmitNightAction(ctx context.Context, gameID uuid.UUID, req models.SubmitNightActionRequest) (*models.SubmitNightActionResponse, error) {
	resp := &models.SubmitNightActionResponse{}
	err := e.sched.Do(ctx, gameID, func(ctx context.Context) error {
		g, players, actor, err := e.loadTurn(ctx, gameID, req.ActorAgentID)
		if err != nil {
			return err
		}
		if err := e.applyNightAction(ctx, g, players, actor, req, resp); err != nil {
			return err
		}
		if err := e.finishTurn(ctx, g, actor, 0); err != nil {
			return err
		}
		return e.advance(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}
	resp.Accepted = true
	return resp, nil
}

// SubmitSpeech commits the human's day statement, or burns one skip from the
// per-game budget. Spoken text passes the same utterance contract AI output
// does, minus the persona ban list.
func (e *Engine) SubmitSpeech(ctx context.Context, gameID uuid.UUID, req models.SubmitSpeechRequest) error {
	return e.sched.Do(ctx, gameID, func(ctx context.Context) error {
		g, players, actor, err := e.loadTurn(ctx, gameID, req.ActorAgentID)
		if err != nil {
			return err
		}
		if g.Phase != models.PhaseDaySpeaking && g.Phase != models.PhaseDayTiebreakSpeaking {
			return ErrWrongPhase
		}

		if req.Action == models.SpeechActionSkip {
			if actor.Memory.SpeechSkipsUsed >= e.cfg.SpeechSkipLimit {
				return ErrSkipLimitReached
			}
			if err := e.applySpeechSkip(ctx, g, players, actor); err != nil {
				return err
			}
		} else {
			vctx := e.validatorContext(g, players, actor, speechHistory(actor))
			if verr := e.validator.ValidateSpeech(req.Text, vctx); verr != nil {
				agent.CountRejection(verr)
				return fmt.Errorf("%w: %s", ErrInvalidUtterance, verr.Error())
			}
			if err := e.applySpeech(ctx, g, players, actor, req.Text); err != nil {
				return err
			}
		}
		if err := e.finishTurn(ctx, g, actor, 0); err != nil {
			return err
		}
		return e.advance(ctx, gameID)
	})
}

// SubmitVote commits the human's ballot for the current voting scope.
func (e *Engine) SubmitVote(ctx context.Context, gameID uuid.UUID, req models.SubmitVoteRequest) error {
	return e.sched.Do(ctx, gameID, func(ctx context.Context) error {
		g, players, actor, err := e.loadTurn(ctx, gameID, req.VoterAgentID)
		if err != nil {
			return err
		}
		if g.Phase != models.PhaseDayVoting && g.Phase != models.PhaseDayTiebreakVoting {
			return ErrWrongPhase
		}
		target := playerByAgent(players, req.TargetAgentID)
		if target == nil || playerByID(voteCandidates(g, players, actor), target.ID) == nil {
			return ErrInvalidTarget
		}

		vctx := e.validatorContext(g, players, actor, voteHistory(actor))
		if verr := e.validator.ValidateVoteReason(req.Reason, vctx); verr != nil {
			agent.CountRejection(verr)
			return fmt.Errorf("%w: %s", ErrInvalidUtterance, verr.Error())
		}
		if err := e.applyVote(ctx, g, players, actor, target, req.Reason); err != nil {
			return err
		}
		if err := e.finishTurn(ctx, g, actor, 0); err != nil {
			return err
		}
		return e.advance(ctx, gameID)
	})
}

// loadTurn loads the game and checks the preconditions shared by every
// submission: running game, known submitter, their turn, still alive.
func (e *Engine) loadTurn(ctx context.Context, gameID, agentID uuid.UUID) (*models.Game, []*models.Player, *models.Player, error) {
	g, players, err := e.loadGame(ctx, gameID)
	if err != nil {
		return nil, nil, nil, err
	}
	if g.Status != models.GameStatusRunning {
		return nil, nil, nil, ErrGameFinished
	}
	actor := playerByAgent(players, agentID)
	if actor == nil {
		return nil, nil, nil, ErrNotYourTurn
	}
	if g.CurrentTurnPlayerID == nil || *g.CurrentTurnPlayerID != actor.ID {
		return nil, nil, nil, ErrNotYourTurn
	}
	if !actor.Alive {
		return nil, nil, nil, ErrActorDead
	}
	return g, players, actor, nil
}

// applyNightAction routes one night submission through the same apply helpers
// the AI turns use, enforcing phase, role and target validity.
func (e *Engine) applyNightAction(ctx context.Context, g *models.Game, players []*models.Player, actor *models.Player, req models.SubmitNightActionRequest, resp *models.SubmitNightActionResponse) error {
	switch req.ActionType {
	case models.NightActionWolfKill:
		if g.Phase != models.PhaseNightWolf || actor.Role != models.RoleWerewolf {
			return ErrWrongPhase
		}
		target := e.nightTarget(players, req.TargetAgentID)
		if target == nil || target.Role == models.RoleWerewolf {
			return ErrInvalidTarget
		}
		return e.applyWolfVote(ctx, g, players, actor, target.ID)

	case models.NightActionSeerCheck:
		if g.Phase != models.PhaseNightSeer || actor.Role != models.RoleSeer {
			return ErrWrongPhase
		}
		target := e.nightTarget(players, req.TargetAgentID)
		if target == nil || target.ID == actor.ID {
			return ErrInvalidTarget
		}
		if err := e.applySeerCheck(ctx, g, players, actor, target); err != nil {
			return err
		}
		verdict := g.State.Night.SeerResult
		resp.SeerResult = &verdict
		return nil

	case models.NightActionWitchHeal:
		if g.Phase != models.PhaseNightWitch || actor.Role != models.RoleWitch {
			return ErrWrongPhase
		}
		night := g.State.Night
		if night.WitchHealUsed || night.PendingKill == nil {
			return ErrInvalidTarget
		}
		victim := playerByID(players, *night.PendingKill)
		if victim == nil || !victim.Alive {
			return ErrInvalidTarget
		}
		if req.TargetAgentID != nil {
			if t := playerByAgent(players, *req.TargetAgentID); t == nil || t.ID != victim.ID {
				return ErrInvalidTarget
			}
		}
		return e.applyWitchHeal(ctx, g, players, actor)

	case models.NightActionWitchPoison:
		if g.Phase != models.PhaseNightWitch || actor.Role != models.RoleWitch {
			return ErrWrongPhase
		}
		if g.State.Night.WitchPoisonUsed {
			return ErrInvalidTarget
		}
		target := e.nightTarget(players, req.TargetAgentID)
		if target == nil || target.ID == actor.ID {
			return ErrInvalidTarget
		}
		return e.applyWitchPoison(ctx, g, players, actor, target)

	case models.NightActionWitchSkip:
		if g.Phase != models.PhaseNightWitch || actor.Role != models.RoleWitch {
			return ErrWrongPhase
		}
		return e.applyWitchSkip(ctx, g, players, actor)

	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidTarget, req.ActionType)
	}
}

// nightTarget resolves an optional agent reference to a living player.
func (e *Engine) nightTarget(players []*models.Player, agentID *uuid.UUID) *models.Player {
	if agentID == nil {
		return nil
	}
	p := playerByAgent(players, *agentID)
	if p == nil || !p.Alive {
		return nil
	}
	return p
}
