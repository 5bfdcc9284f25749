package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/models"
	"github.com/moonhollow/werewolf-arena/internal/store"
)

// keyTurnWindow is how many decisive moments the review keeps (the last ones
// of the game).
const keyTurnWindow = 8

// GetReview returns the post-game analysis, computing and persisting it on
// the first request. Later requests return the stored row verbatim, so two
// reads of the same finished game can never disagree.
func (e *Engine) GetReview(ctx context.Context, gameID uuid.UUID) (*models.Review, error) {
	g, players, err := e.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status != models.GameStatusFinished {
		return nil, ErrGameRunning
	}

	if review, err := e.store.GetReview(ctx, gameID); err == nil {
		return review, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load review: %w", err)
	}

	review, err := e.buildReview(ctx, g, players)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveReview(ctx, review); err != nil {
		// Lost the race against a concurrent first request: serve whatever
		// landed so both callers see one review.
		if stored, gerr := e.store.GetReview(ctx, gameID); gerr == nil {
			return stored, nil
		}
		return nil, fmt.Errorf("save review: %w", err)
	}
	e.log.Info("review built", zap.String("game_id", gameID.String()))
	return review, nil
}

func (e *Engine) buildReview(ctx context.Context, g *models.Game, players []*models.Player) (*models.Review, error) {
	events, err := e.store.ListEvents(ctx, g.ID, 0, 0, false)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	votes, err := e.store.ListAllVotes(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}

	summary := models.ReviewSummary{
		Winner: g.WinnerSide,
		Rounds: g.RoundNo,
		Seats:  make([]models.SeatSummary, 0, len(players)),
	}

	speeches := make(map[uuid.UUID]int)
	for _, ev := range events {
		switch ev.EventType {
		case models.EventSpeech:
			summary.SpeechCount++
			if ev.ActorID != nil {
				speeches[*ev.ActorID]++
			}
		case models.EventElimination, models.EventDayAnnounce, models.EventGameOver:
			summary.KeyTurns = append(summary.KeyTurns, models.ReviewKeyTurn{
				EventID:   ev.ID,
				RoundNo:   ev.RoundNo,
				EventType: ev.EventType,
				Message:   renderEventLine(ev),
			})
		}
	}
	if len(summary.KeyTurns) > keyTurnWindow {
		summary.KeyTurns = summary.KeyTurns[len(summary.KeyTurns)-keyTurnWindow:]
	}

	cast := make(map[uuid.UUID]int)
	onWolves := make(map[uuid.UUID]int)
	received := make(map[uuid.UUID]int)
	for _, v := range votes {
		summary.VoteCount++
		cast[v.VoterID]++
		received[v.TargetID]++
		if t := playerByID(players, v.TargetID); t != nil && t.Role == models.RoleWerewolf {
			onWolves[v.VoterID]++
		}
	}

	for _, p := range players {
		summary.Seats = append(summary.Seats, models.SeatSummary{
			SeatNo:            p.SeatNo,
			AgentID:           p.AgentID,
			Role:              p.Role,
			Alive:             p.Alive,
			Speeches:          speeches[p.ID],
			VotesCast:         cast[p.ID],
			VotesOnWerewolves: onWolves[p.ID],
			VotesReceived:     received[p.ID],
		})
	}

	return &models.Review{
		GameID:    g.ID,
		Summary:   summary,
		Narrative: reviewNarrative(g, summary),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// reviewNarrative renders the short post-game recap shown above the stats.
func reviewNarrative(g *models.Game, summary models.ReviewSummary) string {
	var b strings.Builder
	if g.WinnerSide != nil && *g.WinnerSide == models.WinnerGoodSide {
		b.WriteString("好人阵营获胜。")
	} else if g.WinnerSide != nil {
		b.WriteString("狼人阵营获胜。")
	}
	fmt.Fprintf(&b, "本局共%d轮，%d次发言，%d张选票。", summary.Rounds, summary.SpeechCount, summary.VoteCount)

	var wolves []int
	var sharp *models.SeatSummary
	for i := range summary.Seats {
		s := &summary.Seats[i]
		if s.Role == models.RoleWerewolf {
			wolves = append(wolves, s.SeatNo)
		}
		if s.Role != models.RoleWerewolf && s.VotesOnWerewolves > 0 {
			if sharp == nil || s.VotesOnWerewolves > sharp.VotesOnWerewolves {
				sharp = s
			}
		}
	}
	if len(wolves) > 0 {
		fmt.Fprintf(&b, "狼人是%s。", seatLabels(wolves))
	}
	if sharp != nil {
		fmt.Fprintf(&b, "玩家%d的判断最准，有%d票投中了狼人。", sharp.SeatNo, sharp.VotesOnWerewolves)
	}
	return b.String()
}
