package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// ============================================================================
// GAMES
// ============================================================================

func (s *Postgres) CreateGame(ctx context.Context, game *models.Game, players []*models.Player, agents []*models.Agent, group *models.Group) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, a := range agents {
		_, err = tx.Exec(ctx, `
			INSERT INTO agents (id, workspace_id, name, strategy_key, ephemeral, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, a.ID, a.WorkspaceID, a.Name, a.StrategyKey, a.Ephemeral, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert agent: %w", err)
		}
	}

	memberJSON, err := json.Marshal(group.MemberIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal group members: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO groups (id, workspace_id, name, member_ids, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, group.ID, group.WorkspaceID, group.Name, memberJSON, group.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	stateJSON, err := json.Marshal(game.State)
	if err != nil {
		return fmt.Errorf("failed to marshal game state: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO games (
			id, workspace_id, status, phase, round_no, human_agent_id,
			group_id, current_turn_player_id, winner_side, state, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, game.ID, game.WorkspaceID, game.Status, game.Phase, game.RoundNo, game.HumanAgentID,
		game.GroupID, game.CurrentTurnPlayerID, winnerText(game.WinnerSide), stateJSON, game.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}

	for _, p := range players {
		if err := insertPlayer(ctx, tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Postgres) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, status, phase, round_no, human_agent_id,
		       group_id, current_turn_player_id, winner_side, state, started_at, ended_at
		FROM games WHERE id = $1
	`, gameID)
	game, err := scanGame(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return game, err
}

func (s *Postgres) SaveGame(ctx context.Context, game *models.Game) error {
	stateJSON, err := json.Marshal(game.State)
	if err != nil {
		return fmt.Errorf("failed to marshal game state: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE games
		SET status = $1, phase = $2, round_no = $3, current_turn_player_id = $4,
		    winner_side = $5, state = $6, ended_at = $7
		WHERE id = $8
	`, game.Status, game.Phase, game.RoundNo, game.CurrentTurnPlayerID,
		winnerText(game.WinnerSide), stateJSON, game.EndedAt, game.ID)
	if err != nil {
		return fmt.Errorf("failed to update game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListGames(ctx context.Context, workspaceID string) ([]*models.Game, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, status, phase, round_no, human_agent_id,
		       group_id, current_turn_player_id, winner_side, state, started_at, ended_at
		FROM games WHERE workspace_id = $1
		ORDER BY started_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []*models.Game
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

func (s *Postgres) ListRunningGameIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM games WHERE status = $1`, models.GameStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running games: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ============================================================================
// PLAYERS
// ============================================================================

func (s *Postgres) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]*models.Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, game_id, agent_id, is_human, role, alive, seat_no,
		       strategy_key, decode_config, memory, emotion_state
		FROM players WHERE game_id = $1
		ORDER BY seat_no
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []*models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *Postgres) SavePlayer(ctx context.Context, player *models.Player) error {
	memoryJSON, err := json.Marshal(player.Memory)
	if err != nil {
		return fmt.Errorf("failed to marshal player memory: %w", err)
	}
	decodeJSON, err := json.Marshal(player.DecodeConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal decode config: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE players
		SET alive = $1, memory = $2, decode_config = $3, emotion_state = $4
		WHERE id = $5
	`, player.Alive, memoryJSON, decodeJSON, player.EmotionState, player.ID)
	if err != nil {
		return fmt.Errorf("failed to update player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SaveGameAndPlayers(ctx context.Context, game *models.Game, players []*models.Player) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stateJSON, err := json.Marshal(game.State)
	if err != nil {
		return fmt.Errorf("failed to marshal game state: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE games
		SET status = $1, phase = $2, round_no = $3, current_turn_player_id = $4,
		    winner_side = $5, state = $6, ended_at = $7
		WHERE id = $8
	`, game.Status, game.Phase, game.RoundNo, game.CurrentTurnPlayerID,
		winnerText(game.WinnerSide), stateJSON, game.EndedAt, game.ID)
	if err != nil {
		return fmt.Errorf("failed to update game: %w", err)
	}

	for _, p := range players {
		memoryJSON, err := json.Marshal(p.Memory)
		if err != nil {
			return fmt.Errorf("failed to marshal player memory: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE players
			SET alive = $1, memory = $2, emotion_state = $3
			WHERE id = $4
		`, p.Alive, memoryJSON, p.EmotionState, p.ID)
		if err != nil {
			return fmt.Errorf("failed to update player: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ============================================================================
// VOTES
// ============================================================================

func (s *Postgres) SaveVote(ctx context.Context, vote *models.Vote) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO votes (id, game_id, round_no, voter_id, target_id, is_tiebreak, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, vote.ID, vote.GameID, vote.RoundNo, vote.VoterID, vote.TargetID, vote.IsTiebreak, vote.Reason, vote.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

func (s *Postgres) ListVotes(ctx context.Context, gameID uuid.UUID, roundNo int, isTiebreak bool) ([]*models.Vote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, game_id, round_no, voter_id, target_id, is_tiebreak, reason, created_at
		FROM votes
		WHERE game_id = $1 AND round_no = $2 AND is_tiebreak = $3
		ORDER BY created_at
	`, gameID, roundNo, isTiebreak)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()
	return collectVotes(rows)
}

func (s *Postgres) ListAllVotes(ctx context.Context, gameID uuid.UUID) ([]*models.Vote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, game_id, round_no, voter_id, target_id, is_tiebreak, reason, created_at
		FROM votes
		WHERE game_id = $1
		ORDER BY created_at
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()
	return collectVotes(rows)
}

// ============================================================================
// EVENTS
// ============================================================================

func (s *Postgres) AppendEvent(ctx context.Context, ev *models.RoundEvent) error {
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO round_events (game_id, round_no, phase, event_type, actor_id, target_id, payload, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, ev.GameID, ev.RoundNo, ev.Phase, ev.EventType, ev.ActorID, ev.TargetID, payloadJSON, ev.IsPublic).
		Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *Postgres) ListEvents(ctx context.Context, gameID uuid.UUID, afterID int64, limit int, publicOnly bool) ([]*models.RoundEvent, error) {
	query := `
		SELECT id, game_id, round_no, phase, event_type, actor_id, target_id, payload, is_public, created_at
		FROM round_events
		WHERE game_id = $1 AND id > $2`
	if publicOnly {
		query += ` AND is_public = TRUE`
	}
	query += ` ORDER BY id`
	args := []any{gameID, afterID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.RoundEvent
	for rows.Next() {
		var ev models.RoundEvent
		var payloadJSON json.RawMessage
		err := rows.Scan(&ev.ID, &ev.GameID, &ev.RoundNo, &ev.Phase, &ev.EventType,
			&ev.ActorID, &ev.TargetID, &payloadJSON, &ev.IsPublic, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to parse event payload: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// ============================================================================
// REVIEWS
// ============================================================================

func (s *Postgres) GetReview(ctx context.Context, gameID uuid.UUID) (*models.Review, error) {
	var review models.Review
	var summaryJSON json.RawMessage
	err := s.pool.QueryRow(ctx, `
		SELECT game_id, summary, narrative, created_at
		FROM reviews WHERE game_id = $1
	`, gameID).Scan(&review.GameID, &summaryJSON, &review.Narrative, &review.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	if err := json.Unmarshal(summaryJSON, &review.Summary); err != nil {
		return nil, fmt.Errorf("failed to parse review summary: %w", err)
	}
	return &review, nil
}

func (s *Postgres) SaveReview(ctx context.Context, review *models.Review) error {
	summaryJSON, err := json.Marshal(review.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal review summary: %w", err)
	}
	// ON CONFLICT DO NOTHING keeps the first computed review authoritative.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reviews (game_id, summary, narrative, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id) DO NOTHING
	`, review.GameID, summaryJSON, review.Narrative, review.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

// ============================================================================
// AGENTS
// ============================================================================

func (s *Postgres) SoftDeleteAgents(ctx context.Context, agentIDs []uuid.UUID) error {
	if len(agentIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE agents SET deleted_at = NOW()
		WHERE id = ANY($1) AND ephemeral = TRUE AND deleted_at IS NULL
	`, agentIDs)
	if err != nil {
		return fmt.Errorf("failed to soft-delete agents: %w", err)
	}
	return nil
}

// ============================================================================
// SCAN HELPERS
// ============================================================================

func insertPlayer(ctx context.Context, tx pgx.Tx, p *models.Player) error {
	memoryJSON, err := json.Marshal(p.Memory)
	if err != nil {
		return fmt.Errorf("failed to marshal player memory: %w", err)
	}
	decodeJSON, err := json.Marshal(p.DecodeConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal decode config: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO players (
			id, game_id, agent_id, is_human, role, alive, seat_no,
			strategy_key, decode_config, memory, emotion_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.GameID, p.AgentID, p.IsHuman, p.Role, p.Alive, p.SeatNo,
		p.StrategyKey, decodeJSON, memoryJSON, p.EmotionState)
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return nil
}

func scanGame(row pgx.Row) (*models.Game, error) {
	var game models.Game
	var stateJSON json.RawMessage
	var winner *string

	err := row.Scan(&game.ID, &game.WorkspaceID, &game.Status, &game.Phase, &game.RoundNo,
		&game.HumanAgentID, &game.GroupID, &game.CurrentTurnPlayerID, &winner,
		&stateJSON, &game.StartedAt, &game.EndedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stateJSON, &game.State); err != nil {
		return nil, fmt.Errorf("failed to parse game state: %w", err)
	}
	game.State.Normalize()
	if winner != nil {
		side := models.WinnerSide(*winner)
		game.WinnerSide = &side
	}
	return &game, nil
}

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var p models.Player
	var decodeJSON, memoryJSON json.RawMessage

	err := row.Scan(&p.ID, &p.GameID, &p.AgentID, &p.IsHuman, &p.Role, &p.Alive,
		&p.SeatNo, &p.StrategyKey, &decodeJSON, &memoryJSON, &p.EmotionState)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(decodeJSON, &p.DecodeConfig); err != nil {
		return nil, fmt.Errorf("failed to parse decode config: %w", err)
	}
	if err := json.Unmarshal(memoryJSON, &p.Memory); err != nil {
		return nil, fmt.Errorf("failed to parse player memory: %w", err)
	}
	p.Memory.Normalize()
	return &p, nil
}

func collectVotes(rows pgx.Rows) ([]*models.Vote, error) {
	var votes []*models.Vote
	for rows.Next() {
		var v models.Vote
		err := rows.Scan(&v.ID, &v.GameID, &v.RoundNo, &v.VoterID, &v.TargetID,
			&v.IsTiebreak, &v.Reason, &v.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, &v)
	}
	return votes, rows.Err()
}

func winnerText(w *models.WinnerSide) *string {
	if w == nil {
		return nil
	}
	s := string(*w)
	return &s
}
