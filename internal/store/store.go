package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence surface the orchestrator drives. Per-game writes
// are serialized by the engine (single writer per game); implementations only
// need per-statement atomicity plus transactional CreateGame.
type Store interface {
	// Games
	CreateGame(ctx context.Context, game *models.Game, players []*models.Player, agents []*models.Agent, group *models.Group) error
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	SaveGame(ctx context.Context, game *models.Game) error
	ListGames(ctx context.Context, workspaceID string) ([]*models.Game, error)
	ListRunningGameIDs(ctx context.Context) ([]uuid.UUID, error)

	// Players
	ListPlayers(ctx context.Context, gameID uuid.UUID) ([]*models.Player, error)
	SavePlayer(ctx context.Context, player *models.Player) error
	// SaveGameAndPlayers persists the game row and the given player rows
	// atomically. Used for night resolution and eliminations, where deaths
	// and state must land together.
	SaveGameAndPlayers(ctx context.Context, game *models.Game, players []*models.Player) error

	// Votes
	SaveVote(ctx context.Context, vote *models.Vote) error
	ListVotes(ctx context.Context, gameID uuid.UUID, roundNo int, isTiebreak bool) ([]*models.Vote, error)
	ListAllVotes(ctx context.Context, gameID uuid.UUID) ([]*models.Vote, error)

	// Events. AppendEvent assigns the monotone id and creation time; append
	// order is the canonical timeline.
	AppendEvent(ctx context.Context, ev *models.RoundEvent) error
	// ListEvents returns events with id > afterID in id order. limit <= 0
	// means no limit; publicOnly filters private entries.
	ListEvents(ctx context.Context, gameID uuid.UUID, afterID int64, limit int, publicOnly bool) ([]*models.RoundEvent, error)

	// Reviews
	GetReview(ctx context.Context, gameID uuid.UUID) (*models.Review, error)
	SaveReview(ctx context.Context, review *models.Review) error

	// Agents
	SoftDeleteAgents(ctx context.Context, agentIDs []uuid.UUID) error
}
