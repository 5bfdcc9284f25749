package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

// Memory is an in-process Store used by the engine tests and by stub runs
// without postgres. Values are deep-copied on the way in and out so callers
// never alias stored state.
type Memory struct {
	mu      sync.RWMutex
	games   map[uuid.UUID]*models.Game
	players map[uuid.UUID][]*models.Player
	agents  map[uuid.UUID]*models.Agent
	groups  map[uuid.UUID]*models.Group
	votes   map[uuid.UUID][]*models.Vote
	events  map[uuid.UUID][]*models.RoundEvent
	reviews map[uuid.UUID]*models.Review
	eventID int64
}

func NewMemory() *Memory {
	return &Memory{
		games:   make(map[uuid.UUID]*models.Game),
		players: make(map[uuid.UUID][]*models.Player),
		agents:  make(map[uuid.UUID]*models.Agent),
		groups:  make(map[uuid.UUID]*models.Group),
		votes:   make(map[uuid.UUID][]*models.Vote),
		events:  make(map[uuid.UUID][]*models.RoundEvent),
		reviews: make(map[uuid.UUID]*models.Review),
	}
}

func (s *Memory) CreateGame(_ context.Context, game *models.Game, players []*models.Player, agents []*models.Agent, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[game.ID]; ok {
		return fmt.Errorf("game %s already exists", game.ID)
	}
	s.games[game.ID] = clone(game)
	stored := make([]*models.Player, 0, len(players))
	for _, p := range players {
		stored = append(stored, clone(p))
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].SeatNo < stored[j].SeatNo })
	s.players[game.ID] = stored
	for _, a := range agents {
		s.agents[a.ID] = clone(a)
	}
	s.groups[group.ID] = clone(group)
	return nil
}

func (s *Memory) GetGame(_ context.Context, gameID uuid.UUID) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	game, ok := s.games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(game)
	out.State.Normalize()
	return out, nil
}

func (s *Memory) SaveGame(_ context.Context, game *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[game.ID]; !ok {
		return ErrNotFound
	}
	s.games[game.ID] = clone(game)
	return nil
}

func (s *Memory) ListGames(_ context.Context, workspaceID string) ([]*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var games []*models.Game
	for _, g := range s.games {
		if g.WorkspaceID == workspaceID {
			games = append(games, clone(g))
		}
	}
	sort.Slice(games, func(i, j int) bool { return games[i].StartedAt.After(games[j].StartedAt) })
	return games, nil
}

func (s *Memory) ListRunningGameIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for id, g := range s.games {
		if g.Status == models.GameStatusRunning {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Memory) ListPlayers(_ context.Context, gameID uuid.UUID) ([]*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.players[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*models.Player, 0, len(stored))
	for _, p := range stored {
		cp := clone(p)
		cp.Memory.Normalize()
		out = append(out, cp)
	}
	return out, nil
}

func (s *Memory) SavePlayer(_ context.Context, player *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePlayerLocked(player)
}

func (s *Memory) savePlayerLocked(player *models.Player) error {
	stored, ok := s.players[player.GameID]
	if !ok {
		return ErrNotFound
	}
	for i, p := range stored {
		if p.ID == player.ID {
			stored[i] = clone(player)
			return nil
		}
	}
	return ErrNotFound
}

func (s *Memory) SaveGameAndPlayers(_ context.Context, game *models.Game, players []*models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[game.ID]; !ok {
		return ErrNotFound
	}
	s.games[game.ID] = clone(game)
	for _, p := range players {
		if err := s.savePlayerLocked(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Memory) SaveVote(_ context.Context, vote *models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.votes[vote.GameID] {
		if v.RoundNo == vote.RoundNo && v.IsTiebreak == vote.IsTiebreak && v.VoterID == vote.VoterID {
			return fmt.Errorf("duplicate vote by %s in round %d", vote.VoterID, vote.RoundNo)
		}
	}
	cp := clone(vote)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.votes[vote.GameID] = append(s.votes[vote.GameID], cp)
	return nil
}

func (s *Memory) ListVotes(_ context.Context, gameID uuid.UUID, roundNo int, isTiebreak bool) ([]*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Vote
	for _, v := range s.votes[gameID] {
		if v.RoundNo == roundNo && v.IsTiebreak == isTiebreak {
			out = append(out, clone(v))
		}
	}
	return out, nil
}

func (s *Memory) ListAllVotes(_ context.Context, gameID uuid.UUID) ([]*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Vote
	for _, v := range s.votes[gameID] {
		out = append(out, clone(v))
	}
	return out, nil
}

func (s *Memory) AppendEvent(_ context.Context, ev *models.RoundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventID++
	ev.ID = s.eventID
	ev.CreatedAt = time.Now()
	s.events[ev.GameID] = append(s.events[ev.GameID], clone(ev))
	return nil
}

func (s *Memory) ListEvents(_ context.Context, gameID uuid.UUID, afterID int64, limit int, publicOnly bool) ([]*models.RoundEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RoundEvent
	for _, ev := range s.events[gameID] {
		if ev.ID <= afterID {
			continue
		}
		if publicOnly && !ev.IsPublic {
			continue
		}
		out = append(out, clone(ev))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) GetReview(_ context.Context, gameID uuid.UUID) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	review, ok := s.reviews[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(review), nil
}

func (s *Memory) SaveReview(_ context.Context, review *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// First write wins, matching the postgres ON CONFLICT DO NOTHING.
	if _, ok := s.reviews[review.GameID]; ok {
		return nil
	}
	s.reviews[review.GameID] = clone(review)
	return nil
}

func (s *Memory) SoftDeleteAgents(_ context.Context, agentIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range agentIDs {
		if a, ok := s.agents[id]; ok && a.Ephemeral && a.DeletedAt == nil {
			a.DeletedAt = &now
		}
	}
	return nil
}

// Agent returns the stored agent row; test helper surface.
func (s *Memory) Agent(agentID uuid.UUID) (*models.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, false
	}
	return clone(a), true
}

// clone deep-copies any JSON-serializable model.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: clone marshal: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("store: clone unmarshal: %v", err))
	}
	return out
}
