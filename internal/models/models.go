package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// GAME
// ============================================================================

type GameStatus string

const (
	GameStatusRunning  GameStatus = "running"
	GameStatusFinished GameStatus = "finished"
)

type Phase string

const (
	PhaseNightWolf           Phase = "night_wolf"
	PhaseNightSeer           Phase = "night_seer"
	PhaseNightWitch          Phase = "night_witch"
	PhaseDayAnnounce         Phase = "day_announce"
	PhaseDaySpeaking         Phase = "day_speaking"
	PhaseDayVoting           Phase = "day_voting"
	PhaseDayTiebreakSpeaking Phase = "day_tiebreak_speaking"
	PhaseDayTiebreakVoting   Phase = "day_tiebreak_voting"
	PhaseDayElimination      Phase = "day_elimination"
	PhaseGameOver            Phase = "game_over"
)

// IsNight reports whether the phase belongs to the night half of a round.
func (p Phase) IsNight() bool {
	return p == PhaseNightWolf || p == PhaseNightSeer || p == PhaseNightWitch
}

type WinnerSide string

const (
	WinnerWerewolfSide WinnerSide = "werewolf_side"
	WinnerGoodSide     WinnerSide = "good_side"
)

// Game is one six-seat match. State carries the machine bookkeeping and is
// persisted as a JSONB blob on the row.
type Game struct {
	ID                  uuid.UUID   `json:"id"`
	WorkspaceID         string      `json:"workspace_id"`
	Status              GameStatus  `json:"status"`
	Phase               Phase       `json:"phase"`
	RoundNo             int         `json:"round_no"`
	HumanAgentID        *uuid.UUID  `json:"human_agent_id,omitempty"`
	GroupID             uuid.UUID   `json:"group_id"`
	CurrentTurnPlayerID *uuid.UUID  `json:"current_turn_player_id,omitempty"`
	WinnerSide          *WinnerSide `json:"winner_side,omitempty"`
	State               GameState   `json:"state"`
	StartedAt           time.Time   `json:"started_at"`
	EndedAt             *time.Time  `json:"ended_at,omitempty"`
}

// GameState is the orchestrator's working state. TurnOrder/TurnIndex drive
// ordered phases (night turns, speaking); VotersPending drives voting and
// strictly shrinks as ballots land.
type GameState struct {
	TurnOrder     []uuid.UUID `json:"turn_order"`
	TurnIndex     int         `json:"turn_index"`
	VotersPending []uuid.UUID `json:"voters_pending"`
	TieCandidates []uuid.UUID `json:"tie_candidates"`
	IsTiebreak    bool        `json:"is_tiebreak"`
	Night         NightState  `json:"night"`
}

// Normalize backfills nil containers after a JSONB load so callers never
// index into missing fields written by an older build.
func (s *GameState) Normalize() {
	if s.TurnOrder == nil {
		s.TurnOrder = []uuid.UUID{}
	}
	if s.VotersPending == nil {
		s.VotersPending = []uuid.UUID{}
	}
	if s.TieCandidates == nil {
		s.TieCandidates = []uuid.UUID{}
	}
	if s.Night.WolfVotes == nil {
		s.Night.WolfVotes = map[uuid.UUID]uuid.UUID{}
	}
	if s.Night.DeathsLastNight == nil {
		s.Night.DeathsLastNight = []uuid.UUID{}
	}
}

type SeerVerdict string

const (
	SeerVerdictWerewolf SeerVerdict = "werewolf"
	SeerVerdictGood     SeerVerdict = "good"
)

// NightState accumulates one night's decisions. Witch charges survive the
// per-round reset; everything else is cleared when a new night begins.
type NightState struct {
	WolfVotes         map[uuid.UUID]uuid.UUID `json:"wolf_votes"`
	PendingKill       *uuid.UUID              `json:"pending_kill,omitempty"`
	SeerCheckTarget   *uuid.UUID              `json:"seer_check_target,omitempty"`
	SeerResult        SeerVerdict             `json:"seer_result,omitempty"`
	WitchHealUsed     bool                    `json:"witch_heal_used"`
	WitchPoisonUsed   bool                    `json:"witch_poison_used"`
	WitchSaved        bool                    `json:"witch_saved"`
	WitchPoisonTarget *uuid.UUID              `json:"witch_poison_target,omitempty"`
	DeathsLastNight   []uuid.UUID             `json:"deaths_last_night"`
}

// ============================================================================
// PLAYERS & AGENTS
// ============================================================================

type Role string

const (
	RoleWerewolf Role = "werewolf"
	RoleSeer     Role = "seer"
	RoleWitch    Role = "witch"
	RoleVillager Role = "villager"
)

type EmotionState string

const (
	EmotionCalm       EmotionState = "calm"
	EmotionTense      EmotionState = "tense"
	EmotionPressured  EmotionState = "pressured"
	EmotionEliminated EmotionState = "eliminated"
)

// Player is one seat in one game. DecodeConfig and Memory persist as JSONB.
type Player struct {
	ID           uuid.UUID    `json:"id"`
	GameID       uuid.UUID    `json:"game_id"`
	AgentID      uuid.UUID    `json:"agent_id"`
	IsHuman      bool         `json:"is_human"`
	Role         Role         `json:"role"`
	Alive        bool         `json:"alive"`
	SeatNo       int          `json:"seat_no"`
	StrategyKey  string       `json:"strategy_key,omitempty"`
	DecodeConfig DecodeConfig `json:"decode_config"`
	Memory       PlayerMemory `json:"memory"`
	EmotionState EmotionState `json:"emotion_state"`
}

// DecodeConfig holds the sampling parameters resolved for one agent.
type DecodeConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	MaxTokens        int     `json:"max_tokens"`
}

// PlayerMemory is the typed per-seat memory blob: suspicion ledger, recent
// phrasing (originality window), skip budget and act history.
type PlayerMemory struct {
	SuspectMap      map[uuid.UUID]float64 `json:"suspect_map"`
	FocusTargets    []uuid.UUID           `json:"focus_targets"`
	SelfRisk        float64               `json:"self_risk"`
	LastPhrases     []string              `json:"last_phrases"`
	SpeechSkipsUsed int                   `json:"speech_skips_used"`
	VoteHistory     []VoteRecord          `json:"vote_history"`
	SpeechHistory   []SpeechRecord        `json:"speech_history"`
}

func (m *PlayerMemory) Normalize() {
	if m.SuspectMap == nil {
		m.SuspectMap = map[uuid.UUID]float64{}
	}
	if m.FocusTargets == nil {
		m.FocusTargets = []uuid.UUID{}
	}
	if m.LastPhrases == nil {
		m.LastPhrases = []string{}
	}
	if m.VoteHistory == nil {
		m.VoteHistory = []VoteRecord{}
	}
	if m.SpeechHistory == nil {
		m.SpeechHistory = []SpeechRecord{}
	}
}

// PushPhrase appends to the rolling originality window (most recent last).
func (m *PlayerMemory) PushPhrase(text string, keep int) {
	m.LastPhrases = append(m.LastPhrases, text)
	if len(m.LastPhrases) > keep {
		m.LastPhrases = m.LastPhrases[len(m.LastPhrases)-keep:]
	}
}

type VoteRecord struct {
	RoundNo    int    `json:"round_no"`
	IsTiebreak bool   `json:"is_tiebreak"`
	TargetSeat int    `json:"target_seat"`
	Reason     string `json:"reason"`
}

type SpeechRecord struct {
	RoundNo int    `json:"round_no"`
	Text    string `json:"text"`
}

// Agent is an identity in the workspace directory. AI agents created for a
// game are ephemeral and soft-deleted when the game ends.
type Agent struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Name        string     `json:"name"`
	StrategyKey string     `json:"strategy_key,omitempty"`
	Ephemeral   bool       `json:"ephemeral"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Group is the chat group created with a game: the human seat plus the AI
// seats.
type Group struct {
	ID          uuid.UUID   `json:"id"`
	WorkspaceID string      `json:"workspace_id"`
	Name        string      `json:"name"`
	MemberIDs   []uuid.UUID `json:"member_ids"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ============================================================================
// VOTES
// ============================================================================

// Vote is one ballot in a (round, tiebreak) scope. Voter and target are
// player ids.
type Vote struct {
	ID         uuid.UUID `json:"id"`
	GameID     uuid.UUID `json:"game_id"`
	RoundNo    int       `json:"round_no"`
	VoterID    uuid.UUID `json:"voter_id"`
	TargetID   uuid.UUID `json:"target_id"`
	IsTiebreak bool      `json:"is_tiebreak"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// ============================================================================
// EVENTS
// ============================================================================

type EventType string

const (
	EventGameCreated   EventType = "game_created"
	EventPhaseChange   EventType = "phase_change"
	EventTurnStart     EventType = "turn_start"
	EventTurnEnd       EventType = "turn_end"
	EventSpeechDelta   EventType = "speech_delta"
	EventSpeech        EventType = "speech"
	EventSpeechSkip    EventType = "speech_skip"
	EventVote          EventType = "vote"
	EventVoteReveal    EventType = "vote_reveal"
	EventElimination   EventType = "elimination"
	EventNightAction   EventType = "night_action"
	EventDayAnnounce   EventType = "day_announce"
	EventDeathReveal   EventType = "death_reveal"
	EventEmotionUpdate EventType = "emotion_update"
	EventGMNotice      EventType = "gm_notice"
	EventCountdown     EventType = "countdown"
	EventTimelineTick  EventType = "timeline_tick"
	EventCinematic     EventType = "cinematic"
	EventGameOver      EventType = "game_over"
)

// RoundEvent is one appended entry of the game timeline. The store assigns a
// monotone id; append order is the canonical replay order. Private events
// (night actions, the creation payload with the role assignment) are served
// only once the game is finished.
type RoundEvent struct {
	ID        int64        `json:"id"`
	GameID    uuid.UUID    `json:"game_id"`
	RoundNo   int          `json:"round_no"`
	Phase     Phase        `json:"phase"`
	EventType EventType    `json:"event_type"`
	ActorID   *uuid.UUID   `json:"actor_id,omitempty"`
	TargetID  *uuid.UUID   `json:"target_id,omitempty"`
	Payload   EventPayload `json:"payload"`
	IsPublic  bool         `json:"is_public"`
	CreatedAt time.Time    `json:"created_at"`
}

// EventPayload is the open payload carried by events and stream frames.
// Fields are optional; each event type fills the ones it needs.
type EventPayload struct {
	Message    string          `json:"message,omitempty"`
	SeatNo     int             `json:"seat_no,omitempty"`
	TargetSeat int             `json:"target_seat,omitempty"`
	Text       string          `json:"text,omitempty"`
	Done       bool            `json:"done,omitempty"`
	Action     string          `json:"action,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Role       *Role           `json:"role,omitempty"`
	Phase      Phase           `json:"phase,omitempty"`
	RoundNo    int             `json:"round_no,omitempty"`
	IsTiebreak bool            `json:"is_tiebreak,omitempty"`
	Winner     *WinnerSide     `json:"winner,omitempty"`
	Deaths     []int           `json:"deaths,omitempty"`
	Candidates []int           `json:"candidates,omitempty"`
	VoteCounts map[string]int  `json:"vote_counts,omitempty"`
	Seconds    int             `json:"seconds,omitempty"`
	Marker     string          `json:"marker,omitempty"`
	Emotion    EmotionState    `json:"emotion,omitempty"`
	SkipsUsed  int             `json:"skips_used,omitempty"`
	Verdict    SeerVerdict     `json:"verdict,omitempty"`
	Roles      map[string]Role `json:"roles,omitempty"`
}

// ============================================================================
// REVIEW
// ============================================================================

// Review is the cached post-game summary, keyed uniquely by game id.
type Review struct {
	GameID    uuid.UUID     `json:"game_id"`
	Summary   ReviewSummary `json:"summary"`
	Narrative string        `json:"narrative"`
	CreatedAt time.Time     `json:"created_at"`
}

type ReviewSummary struct {
	Winner      *WinnerSide     `json:"winner,omitempty"`
	Rounds      int             `json:"rounds"`
	SpeechCount int             `json:"speech_count"`
	VoteCount   int             `json:"vote_count"`
	Seats       []SeatSummary   `json:"seats"`
	KeyTurns    []ReviewKeyTurn `json:"key_turns"`
}

type SeatSummary struct {
	SeatNo            int       `json:"seat_no"`
	AgentID           uuid.UUID `json:"agent_id"`
	Role              Role      `json:"role"`
	Alive             bool      `json:"alive"`
	Speeches          int       `json:"speeches"`
	VotesCast         int       `json:"votes_cast"`
	VotesOnWerewolves int       `json:"votes_on_werewolves"`
	VotesReceived     int       `json:"votes_received"`
}

type ReviewKeyTurn struct {
	EventID   int64     `json:"event_id"`
	RoundNo   int       `json:"round_no"`
	EventType EventType `json:"event_type"`
	Message   string    `json:"message"`
}

// ============================================================================
// STREAM FRAMES
// ============================================================================

// StreamFrame is the wire shape pushed to channel subscribers. Persisted
// events carry their timeline id; transient frames (deltas, countdowns,
// cinematics) omit it.
type StreamFrame struct {
	Event EventType `json:"event"`
	Data  FrameData `json:"data"`
	ID    *int64    `json:"id,omitempty"`
}

type FrameData struct {
	GameID    uuid.UUID    `json:"game_id"`
	RoundNo   int          `json:"round_no"`
	Phase     Phase        `json:"phase"`
	ActorID   *uuid.UUID   `json:"actor_id,omitempty"`
	TargetID  *uuid.UUID   `json:"target_id,omitempty"`
	Payload   EventPayload `json:"payload"`
	CreatedAt time.Time    `json:"created_at"`
}

// FrameFromEvent projects a persisted event into its stream frame.
func FrameFromEvent(ev *RoundEvent) StreamFrame {
	id := ev.ID
	return StreamFrame{
		Event: ev.EventType,
		ID:    &id,
		Data: FrameData{
			GameID:    ev.GameID,
			RoundNo:   ev.RoundNo,
			Phase:     ev.Phase,
			ActorID:   ev.ActorID,
			TargetID:  ev.TargetID,
			Payload:   ev.Payload,
			CreatedAt: ev.CreatedAt,
		},
	}
}

// ============================================================================
// API REQUEST/RESPONSE MODELS
// ============================================================================

type CreateGameRequest struct {
	WorkspaceID  string     `json:"workspace_id" binding:"required"`
	HumanAgentID *uuid.UUID `json:"human_agent_id,omitempty"`
}

// PlayerView is the masked seat projection served while a game runs: every
// non-human seat reports villager until the reveal.
type PlayerView struct {
	AgentID uuid.UUID    `json:"agent_id"`
	SeatNo  int          `json:"seat_no"`
	Label   string       `json:"label"`
	IsHuman bool         `json:"is_human"`
	Alive   bool         `json:"alive"`
	Role    Role         `json:"role"`
	Emotion EmotionState `json:"emotion"`
}

type RoleReveal struct {
	AgentID uuid.UUID `json:"agent_id"`
	SeatNo  int       `json:"seat_no"`
	Role    Role      `json:"role"`
}

type SeerCheckView struct {
	TargetSeat int         `json:"target_seat"`
	Verdict    SeerVerdict `json:"verdict"`
}

// HumanPrivate is the private block returned only for the human seat.
type HumanPrivate struct {
	Role                 Role           `json:"role"`
	TeammateSeats        []int          `json:"teammate_seats,omitempty"`
	SeerCheck            *SeerCheckView `json:"seer_check,omitempty"`
	WitchHealAvailable   bool           `json:"witch_heal_available,omitempty"`
	WitchPoisonAvailable bool           `json:"witch_poison_available,omitempty"`
	PendingKillSeat      *int           `json:"pending_kill_seat,omitempty"`
	SpeechSkipsLeft      int            `json:"speech_skips_left"`
	NightInfo            string         `json:"night_info,omitempty"`
	SpeechInfo           string         `json:"speech_info,omitempty"`
}

type GameView struct {
	Game    *Game         `json:"game"`
	Players []PlayerView  `json:"players"`
	Reveal  []RoleReveal  `json:"reveal,omitempty"`
	Human   *HumanPrivate `json:"human,omitempty"`
}

type CreateGameResponse struct {
	Game            *Game        `json:"game"`
	Players         []PlayerView `json:"players"`
	HumanRole       Role         `json:"human_role,omitempty"`
	HumanNightInfo  string       `json:"human_night_info,omitempty"`
	HumanSpeechInfo string       `json:"human_speech_info,omitempty"`
	Reveal          []RoleReveal `json:"reveal,omitempty"`
}

type NightActionType string

const (
	NightActionWolfKill    NightActionType = "wolf_kill"
	NightActionSeerCheck   NightActionType = "seer_check"
	NightActionWitchHeal   NightActionType = "witch_heal"
	NightActionWitchPoison NightActionType = "witch_poison"
	NightActionWitchSkip   NightActionType = "witch_skip"
)

type SubmitNightActionRequest struct {
	ActorAgentID  uuid.UUID       `json:"actor_agent_id" binding:"required"`
	ActionType    NightActionType `json:"action_type" binding:"required"`
	TargetAgentID *uuid.UUID      `json:"target_agent_id,omitempty"`
}

type SubmitNightActionResponse struct {
	Accepted   bool         `json:"accepted"`
	SeerResult *SeerVerdict `json:"seer_result,omitempty"`
}

type SpeechAction string

const (
	SpeechActionSpeak SpeechAction = "speak"
	SpeechActionSkip  SpeechAction = "skip"
)

type SubmitSpeechRequest struct {
	ActorAgentID uuid.UUID    `json:"actor_agent_id" binding:"required"`
	Text         string       `json:"text,omitempty"`
	Action       SpeechAction `json:"action,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

type SubmitVoteRequest struct {
	VoterAgentID  uuid.UUID `json:"voter_agent_id" binding:"required"`
	TargetAgentID uuid.UUID `json:"target_agent_id" binding:"required"`
	Reason        string    `json:"reason" binding:"required"`
}

type TokenRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
