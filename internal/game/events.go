package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/metrics"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

// Emitter fans frames out to live subscribers. Implementations must never
// block the caller; a slow consumer is the hub's problem, not the engine's.
type Emitter interface {
	Emit(gameID uuid.UUID, frame models.StreamFrame)
}

// eventChannel is the pub/sub channel carrying a game's frames for external
// consumers (replay tooling, secondary UIs).
func eventChannel(gameID uuid.UUID) string {
	return "game:events:" + gameID.String()
}

// record appends one timeline event and pushes it to subscribers when public.
// Append failures are persistence failures and propagate; emission is
// best-effort.
func (e *Engine) record(ctx context.Context, g *models.Game, evType models.EventType, isPublic bool, actorID, targetID *uuid.UUID, payload models.EventPayload) (*models.RoundEvent, error) {
	ev := &models.RoundEvent{
		GameID:    g.ID,
		RoundNo:   g.RoundNo,
		Phase:     g.Phase,
		EventType: evType,
		ActorID:   actorID,
		TargetID:  targetID,
		Payload:   payload,
		IsPublic:  isPublic,
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append %s event: %w", evType, err)
	}
	metrics.EventsAppended.WithLabelValues(string(evType)).Inc()
	if isPublic {
		e.broadcast(ctx, g.ID, models.FrameFromEvent(ev))
	}
	return ev, nil
}

func (e *Engine) gmNotice(ctx context.Context, g *models.Game, msg string) error {
	_, err := e.record(ctx, g, models.EventGMNotice, true, nil, nil, models.EventPayload{Message: msg})
	return err
}

// emitTransient pushes a frame that is never persisted: deltas, countdowns,
// cinematic beats. Losing one changes nothing a replay depends on.
func (e *Engine) emitTransient(ctx context.Context, g *models.Game, evType models.EventType, actorID *uuid.UUID, payload models.EventPayload) {
	e.broadcast(ctx, g.ID, models.StreamFrame{
		Event: evType,
		Data: models.FrameData{
			GameID:    g.ID,
			RoundNo:   g.RoundNo,
			Phase:     g.Phase,
			ActorID:   actorID,
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
		},
	})
}

func (e *Engine) broadcast(ctx context.Context, gameID uuid.UUID, frame models.StreamFrame) {
	if e.emitter != nil {
		e.emitter.Emit(gameID, frame)
	}
	if e.bridge == nil {
		return
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := e.bridge.Publish(ctx, eventChannel(gameID), raw).Err(); err != nil {
		e.log.Warn("event bridge publish failed",
			zap.String("game_id", gameID.String()),
			zap.String("event", string(frame.Event)),
			zap.Error(err))
	}
}

// playCinematic emits a cinematic beat plus its timeline tick, then holds the
// loop for the beat's duration.
func (e *Engine) playCinematic(ctx context.Context, g *models.Game, marker string, d time.Duration) {
	payload := models.EventPayload{Marker: marker, Seconds: int((d + time.Second - 1) / time.Second)}
	e.emitTransient(ctx, g, models.EventCinematic, nil, payload)
	e.emitTransient(ctx, g, models.EventTimelineTick, nil, models.EventPayload{Marker: marker})
	e.sleep(ctx, d)
}

func (e *Engine) emitCountdown(ctx context.Context, g *models.Game, actorID *uuid.UUID, seconds int) {
	e.emitTransient(ctx, g, models.EventCountdown, actorID, models.EventPayload{Seconds: seconds})
}

// sleep pauses pacing without outliving the runner's context.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// streamSpeech replays one committed speech as monotonically growing delta
// frames, closing with a done frame carrying the full text.
func (e *Engine) streamSpeech(ctx context.Context, g *models.Game, actor *models.Player, text string) {
	runes := []rune(text)
	const chunk = 4
	for i := chunk; i < len(runes); i += chunk {
		e.emitTransient(ctx, g, models.EventSpeechDelta, &actor.ID, models.EventPayload{
			SeatNo: actor.SeatNo,
			Text:   string(runes[:i]),
		})
		e.sleep(ctx, e.cfg.SpeechStreamChunk)
	}
	e.emitTransient(ctx, g, models.EventSpeechDelta, &actor.ID, models.EventPayload{
		SeatNo: actor.SeatNo,
		Text:   text,
		Done:   true,
	})
}

// ============================================================================
// PROMPT SNAPSHOT RENDERING
// ============================================================================

// promptLineTypes are the event types worth showing a model. Turn scaffolding
// (turn_start/turn_end) would crowd substance out of the window.
var promptLineTypes = map[models.EventType]bool{
	models.EventSpeech:      true,
	models.EventSpeechSkip:  true,
	models.EventVote:        true,
	models.EventVoteReveal:  true,
	models.EventElimination: true,
	models.EventDayAnnounce: true,
	models.EventDeathReveal: true,
	models.EventGMNotice:    true,
}

const promptLineWindow = 12

// recentPublicLines renders the tail of the public timeline for prompts.
func recentPublicLines(events []*models.RoundEvent) []string {
	lines := make([]string, 0, promptLineWindow)
	for _, ev := range events {
		if !ev.IsPublic || !promptLineTypes[ev.EventType] {
			continue
		}
		if line := renderEventLine(ev); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > promptLineWindow {
		lines = lines[len(lines)-promptLineWindow:]
	}
	return lines
}

func renderEventLine(ev *models.RoundEvent) string {
	p := ev.Payload
	switch ev.EventType {
	case models.EventSpeech:
		return fmt.Sprintf("第%d轮 玩家%d发言：%s", ev.RoundNo, p.SeatNo, p.Text)
	case models.EventSpeechSkip:
		return fmt.Sprintf("第%d轮 玩家%d选择过麦不发言", ev.RoundNo, p.SeatNo)
	case models.EventVote:
		return fmt.Sprintf("第%d轮 玩家%d投给玩家%d：%s", ev.RoundNo, p.SeatNo, p.TargetSeat, p.Reason)
	case models.EventVoteReveal:
		return fmt.Sprintf("第%d轮 票型公布：%s", ev.RoundNo, renderVoteCounts(p.VoteCounts))
	case models.EventElimination:
		if p.Role != nil {
			return fmt.Sprintf("第%d轮 玩家%d被投票出局，身份是%s", ev.RoundNo, p.SeatNo, roleLabel(*p.Role))
		}
		return fmt.Sprintf("第%d轮 玩家%d被投票出局", ev.RoundNo, p.SeatNo)
	case models.EventDayAnnounce:
		if len(p.Deaths) == 0 {
			return fmt.Sprintf("第%d轮 天亮：昨夜平安，无人出局", ev.RoundNo)
		}
		return fmt.Sprintf("第%d轮 天亮：昨夜%s出局", ev.RoundNo, seatLabels(p.Deaths))
	case models.EventDeathReveal:
		return fmt.Sprintf("第%d轮 玩家%d昨夜出局", ev.RoundNo, p.SeatNo)
	case models.EventGMNotice:
		return p.Message
	case models.EventGameOver:
		if p.Message != "" {
			return p.Message
		}
		return "游戏结束"
	default:
		return ""
	}
}

func renderVoteCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "无人得票"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("玩家%s得%d票", k, counts[k]))
	}
	return strings.Join(parts, "，")
}

func seatLabels(seats []int) string {
	parts := make([]string, len(seats))
	for i, s := range seats {
		parts[i] = "玩家" + strconv.Itoa(s)
	}
	return strings.Join(parts, "、")
}

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleWerewolf:
		return "狼人"
	case models.RoleSeer:
		return "预言家"
	case models.RoleWitch:
		return "女巫"
	default:
		return "村民"
	}
}
