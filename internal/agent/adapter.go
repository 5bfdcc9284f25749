package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/llm"
	"github.com/moonhollow/werewolf-arena/internal/metrics"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

// fallbackSpeech is the fixed sentence used when every model attempt failed.
// It skips the validator so a degraded model can never stall the table.
const fallbackSpeech = "我先保留判断，这一轮重点看大家的投票。"

// Generic openers that signal the model wrote a reason about the wrong seat.
var genericReasonMarkers = []string{"该玩家", "这名玩家", "这位玩家"}

// TurnAdapter turns one seat's turn into a validated payload: prompt the
// model, parse, validate, re-ask on rejection, and fall back deterministically
// when attempts run out. The game loop never blocks on a misbehaving model.
type TurnAdapter struct {
	client       llm.Client
	validator    *Validator
	log          *zap.Logger
	utterRetries int
	nightRetries int
}

func NewTurnAdapter(client llm.Client, validator *Validator, logger *zap.Logger, retries int) *TurnAdapter {
	if retries < 0 {
		retries = 0
	}
	night := retries
	if night > 1 {
		night = 1
	}
	return &TurnAdapter{
		client:       client,
		validator:    validator,
		log:          logger,
		utterRetries: retries,
		nightRetries: night,
	}
}

type SpeechOutcome struct {
	Text     string
	Fallback bool
}

type VoteOutcome struct {
	TargetSeat int
	Reason     string
	Fallback   bool
}

type NightOutcome struct {
	// TargetSeat is nil when the actor passes (witch declining a charge).
	TargetSeat *int
	Fallback   bool
}

// Speech produces one validated day speech.
func (a *TurnAdapter) Speech(ctx context.Context, in PromptInput, decode models.DecodeConfig, vctx Context) SpeechOutcome {
	system, user := BuildSpeechPrompts(in)
	for attempt := 0; attempt <= a.utterRetries; attempt++ {
		if attempt > 0 {
			metrics.LLMRetries.WithLabelValues("speech").Inc()
		}
		raw, err := a.chat(ctx, "speech", system, user, decode)
		if err != nil {
			a.log.Debug("speech call failed", zap.Int("seat", in.SeatNo), zap.Error(err))
			continue
		}
		text, ok := parseSpeechReply(raw)
		if !ok {
			a.log.Debug("speech reply unparseable", zap.Int("seat", in.SeatNo))
			continue
		}
		if err := a.validator.ValidateSpeech(text, vctx); err != nil {
			CountRejection(err)
			a.log.Debug("speech rejected", zap.Int("seat", in.SeatNo), zap.Error(err))
			continue
		}
		return SpeechOutcome{Text: strings.TrimSpace(text)}
	}
	metrics.LLMFallbacks.WithLabelValues("speech").Inc()
	return SpeechOutcome{Text: fallbackSpeech, Fallback: true}
}

// Vote produces one validated ballot. fallbackExclude lists seats the
// deterministic fallback must not pick (a wolf never randomly votes a wolf).
func (a *TurnAdapter) Vote(ctx context.Context, in PromptInput, decode models.DecodeConfig, vctx Context, fallbackExclude []int, rng *rand.Rand) VoteOutcome {
	system, user := BuildVotePrompts(in)
	for attempt := 0; attempt <= a.utterRetries; attempt++ {
		if attempt > 0 {
			metrics.LLMRetries.WithLabelValues("vote").Inc()
		}
		raw, err := a.chat(ctx, "vote", system, user, decode)
		if err != nil {
			a.log.Debug("vote call failed", zap.Int("seat", in.SeatNo), zap.Error(err))
			continue
		}
		target, reason, ok := parseVoteReply(raw)
		if !ok || target == nil {
			a.log.Debug("vote reply unparseable", zap.Int("seat", in.SeatNo))
			continue
		}
		if !containsSeat(in.TargetSeats, *target) {
			a.log.Debug("vote target out of range", zap.Int("seat", in.SeatNo), zap.Int("target", *target))
			continue
		}
		reason = repairVoteReason(reason, in.SeatNo, *target)
		if err := a.validator.ValidateVoteReason(reason, vctx); err != nil {
			CountRejection(err)
			a.log.Debug("vote reason rejected", zap.Int("seat", in.SeatNo), zap.Error(err))
			continue
		}
		return VoteOutcome{TargetSeat: *target, Reason: strings.TrimSpace(reason)}
	}

	metrics.LLMFallbacks.WithLabelValues("vote").Inc()
	seat := pickUniform(in.TargetSeats, fallbackExclude, rng)
	return VoteOutcome{
		TargetSeat: seat,
		Reason:     fmt.Sprintf("玩家%d的发言和票型前后对不上，先给出这一票。", seat),
		Fallback:   true,
	}
}

// Night produces one night pick. Optional picks (AllowNull) fall back to a
// pass; mandatory picks fall back to a uniform random target.
func (a *TurnAdapter) Night(ctx context.Context, in PromptInput, decode models.DecodeConfig, rng *rand.Rand) NightOutcome {
	system, user := BuildNightPrompts(in)
	for attempt := 0; attempt <= a.nightRetries; attempt++ {
		if attempt > 0 {
			metrics.LLMRetries.WithLabelValues("night").Inc()
		}
		raw, err := a.chat(ctx, "night", system, user, decode)
		if err != nil {
			a.log.Debug("night call failed", zap.Int("seat", in.SeatNo), zap.Error(err))
			continue
		}
		target, ok := parseNightReply(raw)
		if !ok {
			a.log.Debug("night reply unparseable", zap.Int("seat", in.SeatNo))
			continue
		}
		if target == nil {
			if in.AllowNull {
				return NightOutcome{}
			}
			continue
		}
		if !containsSeat(in.TargetSeats, *target) {
			a.log.Debug("night target out of range", zap.Int("seat", in.SeatNo), zap.Int("target", *target))
			continue
		}
		return NightOutcome{TargetSeat: target}
	}

	metrics.LLMFallbacks.WithLabelValues("night").Inc()
	if in.AllowNull || len(in.TargetSeats) == 0 {
		return NightOutcome{Fallback: true}
	}
	seat := pickUniform(in.TargetSeats, nil, rng)
	return NightOutcome{TargetSeat: &seat, Fallback: true}
}

func (a *TurnAdapter) chat(ctx context.Context, kind, system, user string, decode models.DecodeConfig) (string, error) {
	metrics.LLMRequests.WithLabelValues(kind).Inc()
	start := time.Now()
	out, err := a.client.ChatJSON(ctx, system, user, decode)
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	return out, err
}

// CountRejection records a validator rejection in the metrics, keyed by rule.
func CountRejection(err error) {
	var rej *RejectError
	if errors.As(err, &rej) {
		metrics.UtteranceRejections.WithLabelValues(rej.Rule).Inc()
	}
}

// repairVoteReason rewrites a self-seat reference to the voted seat when the
// reason is generic prose; models drift into blaming their own seat number.
func repairVoteReason(reason string, selfSeat, targetSeat int) string {
	if selfSeat == targetSeat {
		return reason
	}
	selfRef := fmt.Sprintf("玩家%d", selfSeat)
	targetRef := fmt.Sprintf("玩家%d", targetSeat)
	if !strings.Contains(reason, selfRef) || strings.Contains(reason, targetRef) {
		return reason
	}
	if !containsAny(reason, genericReasonMarkers) {
		return reason
	}
	return strings.ReplaceAll(reason, selfRef, targetRef)
}

// ============================================================================
// REPLY PARSING
// ============================================================================

type speechReply struct {
	Speech string `json:"speech"`
}

type voteReply struct {
	VoteTarget json.RawMessage `json:"vote_target"`
	Reason     string          `json:"reason"`
}

type nightReply struct {
	Target json.RawMessage `json:"target"`
}

func parseSpeechReply(raw string) (string, bool) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return "", false
	}
	var r speechReply
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return "", false
	}
	text := strings.TrimSpace(r.Speech)
	return text, text != ""
}

func parseVoteReply(raw string) (*int, string, bool) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, "", false
	}
	var r voteReply
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return nil, "", false
	}
	seat, err := parseSeatValue(r.VoteTarget)
	if err != nil {
		return nil, "", false
	}
	return seat, strings.TrimSpace(r.Reason), true
}

func parseNightReply(raw string) (*int, bool) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, false
	}
	var r nightReply
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return nil, false
	}
	seat, err := parseSeatValue(r.Target)
	if err != nil {
		return nil, false
	}
	return seat, true
}

// extractJSONObject returns the first balanced JSON object embedded in s.
// Models wrap their JSON in prose and code fences; a depth scan is enough.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// parseSeatValue accepts a seat as a JSON number, a bare digit string or a
// "玩家N" label; null and absence mean no target.
func parseSeatValue(raw json.RawMessage) (*int, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("seat value %q is neither number nor string", trimmed)
	}
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "玩家"))
	if s == "" || strings.EqualFold(s, "null") {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("seat value %q is not a seat", s)
	}
	return &n, nil
}

func containsSeat(seats []int, seat int) bool {
	for _, s := range seats {
		if s == seat {
			return true
		}
	}
	return false
}

// pickUniform selects a seat uniformly, honoring the exclusion list unless it
// would empty the pool.
func pickUniform(seats, exclude []int, rng *rand.Rand) int {
	pool := seats
	if len(exclude) > 0 {
		filtered := make([]int, 0, len(seats))
		for _, s := range seats {
			if !containsSeat(exclude, s) {
				filtered = append(filtered, s)
			}
		}
		if len(filtered) > 0 {
			pool = filtered
		}
	}
	if len(pool) == 0 {
		return 0
	}
	return pool[rng.Intn(len(pool))]
}
