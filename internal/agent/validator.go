package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Rejection rule names, used as metric labels and retry diagnostics.
const (
	RuleEmpty       = "empty"
	RuleLength      = "length"
	RuleAnchor      = "anchor"
	RuleMetaLeak    = "meta_leak"
	RuleScene       = "fictional_scene"
	RuleTemplate    = "template_talk"
	RuleBanned      = "banned_phrase"
	RulePeacefulDay = "peaceful_first_day"
	RuleSeatRef     = "seat_ref"
	RuleDeadSeatRef = "dead_seat_ref"
	RuleDuplicate   = "duplicate"
	RuleSimilarity  = "similarity"
)

// RejectError reports which rule an utterance failed.
type RejectError struct {
	Rule   string
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("utterance rejected (%s): %s", e.Rule, e.Detail)
}

func reject(rule, detail string) error {
	return &RejectError{Rule: rule, Detail: detail}
}

// Rune bounds for the two utterance kinds. Exported so UI hints and prompt
// instructions quote the same numbers the validator enforces.
const (
	SpeechMinRunes = 10
	SpeechMaxRunes = 38
	ReasonMinRunes = 14
	ReasonMaxRunes = 34
)

const (
	// Containment shorter than this is tolerated as incidental overlap.
	containmentMinLen = 8
	// Originality is checked against at most this many recent utterances.
	historyWindow = 8
)

// Observable anchors: a vote reason must reference at least one publicly
// observable behavior.
var observableAnchors = []string{
	"发言", "投票", "前后", "矛盾", "回避", "逻辑", "站边", "细节", "轮", "票",
}

// Meta-leak terms. ASCII terms are matched case-insensitively.
var metaLeakTerms = []string{
	"系统提示", "提示词", "prompt", "secret", "keyword", "api key",
}

// Locations and actions this game does not model. Utterances set in a
// fictional physical scene are rejected outright.
var fictionalSceneTerms = []string{
	"东区", "西区", "南区", "北区", "地下室", "仓库", "小巷", "树林",
	"河边", "桥边", "巡逻", "徘徊", "潜入", "翻墙",
}

// Filler the models drift into when they have nothing to say.
var templatePhrases = []string{
	"描述偏空泛", "先投这一位", "先观察一轮", "感觉像", "同上", "没什么可说",
}

var (
	overnightMarkers = []string{"昨晚", "昨夜"}
	overnightActions = []string{"看到", "目击", "徘徊", "行动"}
	nowMarkers       = []string{"现在", "当前", "本轮", "这一轮"}
	seatRefPattern   = regexp.MustCompile(`玩家(\d+)`)
)

// Context carries everything a verdict depends on. Identical context and
// candidate always produce the identical verdict.
type Context struct {
	RoundNo          int
	PeacefulFirstDay bool
	BannedPhrases    []string
	// Seats maps every existing seat number to whether it is alive.
	Seats map[int]bool
	// History holds the actor's recent same-kind utterances, most recent
	// last; only the trailing window is compared.
	History []string
}

// Validator applies the style/originality contract to candidate utterances.
type Validator struct {
	speechSimThreshold float64
	voteSimThreshold   float64
}

func NewValidator(speechSimThreshold, voteSimThreshold float64) *Validator {
	return &Validator{
		speechSimThreshold: speechSimThreshold,
		voteSimThreshold:   voteSimThreshold,
	}
}

// ValidateSpeech checks a day-speech candidate.
func (v *Validator) ValidateSpeech(text string, vctx Context) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return reject(RuleEmpty, "empty speech")
	}
	if n := runeLen(text); n < SpeechMinRunes || n > SpeechMaxRunes {
		return reject(RuleLength, fmt.Sprintf("speech length %d outside [%d,%d]", n, SpeechMinRunes, SpeechMaxRunes))
	}
	if err := v.checkContent(text, vctx); err != nil {
		return err
	}
	return v.checkOriginality(text, vctx.History, v.speechSimThreshold)
}

// ValidateVoteReason checks a vote-reason candidate.
func (v *Validator) ValidateVoteReason(reason string, vctx Context) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return reject(RuleEmpty, "empty vote reason")
	}
	if n := runeLen(reason); n < ReasonMinRunes || n > ReasonMaxRunes {
		return reject(RuleLength, fmt.Sprintf("reason length %d outside [%d,%d]", n, ReasonMinRunes, ReasonMaxRunes))
	}
	if !containsAny(reason, observableAnchors) {
		return reject(RuleAnchor, "reason cites no observable behavior")
	}
	if err := v.checkContent(reason, vctx); err != nil {
		return err
	}
	return v.checkOriginality(reason, vctx.History, v.voteSimThreshold)
}

// checkContent applies the shared leak/scene/template/persona/seat rules.
func (v *Validator) checkContent(text string, vctx Context) error {
	lower := strings.ToLower(text)
	for _, term := range metaLeakTerms {
		if strings.Contains(lower, term) {
			return reject(RuleMetaLeak, "references system internals: "+term)
		}
	}
	for _, term := range fictionalSceneTerms {
		if strings.Contains(text, term) {
			return reject(RuleScene, "references unmodeled scene: "+term)
		}
	}
	for _, phrase := range templatePhrases {
		if strings.Contains(text, phrase) {
			return reject(RuleTemplate, "template talk: "+phrase)
		}
	}
	for _, phrase := range vctx.BannedPhrases {
		if phrase != "" && strings.Contains(text, phrase) {
			return reject(RuleBanned, "persona-banned phrase: "+phrase)
		}
	}

	if vctx.PeacefulFirstDay && containsAny(text, overnightMarkers) && containsAny(text, overnightActions) {
		return reject(RulePeacefulDay, "invents overnight events on a peaceful first day")
	}

	refsNow := containsAny(text, nowMarkers)
	for _, match := range seatRefPattern.FindAllStringSubmatch(text, -1) {
		seat, err := strconv.Atoi(match[1])
		if err != nil {
			return reject(RuleSeatRef, "unparseable seat reference: "+match[0])
		}
		alive, exists := vctx.Seats[seat]
		if !exists {
			return reject(RuleSeatRef, fmt.Sprintf("seat %d does not exist", seat))
		}
		if refsNow && !alive {
			return reject(RuleDeadSeatRef, fmt.Sprintf("refers to dead seat %d in the present", seat))
		}
	}
	return nil
}

// checkOriginality rejects duplicates and near-duplicates of the actor's
// recent same-kind utterances.
func (v *Validator) checkOriginality(text string, history []string, threshold float64) error {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	norm := normalizeUtterance(text)
	for _, h := range history {
		hn := normalizeUtterance(h)
		if hn == "" {
			continue
		}
		if norm == hn {
			return reject(RuleDuplicate, "identical to a recent utterance")
		}
		shorter, longer := norm, hn
		if runeLen(shorter) > runeLen(longer) {
			shorter, longer = longer, shorter
		}
		if runeLen(shorter) > containmentMinLen && strings.Contains(longer, shorter) {
			return reject(RuleDuplicate, "contained in a recent utterance")
		}
		if sim := trigramJaccard(norm, hn); sim >= threshold {
			return reject(RuleSimilarity, fmt.Sprintf("trigram similarity %.2f >= %.2f", sim, threshold))
		}
	}
	return nil
}

// normalizeUtterance lowercases and strips whitespace, punctuation and
// symbols, leaving letters and digits only.
func normalizeUtterance(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// trigramJaccard computes Jaccard similarity over rune trigrams of two
// normalized strings. Short strings fall back to whole-string grams.
func trigramJaccard(a, b string) float64 {
	ga := trigrams(a)
	gb := trigrams(b)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	inter := 0
	for g := range ga {
		if _, ok := gb[g]; ok {
			inter++
		}
	}
	union := len(ga) + len(gb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	runes := []rune(s)
	if len(runes) == 0 {
		return out
	}
	if len(runes) < 3 {
		out[string(runes)] = struct{}{}
		return out
	}
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return len([]rune(s))
}
