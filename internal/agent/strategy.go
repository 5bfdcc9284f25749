package agent

import (
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

// Strategy slot keys, in the order seats are allocated at game creation.
const (
	StrategyAggressiveAnalyst  = "aggressive_analyst"
	StrategySteadyConservative = "steady_conservative"
	StrategySocialBlender      = "social_blender"
	StrategyChaosDisruptor     = "chaos_disruptor"
	StrategyAdaptiveDeceiver   = "adaptive_deceiver"
)

// SlotOrder is the canonical allocation order for ephemeral agents.
var SlotOrder = []string{
	StrategyAggressiveAnalyst,
	StrategySteadyConservative,
	StrategySocialBlender,
	StrategyChaosDisruptor,
	StrategyAdaptiveDeceiver,
}

// Profile is one persona: decoding defaults, table-talk style and the
// phrases this persona refuses to produce.
type Profile struct {
	Key           string
	AgentName     string
	Persona       string
	StyleRules    []string
	BannedPhrases []string
	Decode        models.DecodeConfig
}

var profiles = map[string]Profile{
	StrategyAggressiveAnalyst: {
		Key:       StrategyAggressiveAnalyst,
		AgentName: "锐锋",
		Persona:   "进攻型分析玩家：直接点名发言矛盾，敢把怀疑说满，不留余地。",
		StyleRules: []string{
			"每次发言必须点出一个具体玩家的发言或投票细节",
			"语气果断，不使用犹豫措辞",
		},
		BannedPhrases: []string{"我不太确定", "随便投"},
		Decode: models.DecodeConfig{
			Temperature:      0.82,
			TopP:             0.92,
			PresencePenalty:  0.35,
			FrequencyPenalty: 0.28,
			MaxTokens:        220,
		},
	},
	StrategySteadyConservative: {
		Key:       StrategySteadyConservative,
		AgentName: "稳岩",
		Persona:   "稳健保守玩家：只复述能被验证的公开信息，结论谨慎，强调票型。",
		StyleRules: []string{
			"引用至少一个真实发生过的公开事件",
			"不做没有依据的站边",
		},
		BannedPhrases: []string{"我赌一把", "闭眼冲"},
		Decode: models.DecodeConfig{
			Temperature:      0.66,
			TopP:             0.88,
			PresencePenalty:  0.20,
			FrequencyPenalty: 0.35,
			MaxTokens:        220,
		},
	},
	StrategySocialBlender: {
		Key:       StrategySocialBlender,
		AgentName: "暖风",
		Persona:   "社交融入型玩家：顺着场上主流判断走，但会补充一个自己的小观察。",
		StyleRules: []string{
			"先呼应场上已有判断，再补充一个新细节",
			"语气温和，不激化对立",
		},
		BannedPhrases: []string{"都听我的", "你们全错了"},
		Decode: models.DecodeConfig{
			Temperature:      0.78,
			TopP:             0.90,
			PresencePenalty:  0.30,
			FrequencyPenalty: 0.30,
			MaxTokens:        220,
		},
	},
	StrategyChaosDisruptor: {
		Key:       StrategyChaosDisruptor,
		AgentName: "乱流",
		Persona:   "节奏破坏型玩家：专挑被忽视的细节开新战场，让局面不好收敛。",
		StyleRules: []string{
			"优先质疑当前被集火之外的玩家",
			"允许跳跃式联想，但必须落在公开信息上",
		},
		BannedPhrases: []string{"大家冷静", "按部就班"},
		Decode: models.DecodeConfig{
			Temperature:      0.95,
			TopP:             0.97,
			PresencePenalty:  0.50,
			FrequencyPenalty: 0.20,
			MaxTokens:        220,
		},
	},
	StrategyAdaptiveDeceiver: {
		Key:       StrategyAdaptiveDeceiver,
		AgentName: "幻影",
		Persona:   "自适应伪装型玩家：模仿好人视角复盘，刻意把怀疑引向安全目标。",
		StyleRules: []string{
			"伪装成复盘视角，引用前后轮次对比",
			"避免为同一个人连续辩护两轮",
		},
		BannedPhrases: []string{"我是好人你们信我", "绝对不是我"},
		Decode: models.DecodeConfig{
			Temperature:      0.85,
			TopP:             0.93,
			PresencePenalty:  0.40,
			FrequencyPenalty: 0.30,
			MaxTokens:        220,
		},
	},
}

// ProfileFor returns the profile for a strategy key, falling back to the
// steady profile for unknown keys so a bad row never stalls a turn.
func ProfileFor(key string) Profile {
	if p, ok := profiles[key]; ok {
		return p
	}
	return profiles[StrategySteadyConservative]
}

// ResolveDecode produces the effective sampling parameters for one turn:
// strategy defaults, round adjustments, then a deterministic per-agent jitter
// derived from an FNV-1a hash of the agent id.
func ResolveDecode(profile Profile, agentID uuid.UUID, roundNo int, tiebreak, night bool) models.DecodeConfig {
	d := profile.Decode
	if roundNo >= 3 {
		d.Temperature += 0.06
	}
	if tiebreak {
		d.TopP += 0.02
	}

	jt, jp := decodeJitter(agentID)
	d.Temperature += jt
	d.TopP += jp

	if night {
		d.Temperature -= 0.08
		d.MaxTokens = 96
	}

	d.Temperature = clamp(d.Temperature, 0.10, 1.30)
	d.TopP = clamp(d.TopP, 0.50, 0.99)
	return d
}

// decodeJitter maps an agent id onto ±0.06 temperature and ±0.03 topP.
func decodeJitter(agentID uuid.UUID) (float64, float64) {
	h := fnv.New32a()
	h.Write([]byte(agentID.String()))
	v := h.Sum32()

	t := (float64(v%1001)/1000.0*2 - 1) * 0.06
	p := (float64((v/1001)%1001)/1000.0*2 - 1) * 0.03
	return t, p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
