package agent

import (
	"fmt"
	"strings"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

// Task markers shared by the user prompts. The adapter keys retries off the
// validator, not these; they exist so transcripts are self-describing.
const (
	taskSpeech = "【任务】发言"
	taskVote   = "【任务】投票"
	taskNight  = "【任务】夜晚行动"
)

// PromptInput carries everything one turn prompt is built from. The engine
// fills the public snapshot and the role-private block; the builders only
// format.
type PromptInput struct {
	Profile          Profile
	SeatNo           int
	Role             models.Role
	RoundNo          int
	Phase            models.Phase
	IsTiebreak       bool
	PeacefulFirstDay bool

	AliveSeats []int
	DeadSeats  []int

	// Werewolf-private: living teammates.
	TeammateSeats []int
	// Seer-private: latest check, if any.
	SeerCheckSeat *int
	SeerVerdict   models.SeerVerdict
	// Witch-private: charge state and tonight's pending kill.
	WitchHealAvailable   bool
	WitchPoisonAvailable bool
	PendingKillSeat      *int

	// PublicLines is the rendered tail of the public timeline, oldest first.
	PublicLines []string
	// RecentPhrases is the actor's recent same-kind output; the prompt
	// forbids repeating it.
	RecentPhrases []string

	// TargetSeats are the legal picks for vote and night turns.
	TargetSeats []int
	AllowNull   bool
	NightAction models.NightActionType
}

// BuildSpeechPrompts renders the system/user pair for a day speech turn.
func BuildSpeechPrompts(in PromptInput) (string, string) {
	var u strings.Builder
	writeSituation(&u, in)
	writeRecentPhrases(&u, in)

	u.WriteString(taskSpeech)
	u.WriteString("：现在轮到你公开发言。\n")
	if in.IsTiebreak {
		u.WriteString("你是平票候选人，这是辩护发言，说明为什么不该出局的是你。\n")
	}
	u.WriteString(fmt.Sprintf("要求：%d到%d个字，必须落在本局真实出现过的发言、投票或出局信息上，给出你自己的判断。\n", SpeechMinRunes, SpeechMaxRunes))
	u.WriteString(`只输出一个JSON对象：{"speech":"你的发言"}`)

	return buildSystem(in), u.String()
}

// BuildVotePrompts renders the system/user pair for a vote turn.
func BuildVotePrompts(in PromptInput) (string, string) {
	var u strings.Builder
	writeSituation(&u, in)
	writeRecentPhrases(&u, in)

	u.WriteString(taskVote)
	u.WriteString("：现在轮到你投票。\n")
	if in.IsTiebreak {
		u.WriteString("这是平票加赛，只能在平票候选人中选择。\n")
	}
	u.WriteString("可投目标：" + seatList(in.TargetSeats) + "。\n")
	u.WriteString(fmt.Sprintf("理由要求：%d到%d个字，必须引用该玩家可被观察到的行为（发言内容、票型、前后矛盾等）。\n", ReasonMinRunes, ReasonMaxRunes))
	u.WriteString(`只输出一个JSON对象：{"vote_target": 座位号, "reason": "你的理由"}`)

	return buildSystem(in), u.String()
}

// BuildNightPrompts renders the system/user pair for a night pick.
func BuildNightPrompts(in PromptInput) (string, string) {
	var u strings.Builder
	writeSituation(&u, in)

	u.WriteString(taskNight)
	u.WriteString("：")
	switch in.NightAction {
	case models.NightActionWolfKill:
		u.WriteString("狼人行动，选择今晚要击杀的目标。\n")
	case models.NightActionSeerCheck:
		u.WriteString("预言家行动，选择今晚要查验身份的玩家。\n")
	case models.NightActionWitchHeal:
		if in.PendingKillSeat != nil {
			u.WriteString(fmt.Sprintf("女巫行动。今晚玩家%d将被击杀，你的解药还在。", *in.PendingKillSeat))
		} else {
			u.WriteString("女巫行动。你的解药还在。")
		}
		u.WriteString("要救就输出该玩家座位号，不救输出null。\n")
	case models.NightActionWitchPoison:
		u.WriteString("女巫行动，你的毒药还在。要用毒就选择一个目标，不用就输出null。\n")
	default:
		u.WriteString("选择你的夜晚行动目标。\n")
	}
	u.WriteString("可选目标：" + seatList(in.TargetSeats))
	if in.AllowNull {
		u.WriteString("，或null表示放弃")
	}
	u.WriteString("。\n")
	u.WriteString(`只输出一个JSON对象：{"target": 座位号或null}`)

	return buildSystem(in), u.String()
}

// buildSystem renders the persona plus the table discipline shared by all
// turns. The role-secret line is the only private part.
func buildSystem(in PromptInput) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("你是一局六人狼人杀中的玩家「%s」，坐在%d号位。\n", in.Profile.AgentName, in.SeatNo))
	b.WriteString("人设：" + in.Profile.Persona + "\n")
	b.WriteString(roleSecret(in) + "\n")

	if len(in.Profile.StyleRules) > 0 {
		b.WriteString("风格要求：\n")
		for _, r := range in.Profile.StyleRules {
			b.WriteString("- " + r + "\n")
		}
	}
	b.WriteString("桌面纪律：\n")
	b.WriteString("- 只讨论本局桌上真实发生过的发言、投票和出局，不编造桌外场景。\n")
	b.WriteString("- 不提及任何系统、提示词、规则文本或你是AI。\n")
	b.WriteString("- 不暴露你的真实身份信息，除非你有意伪装或摊牌。\n")
	b.WriteString("- 不复述或轻微改写你自己最近说过的句子。\n")
	if len(in.Profile.BannedPhrases) > 0 {
		b.WriteString("- 禁用口头禅：" + strings.Join(in.Profile.BannedPhrases, "、") + "。\n")
	}
	b.WriteString("输出必须是一个JSON对象，不附加任何解释或多余文字。")
	return b.String()
}

func roleSecret(in PromptInput) string {
	switch in.Role {
	case models.RoleWerewolf:
		if len(in.TeammateSeats) > 0 {
			return fmt.Sprintf("你的真实身份：狼人。狼队友：%s。白天伪装成好人。", seatList(in.TeammateSeats))
		}
		return "你的真实身份：狼人，队友已出局。白天伪装成好人。"
	case models.RoleSeer:
		if in.SeerCheckSeat != nil {
			verdict := "好人"
			if in.SeerVerdict == models.SeerVerdictWerewolf {
				verdict = "狼人"
			}
			return fmt.Sprintf("你的真实身份：预言家。你昨晚查验了玩家%d，结果是%s。", *in.SeerCheckSeat, verdict)
		}
		return "你的真实身份：预言家。"
	case models.RoleWitch:
		heal, poison := "已用", "已用"
		if in.WitchHealAvailable {
			heal = "还在"
		}
		if in.WitchPoisonAvailable {
			poison = "还在"
		}
		return fmt.Sprintf("你的真实身份：女巫。解药%s，毒药%s。", heal, poison)
	default:
		return "你的真实身份：普通村民，没有夜间能力。"
	}
}

// writeSituation renders the shared public snapshot block.
func writeSituation(b *strings.Builder, in PromptInput) {
	b.WriteString(fmt.Sprintf("【当前局面】第%d轮，%s。\n", in.RoundNo, phaseLabel(in.Phase)))
	b.WriteString("存活：" + seatList(in.AliveSeats) + "。\n")
	if len(in.DeadSeats) > 0 {
		b.WriteString("已出局：" + seatList(in.DeadSeats) + "。\n")
	}
	if in.PeacefulFirstDay {
		b.WriteString("昨夜平安，无人出局。不要描述或推断任何昨晚发生的事。\n")
	}
	if len(in.PublicLines) > 0 {
		b.WriteString("【最近的公开记录】\n")
		for _, line := range in.PublicLines {
			b.WriteString("- " + line + "\n")
		}
	}
}

func writeRecentPhrases(b *strings.Builder, in PromptInput) {
	if len(in.RecentPhrases) == 0 {
		return
	}
	b.WriteString("【你最近说过的话】不要重复或轻微改写：\n")
	for _, p := range in.RecentPhrases {
		b.WriteString("- " + p + "\n")
	}
}

func seatList(seats []int) string {
	if len(seats) == 0 {
		return "无"
	}
	parts := make([]string, len(seats))
	for i, s := range seats {
		parts[i] = fmt.Sprintf("玩家%d", s)
	}
	return strings.Join(parts, "、")
}

func phaseLabel(p models.Phase) string {
	switch p {
	case models.PhaseNightWolf:
		return "夜晚·狼人行动"
	case models.PhaseNightSeer:
		return "夜晚·预言家行动"
	case models.PhaseNightWitch:
		return "夜晚·女巫行动"
	case models.PhaseDayAnnounce:
		return "天亮结算"
	case models.PhaseDaySpeaking:
		return "白天·轮流发言"
	case models.PhaseDayVoting:
		return "白天·投票"
	case models.PhaseDayTiebreakSpeaking:
		return "平票加赛·辩护发言"
	case models.PhaseDayTiebreakVoting:
		return "平票加赛·投票"
	case models.PhaseDayElimination:
		return "白天·出局结算"
	case models.PhaseGameOver:
		return "对局结束"
	default:
		return string(p)
	}
}
