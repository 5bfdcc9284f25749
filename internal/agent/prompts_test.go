package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

// TestBuildSpeechPrompts_SystemCarriesPersona tests that the system prompt
// seats the persona and keeps its banned phrases visible.
func TestBuildSpeechPrompts_SystemCarriesPersona(t *testing.T) {
	in := speechInput(3)
	system, user := BuildSpeechPrompts(in)

	assert.Contains(t, system, "坐在3号位")
	assert.Contains(t, system, in.Profile.AgentName)
	assert.Contains(t, system, "禁用口头禅")
	assert.Contains(t, system, "普通村民", "a villager gets the no-ability secret")

	assert.Contains(t, user, "【任务】发言")
	assert.Contains(t, user, "10到38个字")
	assert.NotContains(t, user, "辩护", "plain speech is not a tiebreak defense")
}

// TestBuildSpeechPrompts_TiebreakDefense tests the defense framing for tied
// candidates.
func TestBuildSpeechPrompts_TiebreakDefense(t *testing.T) {
	in := speechInput(3)
	in.IsTiebreak = true
	in.Phase = models.PhaseDayTiebreakSpeaking
	_, user := BuildSpeechPrompts(in)

	assert.Contains(t, user, "辩护发言")
}

// TestBuildVotePrompts_ListsBallot tests the ballot rendering and the
// tiebreak restriction line.
func TestBuildVotePrompts_ListsBallot(t *testing.T) {
	in := voteInput(3, []int{2, 4})
	_, user := BuildVotePrompts(in)

	assert.Contains(t, user, "【任务】投票")
	assert.Contains(t, user, "可投目标：玩家2、玩家4。")
	assert.Contains(t, user, "14到34个字")
	assert.NotContains(t, user, "平票加赛")

	in.IsTiebreak = true
	in.Phase = models.PhaseDayTiebreakVoting
	_, user = BuildVotePrompts(in)
	assert.Contains(t, user, "平票加赛")
}

// TestBuildNightPrompts_WitchHeal tests that the heal ask names the victim
// and offers the null pass.
func TestBuildNightPrompts_WitchHeal(t *testing.T) {
	kill := 5
	in := speechInput(4)
	in.Role = models.RoleWitch
	in.Phase = models.PhaseNightWitch
	in.NightAction = models.NightActionWitchHeal
	in.TargetSeats = []int{kill}
	in.PendingKillSeat = &kill
	in.WitchHealAvailable = true
	in.WitchPoisonAvailable = true
	in.AllowNull = true

	system, user := BuildNightPrompts(in)

	assert.Contains(t, system, "女巫")
	assert.Contains(t, system, "解药还在")
	assert.Contains(t, user, "今晚玩家5将被击杀")
	assert.Contains(t, user, "或null表示放弃")
}

// TestBuildNightPrompts_WolfKill tests the wolf ask and teammate secret.
func TestBuildNightPrompts_WolfKill(t *testing.T) {
	in := speechInput(1)
	in.Role = models.RoleWerewolf
	in.Phase = models.PhaseNightWolf
	in.NightAction = models.NightActionWolfKill
	in.TargetSeats = []int{3, 4, 5, 6}
	in.TeammateSeats = []int{2}

	system, user := BuildNightPrompts(in)

	assert.Contains(t, system, "狼队友：玩家2")
	assert.Contains(t, user, "狼人行动")
	assert.Contains(t, user, "可选目标：玩家3、玩家4、玩家5、玩家6。")
}

// TestBuildPrompts_SeerSecretCarriesLastVerdict tests the seer's private
// check line.
func TestBuildPrompts_SeerSecretCarriesLastVerdict(t *testing.T) {
	checked := 2
	in := speechInput(3)
	in.Role = models.RoleSeer
	in.SeerCheckSeat = &checked
	in.SeerVerdict = models.SeerVerdictWerewolf

	system, _ := BuildSpeechPrompts(in)
	assert.Contains(t, system, "查验了玩家2，结果是狼人")
}

// TestBuildPrompts_PeacefulFirstDay tests the no-invention line on a
// deathless first dawn.
func TestBuildPrompts_PeacefulFirstDay(t *testing.T) {
	in := speechInput(3)
	in.RoundNo = 1
	in.PeacefulFirstDay = true

	_, user := BuildSpeechPrompts(in)
	assert.Contains(t, user, "昨夜平安")
}

// TestBuildPrompts_RecentPhrasesListed tests that the actor's recent output
// is quoted back as a do-not-repeat block.
func TestBuildPrompts_RecentPhrasesListed(t *testing.T) {
	in := speechInput(3)
	in.RecentPhrases = []string{"我先听一圈大家的看法。"}

	_, user := BuildSpeechPrompts(in)
	require.Contains(t, user, "不要重复或轻微改写")
	assert.Contains(t, user, "我先听一圈大家的看法。")
}
