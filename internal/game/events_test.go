package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

func TestRenderEventLine_AllKinds(t *testing.T) {
	wolf := models.RoleWerewolf
	tests := []struct {
		name string
		ev   *models.RoundEvent
		want string
	}{
		{
			name: "speech",
			ev: &models.RoundEvent{RoundNo: 2, EventType: models.EventSpeech,
				Payload: models.EventPayload{SeatNo: 3, Text: "我先听大家的看法。"}},
			want: "第2轮 玩家3发言：我先听大家的看法。",
		},
		{
			name: "skip",
			ev: &models.RoundEvent{RoundNo: 1, EventType: models.EventSpeechSkip,
				Payload: models.EventPayload{SeatNo: 1}},
			want: "第1轮 玩家1选择过麦不发言",
		},
		{
			name: "vote",
			ev: &models.RoundEvent{RoundNo: 1, EventType: models.EventVote,
				Payload: models.EventPayload{SeatNo: 2, TargetSeat: 5, Reason: "票型对不上"}},
			want: "第1轮 玩家2投给玩家5：票型对不上",
		},
		{
			name: "vote reveal",
			ev: &models.RoundEvent{RoundNo: 1, EventType: models.EventVoteReveal,
				Payload: models.EventPayload{VoteCounts: map[string]int{"5": 3, "2": 1}}},
			want: "第1轮 票型公布：玩家5得3票，玩家2得1票",
		},
		{
			name: "elimination with role",
			ev: &models.RoundEvent{RoundNo: 1, EventType: models.EventElimination,
				Payload: models.EventPayload{SeatNo: 5, Role: &wolf}},
			want: "第1轮 玩家5被投票出局，身份是狼人",
		},
		{
			name: "elimination without role",
			ev: &models.RoundEvent{RoundNo: 1, EventType: models.EventElimination,
				Payload: models.EventPayload{SeatNo: 5}},
			want: "第1轮 玩家5被投票出局",
		},
		{
			name: "peaceful dawn",
			ev:   &models.RoundEvent{RoundNo: 1, EventType: models.EventDayAnnounce},
			want: "第1轮 天亮：昨夜平安，无人出局",
		},
		{
			name: "dawn with deaths",
			ev: &models.RoundEvent{RoundNo: 2, EventType: models.EventDayAnnounce,
				Payload: models.EventPayload{Deaths: []int{3, 6}}},
			want: "第2轮 天亮：昨夜玩家3、玩家6出局",
		},
		{
			name: "death reveal",
			ev: &models.RoundEvent{RoundNo: 2, EventType: models.EventDeathReveal,
				Payload: models.EventPayload{SeatNo: 6}},
			want: "第2轮 玩家6昨夜出局",
		},
		{
			name: "gm notice passes through",
			ev: &models.RoundEvent{RoundNo: 1, EventType: models.EventGMNotice,
				Payload: models.EventPayload{Message: "天黑请闭眼。"}},
			want: "天黑请闭眼。",
		},
		{
			name: "game over fallback",
			ev:   &models.RoundEvent{RoundNo: 2, EventType: models.EventGameOver},
			want: "游戏结束",
		},
		{
			name: "scaffolding renders nothing",
			ev:   &models.RoundEvent{RoundNo: 1, EventType: models.EventTurnStart},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderEventLine(tt.ev))
		})
	}
}

func TestRenderVoteCounts_Ordering(t *testing.T) {
	assert.Equal(t, "无人得票", renderVoteCounts(nil))

	got := renderVoteCounts(map[string]int{"2": 1, "6": 3, "4": 1})
	assert.Equal(t, "玩家6得3票，玩家2得1票，玩家4得1票", got, "counts sort by votes then by seat string")
}

func TestRoleLabel(t *testing.T) {
	assert.Equal(t, "狼人", roleLabel(models.RoleWerewolf))
	assert.Equal(t, "预言家", roleLabel(models.RoleSeer))
	assert.Equal(t, "女巫", roleLabel(models.RoleWitch))
	assert.Equal(t, "村民", roleLabel(models.RoleVillager))
}

func TestRecentPublicLines_FilterAndWindow(t *testing.T) {
	events := []*models.RoundEvent{
		{EventType: models.EventSpeech, IsPublic: true, RoundNo: 1,
			Payload: models.EventPayload{SeatNo: 1, Text: "第一句。"}},
		// Private rows never reach a prompt.
		{EventType: models.EventNightAction, IsPublic: false, RoundNo: 1,
			Payload: models.EventPayload{SeatNo: 2, Action: "wolf_kill"}},
		// Public scaffolding is filtered by type.
		{EventType: models.EventTurnStart, IsPublic: true, RoundNo: 1},
		{EventType: models.EventGMNotice, IsPublic: true, RoundNo: 1,
			Payload: models.EventPayload{Message: "进入投票。"}},
	}
	lines := recentPublicLines(events)
	require.Len(t, lines, 2)
	assert.Equal(t, "第1轮 玩家1发言：第一句。", lines[0])
	assert.Equal(t, "进入投票。", lines[1])

	var many []*models.RoundEvent
	for i := 1; i <= promptLineWindow+5; i++ {
		many = append(many, &models.RoundEvent{
			EventType: models.EventSpeech, IsPublic: true, RoundNo: 1,
			Payload: models.EventPayload{SeatNo: 1, Text: fmt.Sprintf("第%d句。", i)},
		})
	}
	lines = recentPublicLines(many)
	require.Len(t, lines, promptLineWindow, "the prompt window keeps only the tail")
	assert.Contains(t, lines[0], fmt.Sprintf("第%d句。", 6), "older lines fall out of the window")
	assert.Contains(t, lines[len(lines)-1], fmt.Sprintf("第%d句。", promptLineWindow+5))
}
