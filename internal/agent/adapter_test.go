package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/llm"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

// scriptedClient replays canned model output, one reply per call; the last
// reply repeats once the script runs out.
type scriptedClient struct {
	mu      sync.Mutex
	calls   int
	replies []string
}

func (c *scriptedClient) ChatJSON(_ context.Context, _, _ string, _ models.DecodeConfig) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	return c.replies[i], nil
}

type failingClient struct {
	mu    sync.Mutex
	calls int
}

func (c *failingClient) ChatJSON(_ context.Context, _, _ string, _ models.DecodeConfig) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "", errors.New("model unavailable")
}

func newAdapter(client llm.Client, retries int) *TurnAdapter {
	return NewTurnAdapter(client, NewValidator(0.45, 0.46), zap.NewNop(), retries)
}

func speechInput(seat int) PromptInput {
	return PromptInput{
		Profile:    ProfileFor(StrategySteadyConservative),
		SeatNo:     seat,
		Role:       models.RoleVillager,
		RoundNo:    2,
		Phase:      models.PhaseDaySpeaking,
		AliveSeats: []int{1, 2, 3, 4, 5, 6},
	}
}

func voteInput(seat int, targets []int) PromptInput {
	in := speechInput(seat)
	in.Phase = models.PhaseDayVoting
	in.TargetSeats = targets
	return in
}

// TestSpeech_ParsesProseWrappedReply tests that JSON buried in prose and code
// fences is still extracted.
func TestSpeech_ParsesProseWrappedReply(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"好的，我的发言如下：\n```json\n{\"speech\":\"玩家2的发言集中在票型上，我暂时信任他。\"}\n```",
	}}
	a := newAdapter(client, 2)

	out := a.Speech(context.Background(), speechInput(3), models.DecodeConfig{}, testContext())

	require.False(t, out.Fallback)
	assert.Equal(t, "玩家2的发言集中在票型上，我暂时信任他。", out.Text)
	assert.Equal(t, 1, client.calls, "a clean first reply needs no retry")
}

// TestSpeech_RetriesRejectionThenAccepts tests the reject-and-reask loop.
func TestSpeech_RetriesRejectionThenAccepts(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"speech":"我不太确定，先随大流看一看吧。"}`,
		`{"speech":"玩家4的投票时机很微妙，我记下了。"}`,
	}}
	a := newAdapter(client, 2)
	vctx := testContext()
	vctx.BannedPhrases = []string{"我不太确定"}

	out := a.Speech(context.Background(), speechInput(3), models.DecodeConfig{}, vctx)

	require.False(t, out.Fallback)
	assert.Equal(t, "玩家4的投票时机很微妙，我记下了。", out.Text)
	assert.Equal(t, 2, client.calls, "one rejection, one re-ask")
}

// TestSpeech_FallsBackWhenAttemptsExhausted tests the deterministic speech
// fallback. The fallback skips validation so a degraded model cannot stall
// the table.
func TestSpeech_FallsBackWhenAttemptsExhausted(t *testing.T) {
	client := &scriptedClient{replies: []string{"完全不是JSON的回复"}}
	a := newAdapter(client, 2)

	out := a.Speech(context.Background(), speechInput(3), models.DecodeConfig{}, testContext())

	assert.True(t, out.Fallback)
	assert.Equal(t, fallbackSpeech, out.Text)
	assert.Equal(t, 3, client.calls, "initial attempt plus two retries")
}

// TestSpeech_FallsBackOnTransportErrors tests that call errors burn attempts
// the same way rejections do.
func TestSpeech_FallsBackOnTransportErrors(t *testing.T) {
	client := &failingClient{}
	a := newAdapter(client, 1)

	out := a.Speech(context.Background(), speechInput(3), models.DecodeConfig{}, testContext())

	assert.True(t, out.Fallback)
	assert.Equal(t, 2, client.calls)
}

// TestVote_CoercesSeatValues tests that the target survives the common model
// drifts: bare number, digit string, and a 玩家N label.
func TestVote_CoercesSeatValues(t *testing.T) {
	for _, raw := range []string{`4`, `"4"`, `"玩家4"`} {
		client := &scriptedClient{replies: []string{
			fmt.Sprintf(`{"vote_target":%s,"reason":"玩家4的发言和投票前后矛盾，这一票给他。"}`, raw),
		}}
		a := newAdapter(client, 0)

		out := a.Vote(context.Background(), voteInput(3, []int{2, 4, 5}), models.DecodeConfig{}, testContext(), nil, rand.New(rand.NewSource(7)))

		require.False(t, out.Fallback, "raw form %s", raw)
		assert.Equal(t, 4, out.TargetSeat, "raw form %s", raw)
		assert.Equal(t, "玩家4的发言和投票前后矛盾，这一票给他。", out.Reason)
	}
}

// TestVote_OutOfRangeTargetFallsBack tests that a target outside the ballot
// burns the attempt and that the fallback honors the exclusion list.
func TestVote_OutOfRangeTargetFallsBack(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"vote_target":9,"reason":"玩家9的发言和投票前后矛盾，这票给他。"}`,
	}}
	a := newAdapter(client, 1)

	out := a.Vote(context.Background(), voteInput(3, []int{2, 4, 5}), models.DecodeConfig{}, testContext(), []int{4}, rand.New(rand.NewSource(7)))

	require.True(t, out.Fallback)
	assert.Equal(t, 2, client.calls)
	assert.Contains(t, []int{2, 5}, out.TargetSeat, "fallback never picks an excluded seat")
	assert.Contains(t, out.Reason, fmt.Sprintf("玩家%d", out.TargetSeat), "fallback reason names the picked seat")
}

// TestVote_RepairsGenericSelfSeatReason tests the self-seat rewrite: a
// generic reason blaming the voter's own seat is repointed at the vote.
func TestVote_RepairsGenericSelfSeatReason(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"vote_target":5,"reason":"这名玩家发言前后矛盾，玩家3的票也有问题。"}`,
	}}
	a := newAdapter(client, 0)

	out := a.Vote(context.Background(), voteInput(3, []int{2, 4, 5}), models.DecodeConfig{}, testContext(), nil, rand.New(rand.NewSource(7)))

	require.False(t, out.Fallback)
	assert.Equal(t, 5, out.TargetSeat)
	assert.Equal(t, "这名玩家发言前后矛盾，玩家5的票也有问题。", out.Reason)
}

// TestRepairVoteReason_LeavesSpecificReasonsAlone tests the three conditions
// that disable the rewrite.
func TestRepairVoteReason_LeavesSpecificReasonsAlone(t *testing.T) {
	// No generic marker: the self reference is deliberate.
	same := "玩家3的发言前后矛盾，这票给他。"
	assert.Equal(t, same, repairVoteReason(same, 3, 5))

	// Target already named: nothing to repoint.
	both := "这名玩家前后矛盾，玩家5比玩家3更可疑。"
	assert.Equal(t, both, repairVoteReason(both, 3, 5))

	// Voting for yourself, nothing to rewrite.
	self := "这名玩家就是玩家3，票型说明一切。"
	assert.Equal(t, self, repairVoteReason(self, 3, 3))
}

// TestNight_NullIsAPassWhenOptional tests the witch declining a charge.
func TestNight_NullIsAPassWhenOptional(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"target":null}`}}
	a := newAdapter(client, 2)

	kill := 5
	in := speechInput(4)
	in.Role = models.RoleWitch
	in.Phase = models.PhaseNightWitch
	in.NightAction = models.NightActionWitchHeal
	in.TargetSeats = []int{kill}
	in.PendingKillSeat = &kill
	in.WitchHealAvailable = true
	in.AllowNull = true

	out := a.Night(context.Background(), in, models.DecodeConfig{}, rand.New(rand.NewSource(7)))

	require.False(t, out.Fallback)
	assert.Nil(t, out.TargetSeat, "null means pass for an optional pick")
	assert.Equal(t, 1, client.calls)
}

// TestNight_MandatoryPickFallsBackToUniform tests that a mandatory pick never
// ends empty: nulls burn attempts, then the rng decides.
func TestNight_MandatoryPickFallsBackToUniform(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"target":null}`}}
	a := newAdapter(client, 2)

	in := speechInput(3)
	in.Role = models.RoleSeer
	in.Phase = models.PhaseNightSeer
	in.NightAction = models.NightActionSeerCheck
	in.TargetSeats = []int{1, 2, 5}

	out := a.Night(context.Background(), in, models.DecodeConfig{}, rand.New(rand.NewSource(7)))

	require.True(t, out.Fallback)
	require.NotNil(t, out.TargetSeat)
	assert.Contains(t, in.TargetSeats, *out.TargetSeat)
	assert.Equal(t, 2, client.calls, "night retries are capped at one")
}

// TestAdapter_NightRetryCap tests that a generous retry budget still caps
// night asks at one retry while utterances keep the full budget.
func TestAdapter_NightRetryCap(t *testing.T) {
	night := &scriptedClient{replies: []string{"无法解析"}}
	a := newAdapter(night, 5)

	in := speechInput(3)
	in.Role = models.RoleSeer
	in.Phase = models.PhaseNightSeer
	in.NightAction = models.NightActionSeerCheck
	in.TargetSeats = []int{1, 2}
	a.Night(context.Background(), in, models.DecodeConfig{}, rand.New(rand.NewSource(7)))
	assert.Equal(t, 2, night.calls)

	day := &scriptedClient{replies: []string{"无法解析"}}
	a = newAdapter(day, 5)
	a.Speech(context.Background(), speechInput(3), models.DecodeConfig{}, testContext())
	assert.Equal(t, 6, day.calls)
}

// TestExtractJSONObject_DepthScan tests brace matching through strings and
// nesting.
func TestExtractJSONObject_DepthScan(t *testing.T) {
	obj, ok := extractJSONObject("前言 {\"speech\":\"含{花括号}的内容\"} 后记")
	require.True(t, ok)
	assert.Equal(t, `{"speech":"含{花括号}的内容"}`, obj)

	_, ok = extractJSONObject(`{"speech":"截断的回复`)
	assert.False(t, ok, "an unbalanced object is not extracted")

	_, ok = extractJSONObject("没有任何JSON对象")
	assert.False(t, ok)
}

// TestParseSeatValue_Forms tests every accepted seat encoding.
func TestParseSeatValue_Forms(t *testing.T) {
	cases := []struct {
		raw  string
		want *int
		err  bool
	}{
		{raw: `3`, want: intPtr(3)},
		{raw: `"5"`, want: intPtr(5)},
		{raw: `"玩家6"`, want: intPtr(6)},
		{raw: `null`, want: nil},
		{raw: ``, want: nil},
		{raw: `"abc"`, err: true},
	}
	for _, tc := range cases {
		got, err := parseSeatValue(json.RawMessage(tc.raw))
		if tc.err {
			assert.Error(t, err, "raw %q", tc.raw)
			continue
		}
		require.NoError(t, err, "raw %q", tc.raw)
		if tc.want == nil {
			assert.Nil(t, got, "raw %q", tc.raw)
		} else {
			require.NotNil(t, got, "raw %q", tc.raw)
			assert.Equal(t, *tc.want, *got, "raw %q", tc.raw)
		}
	}
}

func intPtr(n int) *int { return &n }
