package game

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonhollow/werewolf-arena/internal/models"
)

func testPlayer(seat int, role models.Role, alive bool) *models.Player {
	p := &models.Player{
		ID:     uuid.New(),
		SeatNo: seat,
		Role:   role,
		Alive:  alive,
	}
	p.Memory.Normalize()
	return p
}

func TestUniquePlurality_Consensus(t *testing.T) {
	w1, w2, w3 := uuid.New(), uuid.New(), uuid.New()
	a, b := uuid.New(), uuid.New()

	t.Run("no ballots", func(t *testing.T) {
		assert.Nil(t, uniquePlurality(map[uuid.UUID]uuid.UUID{}), "an empty night has no consensus")
	})

	t.Run("unanimous", func(t *testing.T) {
		got := uniquePlurality(map[uuid.UUID]uuid.UUID{w1: a, w2: a})
		require.NotNil(t, got)
		assert.Equal(t, a, *got)
	})

	t.Run("split pair", func(t *testing.T) {
		assert.Nil(t, uniquePlurality(map[uuid.UUID]uuid.UUID{w1: a, w2: b}), "a 1:1 split kills nobody")
	})

	t.Run("majority of three", func(t *testing.T) {
		got := uniquePlurality(map[uuid.UUID]uuid.UUID{w1: a, w2: a, w3: b})
		require.NotNil(t, got)
		assert.Equal(t, a, *got, "two of three ballots settle the target")
	})
}

func TestVoteLeaders_TopCountSeatOrder(t *testing.T) {
	p1 := testPlayer(1, models.RoleWerewolf, true)
	p2 := testPlayer(2, models.RoleVillager, true)
	p3 := testPlayer(3, models.RoleSeer, true)
	p4 := testPlayer(4, models.RoleVillager, true)
	players := []*models.Player{p4, p1, p3, p2}

	leaders := voteLeaders(map[uuid.UUID]int{p3.ID: 2, p1.ID: 2, p4.ID: 1}, players)
	require.Len(t, leaders, 2, "both top-count seats lead")
	assert.Equal(t, 1, leaders[0].SeatNo, "leaders come back in seat order regardless of input order")
	assert.Equal(t, 3, leaders[1].SeatNo)

	leaders = voteLeaders(map[uuid.UUID]int{p2.ID: 3, p3.ID: 1}, players)
	require.Len(t, leaders, 1)
	assert.Equal(t, p2.ID, leaders[0].ID)
}

func TestRemoveID_KeepsOrder(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	got := removeID([]uuid.UUID{a, b, c}, b)
	assert.Equal(t, []uuid.UUID{a, c}, got)

	got = removeID([]uuid.UUID{a, c}, uuid.New())
	assert.Equal(t, []uuid.UUID{a, c}, got, "removing an absent id changes nothing")

	assert.Empty(t, removeID([]uuid.UUID{a}, a))
}

func TestEvaluateWinner_Parity(t *testing.T) {
	tests := []struct {
		name    string
		players []*models.Player
		want    *models.WinnerSide
	}{
		{
			name: "wolves all dead",
			players: []*models.Player{
				testPlayer(1, models.RoleWerewolf, false),
				testPlayer(2, models.RoleWerewolf, false),
				testPlayer(3, models.RoleSeer, true),
				testPlayer(4, models.RoleVillager, true),
			},
			want: winnerPtr(models.WinnerGoodSide),
		},
		{
			name: "parity",
			players: []*models.Player{
				testPlayer(1, models.RoleWerewolf, true),
				testPlayer(2, models.RoleWerewolf, true),
				testPlayer(3, models.RoleSeer, true),
				testPlayer(4, models.RoleWitch, true),
			},
			want: winnerPtr(models.WinnerWerewolfSide),
		},
		{
			name: "wolves outnumber",
			players: []*models.Player{
				testPlayer(1, models.RoleWerewolf, true),
				testPlayer(2, models.RoleWerewolf, true),
				testPlayer(3, models.RoleVillager, true),
			},
			want: winnerPtr(models.WinnerWerewolfSide),
		},
		{
			name: "game still open",
			players: []*models.Player{
				testPlayer(1, models.RoleWerewolf, true),
				testPlayer(2, models.RoleSeer, true),
				testPlayer(3, models.RoleVillager, true),
			},
			want: nil,
		},
		{
			name: "dead seats do not count",
			players: []*models.Player{
				testPlayer(1, models.RoleWerewolf, false),
				testPlayer(2, models.RoleVillager, true),
				testPlayer(3, models.RoleVillager, false),
			},
			want: winnerPtr(models.WinnerGoodSide),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateWinner(tt.players)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func winnerPtr(w models.WinnerSide) *models.WinnerSide { return &w }

func TestRefreshFocus_TopTwoSuspects(t *testing.T) {
	x := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	y := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	z := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	p := testPlayer(1, models.RoleVillager, true)
	p.Memory.SuspectMap = map[uuid.UUID]float64{
		x: 0.9,
		y: 0.4,
		z: 1.2,
		uuid.MustParse("44444444-4444-4444-4444-444444444444"): 0,
	}
	refreshFocus(p)
	assert.Equal(t, []uuid.UUID{z, x}, p.Memory.FocusTargets, "focus keeps the two highest positive suspicions")

	p.Memory.SuspectMap = map[uuid.UUID]float64{y: 0.5, x: 0.5}
	refreshFocus(p)
	assert.Equal(t, []uuid.UUID{x, y}, p.Memory.FocusTargets, "equal scores order by id so the pick is stable")

	p.Memory.SuspectMap = map[uuid.UUID]float64{}
	refreshFocus(p)
	assert.Empty(t, p.Memory.FocusTargets)
}

func TestVoteCandidates_Modes(t *testing.T) {
	p1 := testPlayer(1, models.RoleVillager, true)
	p2 := testPlayer(2, models.RoleWerewolf, true)
	p3 := testPlayer(3, models.RoleSeer, true)
	p4 := testPlayer(4, models.RoleWitch, true)
	p5 := testPlayer(5, models.RoleVillager, false)
	players := []*models.Player{p1, p2, p3, p4, p5}

	g := &models.Game{State: models.GameState{}}
	got := voteCandidates(g, players, p1)
	assert.Equal(t, []int{2, 3, 4}, seatsOf(got), "the ballot is every living seat but the voter")

	g.State.IsTiebreak = true
	g.State.TieCandidates = []uuid.UUID{p2.ID, p4.ID, p5.ID}
	got = voteCandidates(g, players, p2)
	assert.Equal(t, []int{4}, seatsOf(got), "a tiebreak ballot holds only the living co-candidates")

	got = voteCandidates(g, players, p3)
	assert.Equal(t, []int{2, 4}, seatsOf(got), "dead candidates drop off the runoff ballot")
}

func TestNextVoter_DropsDeadHeads(t *testing.T) {
	dead := testPlayer(1, models.RoleVillager, false)
	b := testPlayer(2, models.RoleVillager, true)
	c := testPlayer(3, models.RoleSeer, true)
	players := []*models.Player{dead, b, c}

	g := &models.Game{State: models.GameState{
		VotersPending: []uuid.UUID{dead.ID, b.ID, c.ID},
	}}
	got := nextVoter(g, players)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID, "dead entries at the head are skipped")
	assert.Equal(t, []uuid.UUID{b.ID, c.ID}, g.State.VotersPending, "the dead head is consumed, the live one is not")

	g.State.VotersPending = []uuid.UUID{dead.ID}
	assert.Nil(t, nextVoter(g, players))
	assert.Empty(t, g.State.VotersPending)
}
