package agent

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProfileFor_UnknownKeyFallsBack tests that a bad strategy key resolves
// to the steady profile instead of a zero value.
func TestProfileFor_UnknownKeyFallsBack(t *testing.T) {
	p := ProfileFor("no_such_strategy")
	assert.Equal(t, StrategySteadyConservative, p.Key)
	assert.NotEmpty(t, p.AgentName)

	for _, key := range SlotOrder {
		assert.Equal(t, key, ProfileFor(key).Key)
	}
}

// TestResolveDecode_DeterministicPerAgent tests that the per-agent jitter is
// a pure function of the agent id.
func TestResolveDecode_DeterministicPerAgent(t *testing.T) {
	profile := ProfileFor(StrategySteadyConservative)
	id := uuid.New()

	first := ResolveDecode(profile, id, 1, false, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ResolveDecode(profile, id, 1, false, false), "iteration %d", i)
	}

	// Jitter stays inside its advertised band.
	assert.InDelta(t, profile.Decode.Temperature, first.Temperature, 0.06+1e-9)
	assert.InDelta(t, profile.Decode.TopP, first.TopP, 0.03+1e-9)

	// Across many agents the jitter actually spreads.
	seen := map[float64]bool{}
	for i := 0; i < 40; i++ {
		seen[ResolveDecode(profile, uuid.New(), 1, false, false).Temperature] = true
	}
	assert.Greater(t, len(seen), 1, "distinct agents should not share one temperature")
}

// TestResolveDecode_LateRoundsRunHotter tests the round-three temperature
// bump.
func TestResolveDecode_LateRoundsRunHotter(t *testing.T) {
	profile := ProfileFor(StrategySteadyConservative)
	id := uuid.New()

	early := ResolveDecode(profile, id, 1, false, false)
	late := ResolveDecode(profile, id, 3, false, false)

	assert.InDelta(t, 0.06, late.Temperature-early.Temperature, 1e-9)
	assert.Equal(t, early.TopP, late.TopP)
}

// TestResolveDecode_TiebreakWidensTopP tests the tiebreak adjustment.
func TestResolveDecode_TiebreakWidensTopP(t *testing.T) {
	profile := ProfileFor(StrategySteadyConservative)
	id := uuid.New()

	plain := ResolveDecode(profile, id, 2, false, false)
	tiebreak := ResolveDecode(profile, id, 2, true, false)

	assert.InDelta(t, 0.02, tiebreak.TopP-plain.TopP, 1e-9)
}

// TestResolveDecode_NightRunsColdAndShort tests the night overrides: lower
// temperature, hard token cap.
func TestResolveDecode_NightRunsColdAndShort(t *testing.T) {
	profile := ProfileFor(StrategyAggressiveAnalyst)
	id := uuid.New()

	day := ResolveDecode(profile, id, 2, false, false)
	night := ResolveDecode(profile, id, 2, false, true)

	assert.InDelta(t, -0.08, night.Temperature-day.Temperature, 1e-9)
	assert.Equal(t, 96, night.MaxTokens)
	assert.Equal(t, 220, day.MaxTokens, "day turns keep the profile budget")
}

// TestResolveDecode_Clamps tests that extreme profiles stay inside the
// provider-safe band.
func TestResolveDecode_Clamps(t *testing.T) {
	hot := Profile{Decode: profiles[StrategyChaosDisruptor].Decode}
	hot.Decode.Temperature = 2.0
	hot.Decode.TopP = 1.5
	d := ResolveDecode(hot, uuid.New(), 3, true, false)
	assert.Equal(t, 1.30, d.Temperature)
	assert.Equal(t, 0.99, d.TopP)

	cold := Profile{Decode: profiles[StrategySteadyConservative].Decode}
	cold.Decode.Temperature = -1.0
	cold.Decode.TopP = 0.0
	d = ResolveDecode(cold, uuid.New(), 1, false, true)
	assert.Equal(t, 0.10, d.Temperature)
	assert.Equal(t, 0.50, d.TopP)
}

// TestProfiles_CarryDistinctVoices tests the persona table invariants the
// prompt layer depends on.
func TestProfiles_CarryDistinctVoices(t *testing.T) {
	names := map[string]bool{}
	for _, key := range SlotOrder {
		p := ProfileFor(key)
		require.NotEmpty(t, p.AgentName, "profile %s", key)
		require.NotEmpty(t, p.Persona, "profile %s", key)
		assert.False(t, names[p.AgentName], "agent name %q reused", p.AgentName)
		names[p.AgentName] = true
		assert.Greater(t, p.Decode.Temperature, 0.0, "profile %s", key)
		assert.Greater(t, p.Decode.MaxTokens, 0, "profile %s", key)
	}
	assert.Len(t, names, 5)
}
