package services

import (
	"testing"
	"time"

	"github.com/qianlnk/werewolf-channels/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, CanTransitionTo(models.PhasePre, models.PhaseDay))
	assert.True(t, CanTransitionTo(models.PhaseDay, models.PhaseNight))
	assert.True(t, CanTransitionTo(models.PhaseNight, models.PhaseDay))
	assert.True(t, CanTransitionTo(models.PhaseNight, models.PhaseFinished))
	assert.False(t, CanTransitionTo(models.PhasePre, models.PhaseNight))
	assert.False(t, CanTransitionTo(models.PhaseFinished, models.PhaseDay))
}

func TestPhaseSequence(t *testing.T) {
	game := NewGameState("s", "c", membersOf("a", "b", "c", "d"))
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sm := NewStateMachine(game, func() time.Time { return clock })

	require.ErrorIs(t, sm.Advance(), ErrStalePhase)
	require.NoError(t, sm.Begin())
	assert.Equal(t, models.GamePhase{Day: 1, Phase: models.PhaseDay, ChangedAt: clock}, game.Phase)

	clock = clock.Add(time.Minute)
	require.NoError(t, sm.Advance())
	assert.Equal(t, 1, game.Phase.Day)
	assert.Equal(t, models.PhaseNight, game.Phase.Phase)
	assert.Equal(t, clock, game.Phase.ChangedAt)

	require.NoError(t, sm.Advance())
	assert.Equal(t, 2, game.Phase.Day)
	assert.Equal(t, models.PhaseDay, game.Phase.Phase)

	require.NoError(t, sm.Finish(models.TeamVillagers))
	assert.Equal(t, models.PhaseFinished, game.Phase.Phase)
	assert.Equal(t, models.TeamVillagers, game.Phase.Winner)
	assert.ErrorIs(t, sm.Advance(), ErrStalePhase)
	assert.ErrorIs(t, sm.CheckStale(models.PhaseFinished, 2), ErrStalePhase)
}

func TestTransitionClearsPendingActions(t *testing.T) {
	game, sm, ar := newFixedGame(t, sevenRoles)
	_, err := ar.Submit(act(game, "f", "a", models.ActionVote))
	require.NoError(t, err)
	require.True(t, game.HasAction(models.ActionVote, "f"))

	require.NoError(t, sm.Advance())
	assert.False(t, game.HasAction(models.ActionVote, "f"))
}

func TestQuorum(t *testing.T) {
	game, sm, ar := newFixedGame(t, sevenRoles)

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		_, err := ar.Submit(act(game, id, "g", models.ActionVote))
		require.NoError(t, err)
		assert.False(t, sm.QuorumReached())
	}
	_, err := ar.Submit(act(game, "g", "a", models.ActionVote))
	require.NoError(t, err)
	assert.True(t, sm.QuorumReached())

	// 夜晚没有死者时灵媒不需要行动
	require.NoError(t, sm.Advance())
	assert.Empty(t, sm.RequiredActions(game.index["e"]))
	assert.Empty(t, sm.RequiredActions(game.index["f"]))
	for _, a := range []models.Action{
		act(game, "a", "f", models.ActionAttack),
		act(game, "b", "f", models.ActionAttack),
		act(game, "c", "a", models.ActionFortune),
	} {
		_, err := ar.Submit(a)
		require.NoError(t, err)
	}
	assert.False(t, sm.QuorumReached())
	_, err = ar.Submit(act(game, "d", "c", models.ActionGuard))
	require.NoError(t, err)
	assert.True(t, sm.QuorumReached())

	game.index["g"].Status = models.Dead
	assert.Equal(t, []models.ActionKind{models.ActionMedium}, sm.RequiredActions(game.index["e"]))
	assert.False(t, sm.QuorumReached())
}

func TestWinner(t *testing.T) {
	game, sm, _ := newFixedGame(t, sevenRoles)

	_, over := sm.Winner()
	assert.False(t, over)

	// 2 狼 vs 3 人
	for _, id := range []string{"c", "d"} {
		game.index[id].Status = models.Dead
	}
	_, over = sm.Winner()
	assert.False(t, over)

	game.index["e"].Status = models.Dead
	winner, over := sm.Winner()
	assert.True(t, over)
	assert.Equal(t, models.TeamWerewolves, winner)

	game.index["a"].Status = models.Dead
	game.index["b"].Status = models.Dead
	winner, over = sm.Winner()
	assert.True(t, over)
	assert.Equal(t, models.TeamVillagers, winner)
}
