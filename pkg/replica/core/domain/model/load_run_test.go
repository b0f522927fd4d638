package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

func TestLoadStatus_CodesRoundTrip(t *testing.T) {
	for _, s := range []model.LoadStatus{
		model.StatusPreparing, model.StatusReady, model.StatusSuccessful,
		model.StatusFailed, model.StatusBackTrack, model.StatusInitialize,
	} {
		parsed, err := model.ParseLoadStatus(s.Code())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := model.ParseLoadStatus("X")
	assert.Error(t, err)
	assert.False(t, model.LoadStatus(0).Valid())
}

func TestNextRun(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	prevEnd := now.Add(-30 * time.Minute)

	t.Run("cold start", func(t *testing.T) {
		next, err := model.NextRun(nil, 120, now)
		require.NoError(t, err)
		assert.Equal(t, model.TypeHistoric, next.Type)
		assert.Equal(t, model.NoBaseline, next.FirstVersion)
		assert.Equal(t, model.ChangeMarker(120), next.LastVersion)
		assert.Equal(t, model.StatusPreparing, next.Status)
	})

	t.Run("after initialize", func(t *testing.T) {
		prev := &model.LoadRun{ID: 4, Status: model.StatusInitialize, FirstVersion: 50, LastVersion: 90}
		next, err := model.NextRun(prev, 120, now)
		require.NoError(t, err)
		assert.Equal(t, model.TypeHistoric, next.Type)
		assert.Equal(t, model.NoBaseline, next.FirstVersion)
	})

	t.Run("after successful resumes from ending marker", func(t *testing.T) {
		prev := &model.LoadRun{ID: 5, Status: model.StatusSuccessful, FirstVersion: 50, LastVersion: 90, From: earlier, To: prevEnd}
		next, err := model.NextRun(prev, 120, now)
		require.NoError(t, err)
		assert.Equal(t, model.TypeDelta, next.Type)
		assert.Equal(t, model.ChangeMarker(90), next.FirstVersion)
		assert.Equal(t, prevEnd, next.From)
		assert.Equal(t, model.ChangeMarker(120), next.LastVersion)
	})

	for _, st := range []model.LoadStatus{model.StatusFailed, model.StatusBackTrack} {
		t.Run("after "+st.String()+" replays from starting marker", func(t *testing.T) {
			prev := &model.LoadRun{ID: 6, Status: st, FirstVersion: 50, LastVersion: 90, From: earlier, To: prevEnd}
			next, err := model.NextRun(prev, 120, now)
			require.NoError(t, err)
			assert.Equal(t, model.TypeDelta, next.Type)
			assert.Equal(t, model.ChangeMarker(50), next.FirstVersion)
			assert.Equal(t, earlier, next.From)
		})
	}

	for _, st := range []model.LoadStatus{model.StatusPreparing, model.StatusReady} {
		t.Run("refuses after "+st.String(), func(t *testing.T) {
			_, err := model.NextRun(&model.LoadRun{ID: 7, Status: st}, 120, now)
			assert.Error(t, err)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, model.CanTransition(model.StatusReady, model.StatusSuccessful))
	assert.True(t, model.CanTransition(model.StatusFailed, model.StatusBackTrack))
	assert.True(t, model.CanTransition(model.StatusSuccessful, model.StatusInitialize))
	assert.True(t, model.CanTransition(model.StatusPreparing, model.StatusInitialize))
	assert.True(t, model.CanTransition(model.StatusPreparing, model.StatusFailed))
	assert.False(t, model.CanTransition(model.StatusReady, model.StatusFailed))
	assert.False(t, model.CanTransition(model.StatusInitialize, model.StatusInitialize))
	assert.False(t, model.CanTransition(model.StatusReady, model.StatusBackTrack))
	assert.False(t, model.CanTransition(model.StatusReady, model.StatusPreparing))
}
