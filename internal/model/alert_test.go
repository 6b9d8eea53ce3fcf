package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/chatsync/internal/model"
)

func TestAlert_Content(t *testing.T) {
	assert.Equal(t, "Call mom", model.Alert{Title: "Call mom"}.Content())
	assert.Equal(t, "Call mom: about the trip", model.Alert{Title: "Call mom", Body: "about the trip"}.Content())
}

func TestAlert_EffectivePriority(t *testing.T) {
	assert.Equal(t, model.AlertPriorityMedium, model.Alert{}.EffectivePriority())
	assert.Equal(t, model.AlertPriorityHigh, model.Alert{Priority: model.AlertPriorityHigh}.EffectivePriority())
}

func TestAlert_IsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, model.Alert{Status: model.AlertStatusActive, DueAt: &past}.IsDue(now))
	assert.False(t, model.Alert{Status: model.AlertStatusActive, DueAt: &future}.IsDue(now))
	assert.False(t, model.Alert{Status: model.AlertStatusDone, DueAt: &past}.IsDue(now))
	assert.False(t, model.Alert{Status: model.AlertStatusActive}.IsDue(now))
}

func TestAlert_UnmarshalIgnoresBadDueAt(t *testing.T) {
	var a model.Alert
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a1","title":"x","due_at":"someday"}`), &a))
	assert.Equal(t, "a1", a.ID)
	assert.Nil(t, a.DueAt)
}
