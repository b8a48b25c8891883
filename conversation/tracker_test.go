package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
)

func TestTrackerProcessInput(t *testing.T) {
	tracker := NewTracker()

	topic := tracker.ProcessInput("s1", "set a timer and an alarm with a countdown")
	require.NotNil(t, topic)
	assert.Equal(t, "timers", topic.Name)
	assert.Equal(t, 1, topic.MentionCount)

	topic = tracker.ProcessInput("s1", "start the timer, the alarm and a stopwatch countdown")
	require.NotNil(t, topic)
	assert.Equal(t, 2, topic.MentionCount)
	assert.Contains(t, topic.Keywords, "stopwatch", "keywords union across mentions")
	assert.InDelta(t, 1.0, topic.Confidence, 1e-9, "confidence keeps the maximum observed score")

	assert.Nil(t, tracker.ProcessInput("s1", "nothing recognizable here"))
}

func TestTrackerCurrentTopic(t *testing.T) {
	tracker := NewTracker()
	require.NotNil(t, tracker.ProcessInput("s1", "timer alarm countdown"))
	require.NotNil(t, tracker.ProcessInput("s1", "weather forecast rain temperature sunny"))

	current := tracker.CurrentTopic("s1")
	require.NotNil(t, current)
	assert.Equal(t, "weather", current.Name)
	assert.Len(t, tracker.Topics("s1"), 2)

	assert.Nil(t, tracker.CurrentTopic("unknown"))
}

func TestTrackerIntents(t *testing.T) {
	tracker := NewTracker()

	tracker.RecordIntent("s1", "get_weather", core.ConfidenceHigh)
	tracker.RecordIntent("s1", "set_timer", "")
	tracker.RecordIntent("s1", "get_weather", core.ConfidenceLow)

	intents := tracker.RecentIntents("s1", 10)
	require.Len(t, intents, 3)
	assert.Equal(t, core.ConfidenceUnknown, intents[1].Confidence, "empty confidence defaults to unknown")

	// The most recent unfulfilled record with the name wins.
	require.True(t, tracker.MarkIntentFulfilled("s1", "get_weather", []string{"weather_api"}))
	intents = tracker.RecentIntents("s1", 10)
	assert.False(t, intents[0].Fulfilled)
	assert.True(t, intents[2].Fulfilled)
	assert.Equal(t, []string{"weather_api"}, intents[2].ToolsUsed)

	require.True(t, tracker.MarkIntentFulfilled("s1", "get_weather", nil))
	assert.False(t, tracker.MarkIntentFulfilled("s1", "get_weather", nil), "no unfulfilled match left")
	assert.False(t, tracker.MarkIntentFulfilled("unknown", "x", nil))
}

func TestTrackerHistoryTrim(t *testing.T) {
	tracker := NewTracker(WithConfig(Config{MaxHistoryLength: 3, TopicSimilarityThreshold: 0.7}))

	for i := 0; i < 5; i++ {
		tracker.RecordIntent("s1", "intent", core.ConfidenceMedium)
		tracker.AddStep("s1", core.Step{UserInput: "in", Success: true})
	}
	assert.Equal(t, 3, tracker.IntentCount("s1"))
	assert.Len(t, tracker.RecentFlow("s1", 10), 3)

	// Aggregates still count every step ever recorded.
	_, _, steps := tracker.Stats("s1")
	assert.Equal(t, 5, steps)
}

func TestTrackerStats(t *testing.T) {
	tracker := NewTracker()

	tracker.AddStep("s1", core.Step{Success: true, DurationMs: 100})
	tracker.AddStep("s1", core.Step{Success: false, DurationMs: 300})

	rate, avg, steps := tracker.Stats("s1")
	assert.InDelta(t, 0.5, rate, 1e-9)
	assert.InDelta(t, 200, avg, 1e-9)
	assert.Equal(t, 2, steps)

	rate, avg, steps = tracker.Stats("unknown")
	assert.Zero(t, rate)
	assert.Zero(t, avg)
	assert.Zero(t, steps)
}

func TestTrackerPhase(t *testing.T) {
	tracker := NewTracker()
	assert.Equal(t, core.PhaseGreeting, tracker.Phase("s1"))

	tracker.SetPhase("s1", core.PhaseTaskExecution)
	assert.Equal(t, core.PhaseTaskExecution, tracker.Phase("s1"))

	// A step carrying a phase moves the session along.
	tracker.AddStep("s1", core.Step{Phase: core.PhaseClosing, Success: true})
	assert.Equal(t, core.PhaseClosing, tracker.Phase("s1"))
}

func TestTrackerClear(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordIntent("s1", "intent", core.ConfidenceHigh)
	tracker.RecordIntent("s2", "intent", core.ConfidenceHigh)

	tracker.Clear("s1")
	assert.Zero(t, tracker.IntentCount("s1"))
	assert.Equal(t, 1, tracker.IntentCount("s2"))
}

func TestTrackerExportImport(t *testing.T) {
	tracker := NewTracker()
	require.NotNil(t, tracker.ProcessInput("s1", "timer alarm countdown"))
	tracker.RecordIntent("s1", "set_timer", core.ConfidenceHigh)
	tracker.SetPhase("s1", core.PhaseFollowUp)
	tracker.AddStep("s1", core.Step{Success: true, DurationMs: 50})

	restored := NewTracker()
	restored.Import(tracker.Export())

	assert.Equal(t, 1, restored.IntentCount("s1"))
	assert.Equal(t, core.PhaseFollowUp, restored.Phase("s1"))
	require.NotNil(t, restored.CurrentTopic("s1"))
	assert.Equal(t, "timers", restored.CurrentTopic("s1").Name)

	rate, avg, steps := restored.Stats("s1")
	assert.InDelta(t, 1.0, rate, 1e-9)
	assert.InDelta(t, 50, avg, 1e-9)
	assert.Equal(t, 1, steps)
}
