package simulation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/scenario"
)

type fakeUser struct {
	utterances []string
	doneAfter  int // conversation complete after this many utterances; 0 means never
	err        error
	calls      int
}

func (f *fakeUser) NextUserTurn(ctx context.Context, _ scenario.Config, _ []Turn) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if f.err != nil {
		return "", false, f.err
	}
	if f.doneAfter > 0 && f.calls >= f.doneAfter {
		return "", true, nil
	}
	utterance := "hello again"
	if f.calls < len(f.utterances) {
		utterance = f.utterances[f.calls]
	}
	f.calls++
	return utterance, false, nil
}

type fakeAgent struct {
	err   error
	calls int
}

func (f *fakeAgent) RespondAsAgent(ctx context.Context, _ *agents.Config, _ []Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	return fmt.Sprintf("agent response %d", f.calls), nil
}

type fakeOutcome struct {
	score float64
	err   error
}

func (f *fakeOutcome) ScoreOutcome(_ context.Context, _ scenario.Config, _ []Turn) (float64, string, error) {
	if f.err != nil {
		return 0, "", f.err
	}
	return f.score, "outcome reasoning", nil
}

type fakeHangup struct {
	hangupAfter int // signal hangup once this many checks have happened
	calls       int
}

func (f *fakeHangup) ShouldHangup(_ context.Context, _ string, _ []Turn) (bool, error) {
	f.calls++
	return f.hangupAfter > 0 && f.calls >= f.hangupAfter, nil
}

func testScenario() scenario.Config {
	return scenario.Config{
		AgentOverview:   "A booking assistant",
		UserPersona:     "A hungry customer",
		Situation:       "Booking a table",
		PrimaryLanguage: "english",
		ExpectedOutcome: "A confirmed booking",
	}
}

func testAgentConfig() *agents.Config {
	return &agents.Config{
		AgentID:        "agent-1",
		AgentName:      "Booking Bot",
		WelcomeMessage: "Welcome to the restaurant!",
		SystemPrompt:   "You book tables.",
		HangupPrompt:   "End when the booking is confirmed.",
		LLMModel:       "gpt-4o",
	}
}

func newTestSimulator(user UserSimulator, agent AgentResponder, scorer TurnScorer, outcome OutcomeScorer, hangup HangupDetector, maxTurns int) *Simulator {
	return NewSimulator(user, agent, NewEvaluator(scorer), outcome, hangup, maxTurns, 300)
}

func TestRunEndsAtMaxTurns(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{Accuracy: 8, ContextUnderstanding: 6, ResponseQuality: 9}}
	sim := newTestSimulator(&fakeUser{}, &fakeAgent{}, scorer, &fakeOutcome{score: 7.5}, &fakeHangup{}, 3)

	run := &Run{RunID: "run-1", AgentID: "agent-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, EndMaxTurnsReached, run.EndReason)
	assert.False(t, run.ProperHangup)
	assert.Equal(t, 3, run.TotalTurns)
	// Welcome plus three user/agent pairs.
	assert.Len(t, run.Turns, 7)
	require.NotNil(t, run.CompletedAt)
}

func TestRunWelcomeMessageIsScriptedAgentTurn(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{Accuracy: 8, ContextUnderstanding: 8, ResponseQuality: 8}}
	sim := newTestSimulator(&fakeUser{}, &fakeAgent{}, scorer, nil, &fakeHangup{}, 1)

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	require.NotEmpty(t, run.Turns)
	welcome := run.Turns[0]
	assert.Equal(t, RoleAgent, welcome.Role)
	assert.Equal(t, "Welcome to the restaurant!", welcome.Content)
	assert.Zero(t, welcome.LatencyMS)
	_, ok := welcome.Result.OK()
	assert.False(t, ok)
}

func TestRunComputesRunLevelMetrics(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{Accuracy: 8, ContextUnderstanding: 6, ResponseQuality: 9}}
	sim := newTestSimulator(&fakeUser{}, &fakeAgent{}, scorer, &fakeOutcome{score: 7.5}, &fakeHangup{}, 2)

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	require.NotNil(t, run.OverallAccuracy)
	assert.InDelta(t, 0.7, *run.OverallAccuracy, 1e-9)
	require.NotNil(t, run.HumanlikeRating)
	assert.InDelta(t, 9.0, *run.HumanlikeRating, 1e-9)
	require.NotNil(t, run.OutcomeOrientation)
	assert.InDelta(t, 7.5, *run.OutcomeOrientation, 1e-9)
	require.NotNil(t, run.LatencyMedian)
	require.NotNil(t, run.LatencyP99)
}

func TestRunRecordsLeastAccurateTurns(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{
		Accuracy:             4,
		ContextUnderstanding: 5,
		ResponseQuality:      6,
		Reasoning:            "missed the question",
		Issues:               []string{"off topic"},
	}}
	sim := newTestSimulator(&fakeUser{}, &fakeAgent{}, scorer, nil, &fakeHangup{}, 5)

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	// All five agent turns scored below seven, only the worst three kept.
	require.Len(t, run.LeastAccurateTurns, 3)
	assert.Equal(t, 4.0, run.LeastAccurateTurns[0].Accuracy)
	assert.Equal(t, "missed the question", run.LeastAccurateTurns[0].Reasoning)
}

func TestRunAbruptHangupWhenUserEndsConversation(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{Accuracy: 8, ContextUnderstanding: 8, ResponseQuality: 8}}
	sim := newTestSimulator(&fakeUser{doneAfter: 2}, &fakeAgent{}, scorer, nil, &fakeHangup{}, 10)

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, EndAgentHangup, run.EndReason)
	assert.False(t, run.ProperHangup)
	assert.Equal(t, 2, run.TotalTurns)
}

func TestRunProperHangupWhenDetectorFires(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{Accuracy: 8, ContextUnderstanding: 8, ResponseQuality: 8}}
	sim := newTestSimulator(&fakeUser{}, &fakeAgent{}, scorer, nil, &fakeHangup{hangupAfter: 2}, 10)

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, EndAgentHangup, run.EndReason)
	assert.True(t, run.ProperHangup)
	assert.Equal(t, 2, run.TotalTurns)
}

func TestRunFailsOnAgentError(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{Accuracy: 8, ContextUnderstanding: 8, ResponseQuality: 8}}
	sim := newTestSimulator(&fakeUser{}, &fakeAgent{err: errors.New("model unavailable")}, scorer, nil, &fakeHangup{}, 10)

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, EndError, run.EndReason)
	assert.Contains(t, run.Error, "model unavailable")
	require.NotNil(t, run.CompletedAt)
}

func TestRunTimeoutEndsConversation(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{Accuracy: 8, ContextUnderstanding: 8, ResponseQuality: 8}}
	sim := NewSimulator(&fakeUser{}, &fakeAgent{}, NewEvaluator(scorer), nil, &fakeHangup{}, 10, 300)
	sim.timeout = 0 // expire the conversation budget immediately

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, EndTimeout, run.EndReason)
}

func TestRunEvaluationFailureDoesNotAbortRun(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("judge offline")}
	sim := newTestSimulator(&fakeUser{}, &fakeAgent{}, scorer, nil, &fakeHangup{}, 2)

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	assert.Equal(t, RunCompleted, run.Status)
	assert.Nil(t, run.OverallAccuracy)
	assert.Nil(t, run.HumanlikeRating)

	for _, turn := range run.Turns[1:] {
		if turn.Role == RoleAgent {
			_, ok := turn.Result.OK()
			assert.False(t, ok)
			assert.Equal(t, "judge offline", turn.Result.UnavailableReason)
		}
	}
}

func TestRunOutcomeFailureLeavesOutcomeUndefined(t *testing.T) {
	scorer := &fakeScorer{scores: &TurnScores{Accuracy: 8, ContextUnderstanding: 8, ResponseQuality: 8}}
	sim := newTestSimulator(&fakeUser{}, &fakeAgent{}, scorer, &fakeOutcome{err: errors.New("judge offline")}, &fakeHangup{}, 2)

	run := &Run{RunID: "run-1"}
	sim.Run(context.Background(), run, testAgentConfig(), testScenario())

	assert.Equal(t, RunCompleted, run.Status)
	assert.Nil(t, run.OutcomeOrientation)
}

func TestAgentTurnLatenciesExcludesWelcome(t *testing.T) {
	run := &Run{Turns: []Turn{
		{Role: RoleAgent, Content: "welcome", LatencyMS: 0},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAgent, Content: "resp", LatencyMS: 120},
		{Role: RoleUser, Content: "more"},
		{Role: RoleAgent, Content: "resp", LatencyMS: 340},
	}}
	assert.Equal(t, []float64{120, 340}, run.AgentTurnLatencies())
}
