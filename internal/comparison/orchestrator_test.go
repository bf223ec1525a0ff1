package comparison

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/scenario"
	"github.com/voicearena/backend/internal/simulation"
	"github.com/voicearena/backend/pkg/config"
)

type memoryStore struct {
	mu          sync.Mutex
	comparisons map[string]*Comparison
	runs        map[string]*simulation.Run
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		comparisons: map[string]*Comparison{},
		runs:        map[string]*simulation.Run{},
	}
}

func (s *memoryStore) SaveComparison(_ context.Context, c *Comparison) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	s.comparisons[c.ComparisonID] = &clone
	return nil
}

func (s *memoryStore) UpdateComparison(ctx context.Context, c *Comparison) error {
	return s.SaveComparison(ctx, c)
}

func (s *memoryStore) GetComparison(_ context.Context, id string) (*Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comparisons[id]
	if !ok {
		return nil, fmt.Errorf("comparison %s not found", id)
	}
	clone := *c
	return &clone, nil
}

func (s *memoryStore) ListComparisons(_ context.Context, _, _ int) ([]*Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Comparison
	for _, c := range s.comparisons {
		clone := *c
		out = append(out, &clone)
	}
	return out, nil
}

func (s *memoryStore) SaveRun(_ context.Context, run *simulation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.RunID] = &clone
	return nil
}

func (s *memoryStore) GetRun(_ context.Context, runID string) (*simulation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	clone := *run
	return &clone, nil
}

func (s *memoryStore) ListRuns(_ context.Context, comparisonID string) ([]*simulation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*simulation.Run
	for _, run := range s.runs {
		if run.ComparisonID == comparisonID {
			clone := *run
			out = append(out, &clone)
		}
	}
	return out, nil
}

type fakeProvider struct {
	mu      sync.Mutex
	configs map[string]*agents.Config
	err     error
	fetches int
}

func (p *fakeProvider) Fetch(_ context.Context, agentID string) (*agents.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.err != nil {
		return nil, p.err
	}
	cfg, ok := p.configs[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	return cfg, nil
}

// fakeRunner settles runs according to a per-agent script: "fail" fails
// every run, anything else completes with fixed scores.
type fakeRunner struct {
	mu       sync.Mutex
	ran      int
	perAgent map[string]string
}

func (r *fakeRunner) Run(_ context.Context, run *simulation.Run, cfg *agents.Config, _ scenario.Config) {
	r.mu.Lock()
	r.ran++
	behavior := r.perAgent[cfg.AgentID]
	r.mu.Unlock()

	now := time.Now()
	run.StartedAt = now
	run.CompletedAt = &now

	if behavior == "fail" {
		run.Status = simulation.RunFailed
		run.EndReason = simulation.EndError
		run.Error = "simulated failure"
		return
	}

	run.Status = simulation.RunCompleted
	run.EndReason = simulation.EndMaxTurnsReached
	run.TotalTurns = 4
	run.OverallAccuracy = fptr(0.8)
	run.HumanlikeRating = fptr(7.0)
	run.OutcomeOrientation = fptr(8.0)
	run.LatencyMedian = fptr(1.0)
	run.LatencyP75 = fptr(1.2)
	run.LatencyP99 = fptr(1.5)
	run.ProperHangup = true
}

func orchestratorScenario() scenario.Config {
	return scenario.Config{
		AgentOverview:   "A booking assistant for a restaurant",
		UserPersona:     "A customer who wants a table tonight",
		Situation:       "The customer calls to make a reservation",
		PrimaryLanguage: "english",
		ExpectedOutcome: "A confirmed reservation for tonight",
	}
}

func newTestOrchestrator(provider *fakeProvider, runner Runner, store Store) *Orchestrator {
	cfg := config.ComparisonConfig{
		NumSimulations:           5,
		MaxConcurrentSimulations: 2,
		ConversationTimeoutSec:   300,
		MaxConversationTurns:     10,
	}
	return NewOrchestrator(cfg, provider, runner, store)
}

func supportedConfig(agentID, name string) *agents.Config {
	return &agents.Config{
		AgentID:   agentID,
		AgentName: name,
		LLMFamily: "openai",
		LLMModel:  "gpt-4o",
		Supported: true,
	}
}

func waitForPhase(t *testing.T, o *Orchestrator, id string, want Phase) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := o.Status(context.Background(), id)
		require.NoError(t, err)
		if status.Phase == want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("comparison %s never reached phase %s", id, want)
	return Status{}
}

func TestCreateValidatesScenario(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, &fakeRunner{}, newMemoryStore())

	_, err := o.Create(context.Background(), CreateParams{
		Scenario: scenario.Config{},
		AgentIDs: []string{"a", "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scenario")
}

func TestCreateRequiresTwoAgents(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, &fakeRunner{}, newMemoryStore())

	_, err := o.Create(context.Background(), CreateParams{
		Scenario: orchestratorScenario(),
		AgentIDs: []string{"only-one"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 agents")
}

func TestCreateDefaultsNumSimulations(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, &fakeRunner{}, newMemoryStore())

	comp, err := o.Create(context.Background(), CreateParams{
		Scenario: orchestratorScenario(),
		AgentIDs: []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, comp.NumSimulations)
	assert.Equal(t, PhaseFetchingConfigs, comp.Phase)
}

func TestExecuteRunsFullPipeline(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{configs: map[string]*agents.Config{
		"agent-a": supportedConfig("agent-a", "Agent A"),
		"agent-b": supportedConfig("agent-b", "Agent B"),
	}}
	runner := &fakeRunner{perAgent: map[string]string{}}
	o := newTestOrchestrator(provider, runner, store)

	comp, err := o.Create(context.Background(), CreateParams{
		Scenario:       orchestratorScenario(),
		AgentIDs:       []string{"agent-a", "agent-b"},
		NumSimulations: 3,
	})
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), comp.ComparisonID))

	status := waitForPhase(t, o, comp.ComparisonID, PhaseCompleted)
	assert.Equal(t, 6, status.TotalRuns)
	assert.Equal(t, 6, status.CompletedRuns)
	assert.Equal(t, 0, status.FailedRuns)

	stored, err := store.GetComparison(context.Background(), comp.ComparisonID)
	require.NoError(t, err)
	require.NotNil(t, stored.Result)
	assert.Equal(t, 2, stored.Result.TotalAgents)
	assert.Equal(t, 3, stored.Result.SimulationsPerAgent)
	require.Len(t, stored.Result.Rankings, 2)
	assert.Equal(t, 1, stored.Result.Rankings[0].Rank)
	require.NotNil(t, stored.CompletedAt)

	runs, err := store.ListRuns(context.Background(), comp.ComparisonID)
	require.NoError(t, err)
	assert.Len(t, runs, 6)
}

func TestExecuteCountsFailedRuns(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{configs: map[string]*agents.Config{
		"good": supportedConfig("good", "Good Agent"),
		"bad":  supportedConfig("bad", "Bad Agent"),
	}}
	runner := &fakeRunner{perAgent: map[string]string{"bad": "fail"}}
	o := newTestOrchestrator(provider, runner, store)

	comp, err := o.Create(context.Background(), CreateParams{
		Scenario:       orchestratorScenario(),
		AgentIDs:       []string{"good", "bad"},
		NumSimulations: 2,
	})
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), comp.ComparisonID))

	status := waitForPhase(t, o, comp.ComparisonID, PhaseCompleted)
	assert.Equal(t, 4, status.TotalRuns)
	assert.Equal(t, 2, status.CompletedRuns)
	assert.Equal(t, 2, status.FailedRuns)
	assert.Equal(t, status.TotalRuns, status.CompletedRuns+status.FailedRuns)

	stored, err := store.GetComparison(context.Background(), comp.ComparisonID)
	require.NoError(t, err)
	require.NotNil(t, stored.Result)

	// The all-failed agent ranks last with undefined stats.
	last := stored.Result.Rankings[len(stored.Result.Rankings)-1]
	assert.Equal(t, "bad", last.AgentID)
	assert.Equal(t, 0, last.SuccessfulSimulations)
	assert.Equal(t, 2, last.FailedSimulations)
	assert.Nil(t, last.Accuracy.Mean)
	assert.Nil(t, last.Composite.Mean)
}

func TestExecuteFailsWhenConfigFetchFails(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{err: fmt.Errorf("platform down")}
	o := newTestOrchestrator(provider, &fakeRunner{}, store)

	comp, err := o.Create(context.Background(), CreateParams{
		Scenario: orchestratorScenario(),
		AgentIDs: []string{"a", "b"},
	})
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), comp.ComparisonID))

	status := waitForPhase(t, o, comp.ComparisonID, PhaseFailed)
	assert.Contains(t, status.Error, "platform down")

	stored, err := store.GetComparison(context.Background(), comp.ComparisonID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, stored.Phase)
	assert.Nil(t, stored.Result)
}

func TestExecuteRejectsAlreadyExecutedComparison(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{configs: map[string]*agents.Config{
		"a": supportedConfig("a", "A"),
		"b": supportedConfig("b", "B"),
	}}
	o := newTestOrchestrator(provider, &fakeRunner{}, store)

	comp, err := o.Create(context.Background(), CreateParams{
		Scenario:       orchestratorScenario(),
		AgentIDs:       []string{"a", "b"},
		NumSimulations: 1,
	})
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), comp.ComparisonID))
	waitForPhase(t, o, comp.ComparisonID, PhaseCompleted)

	err = o.Execute(context.Background(), comp.ComparisonID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already executed")
}

func TestRerunCreatesFreshComparison(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{configs: map[string]*agents.Config{
		"a": supportedConfig("a", "A"),
		"b": supportedConfig("b", "B"),
	}}
	o := newTestOrchestrator(provider, &fakeRunner{}, store)

	original, err := o.Create(context.Background(), CreateParams{
		Name:           "baseline",
		Scenario:       orchestratorScenario(),
		AgentIDs:       []string{"a", "b"},
		NumSimulations: 1,
	})
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), original.ComparisonID))
	waitForPhase(t, o, original.ComparisonID, PhaseCompleted)

	rerun, err := o.Rerun(context.Background(), original.ComparisonID)
	require.NoError(t, err)
	assert.NotEqual(t, original.ComparisonID, rerun.ComparisonID)
	assert.Equal(t, original.AgentIDs, rerun.AgentIDs)
	assert.Equal(t, original.Scenario, rerun.Scenario)
	assert.Equal(t, original.NumSimulations, rerun.NumSimulations)
	assert.Equal(t, PhaseFetchingConfigs, rerun.Phase)

	// Original result untouched.
	stored, err := store.GetComparison(context.Background(), original.ComparisonID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, stored.Phase)
	require.NotNil(t, stored.Result)
}

func TestStatusIsSideEffectFree(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{configs: map[string]*agents.Config{
		"a": supportedConfig("a", "A"),
		"b": supportedConfig("b", "B"),
	}}
	o := newTestOrchestrator(provider, &fakeRunner{}, store)

	comp, err := o.Create(context.Background(), CreateParams{
		Scenario:       orchestratorScenario(),
		AgentIDs:       []string{"a", "b"},
		NumSimulations: 1,
	})
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), comp.ComparisonID))
	waitForPhase(t, o, comp.ComparisonID, PhaseCompleted)

	first, err := o.Status(context.Background(), comp.ComparisonID)
	require.NoError(t, err)
	second, err := o.Status(context.Background(), comp.ComparisonID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCancelWhenNotRunning(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, &fakeRunner{}, newMemoryStore())
	err := o.Cancel("nope")
	require.Error(t, err)
}

func TestManualAgentsJoinTheComparison(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{configs: map[string]*agents.Config{
		"platform-a": supportedConfig("platform-a", "Platform A"),
	}}
	runner := &fakeRunner{perAgent: map[string]string{}}
	o := newTestOrchestrator(provider, runner, store)

	manual := agents.NewManualConfig("Inline Agent", "Hi", "You help people with bookings.", "", "", 0, 0)
	comp, err := o.Create(context.Background(), CreateParams{
		Scenario:       orchestratorScenario(),
		AgentIDs:       []string{"platform-a"},
		ManualAgents:   []*agents.Config{manual},
		NumSimulations: 1,
	})
	require.NoError(t, err)
	assert.Len(t, comp.AgentIDs, 2)

	require.NoError(t, o.Execute(context.Background(), comp.ComparisonID))
	status := waitForPhase(t, o, comp.ComparisonID, PhaseCompleted)
	assert.Equal(t, 2, status.TotalRuns)
	assert.Equal(t, 2, status.CompletedRuns)
	// Only the platform agent needed a fetch.
	assert.Equal(t, 1, provider.fetches)
}

func TestVariablesAreAppliedToAgentPrompts(t *testing.T) {
	store := newMemoryStore()
	cfg := supportedConfig("a", "A")
	cfg.SystemPrompt = "You work for {company}."
	provider := &fakeProvider{configs: map[string]*agents.Config{
		"a": cfg,
		"b": supportedConfig("b", "B"),
	}}

	var seenPrompt string
	var mu sync.Mutex
	runner := &promptCapturingRunner{onRun: func(agentCfg *agents.Config) {
		mu.Lock()
		if agentCfg.AgentID == "a" {
			seenPrompt = agentCfg.SystemPrompt
		}
		mu.Unlock()
	}}
	o := newTestOrchestrator(provider, runner, store)

	comp, err := o.Create(context.Background(), CreateParams{
		Scenario:       orchestratorScenario(),
		AgentIDs:       []string{"a", "b"},
		NumSimulations: 1,
		Variables:      map[string]string{"company": "Acme"},
	})
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), comp.ComparisonID))
	waitForPhase(t, o, comp.ComparisonID, PhaseCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "You work for Acme.", seenPrompt)
}

type promptCapturingRunner struct {
	onRun func(cfg *agents.Config)
}

func (r *promptCapturingRunner) Run(_ context.Context, run *simulation.Run, cfg *agents.Config, _ scenario.Config) {
	r.onRun(cfg)
	now := time.Now()
	run.Status = simulation.RunCompleted
	run.EndReason = simulation.EndMaxTurnsReached
	run.CompletedAt = &now
}
