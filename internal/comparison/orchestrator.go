package comparison

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/metrics"
	"github.com/voicearena/backend/internal/scenario"
	"github.com/voicearena/backend/internal/simulation"
	"github.com/voicearena/backend/pkg/config"
	"github.com/voicearena/backend/pkg/logger"
)

// Runner executes one simulated conversation and settles the run in place.
type Runner interface {
	Run(ctx context.Context, run *simulation.Run, cfg *agents.Config, sc scenario.Config)
}

// AgentProvider resolves platform agent IDs into full configurations.
type AgentProvider interface {
	Fetch(ctx context.Context, agentID string) (*agents.Config, error)
}

// Store persists comparisons, runs and results.
type Store interface {
	SaveComparison(ctx context.Context, c *Comparison) error
	UpdateComparison(ctx context.Context, c *Comparison) error
	GetComparison(ctx context.Context, comparisonID string) (*Comparison, error)
	ListComparisons(ctx context.Context, limit, offset int) ([]*Comparison, error)
	SaveRun(ctx context.Context, run *simulation.Run) error
	GetRun(ctx context.Context, runID string) (*simulation.Run, error)
	ListRuns(ctx context.Context, comparisonID string) ([]*simulation.Run, error)
}

// Orchestrator owns the comparison lifecycle. It is the only writer of
// comparison status; everything else observes through Status or Subscribe.
type Orchestrator struct {
	cfg      config.ComparisonConfig
	provider AgentProvider
	runner   Runner
	store    Store

	mu     sync.RWMutex
	active map[string]*execution
}

type execution struct {
	mu       sync.Mutex
	status   Status
	inflight map[string]*AgentActivity
	cancel   context.CancelFunc
	subs     map[chan Status]struct{}
}

func NewOrchestrator(cfg config.ComparisonConfig, provider AgentProvider, runner Runner, store Store) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		provider: provider,
		runner:   runner,
		store:    store,
		active:   map[string]*execution{},
	}
}

// CreateParams are the user-supplied inputs for a new comparison.
type CreateParams struct {
	Name           string
	Scenario       scenario.Config
	AgentIDs       []string
	ManualAgents   []*agents.Config
	NumSimulations int
	Variables      map[string]string
}

// Create validates inputs and persists a new comparison in its initial
// phase. Execution is a separate step.
func (o *Orchestrator) Create(ctx context.Context, params CreateParams) (*Comparison, error) {
	if err := params.Scenario.Validate(); err != nil {
		return nil, err
	}

	agentIDs := append([]string{}, params.AgentIDs...)
	manual := map[string]*agents.Config{}
	for _, cfg := range params.ManualAgents {
		agentIDs = append(agentIDs, cfg.AgentID)
		manual[cfg.AgentID] = cfg
	}

	if len(agentIDs) < 2 {
		return nil, fmt.Errorf("a comparison needs at least 2 agents, got %d", len(agentIDs))
	}

	numSimulations := params.NumSimulations
	if numSimulations <= 0 {
		numSimulations = o.cfg.NumSimulations
	}

	comp := &Comparison{
		ComparisonID:   uuid.New().String(),
		Name:           params.Name,
		Scenario:       params.Scenario,
		AgentIDs:       agentIDs,
		Variables:      params.Variables,
		NumSimulations: numSimulations,
		Phase:          PhaseFetchingConfigs,
		CreatedAt:      time.Now(),
	}
	comp.ManualAgents = manual

	if err := o.store.SaveComparison(ctx, comp); err != nil {
		return nil, fmt.Errorf("failed to save comparison: %w", err)
	}

	logger.Info("Comparison created",
		zap.String("comparison_id", comp.ComparisonID),
		zap.Int("agents", len(agentIDs)),
		zap.Int("num_simulations", numSimulations),
	)

	return comp, nil
}

// Execute starts the comparison pipeline in the background. A comparison
// can be executed once; reruns go through Rerun.
func (o *Orchestrator) Execute(ctx context.Context, comparisonID string) error {
	comp, err := o.store.GetComparison(ctx, comparisonID)
	if err != nil {
		return err
	}
	if comp.Phase != PhaseFetchingConfigs {
		return fmt.Errorf("comparison %s already executed (phase %s)", comparisonID, comp.Phase)
	}

	o.mu.Lock()
	if _, running := o.active[comparisonID]; running {
		o.mu.Unlock()
		return fmt.Errorf("comparison %s is already running", comparisonID)
	}
	exec := &execution{
		status: Status{
			ComparisonID: comparisonID,
			Phase:        PhaseFetchingConfigs,
			TotalRuns:    len(comp.AgentIDs) * comp.NumSimulations,
		},
		inflight: map[string]*AgentActivity{},
		subs:     map[chan Status]struct{}{},
	}
	o.active[comparisonID] = exec
	o.mu.Unlock()

	go o.run(exec, comp)
	return nil
}

// Rerun creates a fresh comparison with the same inputs. The original
// comparison and its results stay untouched.
func (o *Orchestrator) Rerun(ctx context.Context, comparisonID string) (*Comparison, error) {
	old, err := o.store.GetComparison(ctx, comparisonID)
	if err != nil {
		return nil, err
	}

	params := CreateParams{
		Name:           old.Name,
		Scenario:       old.Scenario,
		AgentIDs:       old.AgentIDs,
		NumSimulations: old.NumSimulations,
		Variables:      old.Variables,
	}
	for _, cfg := range old.ManualAgents {
		params.ManualAgents = append(params.ManualAgents, cfg)
	}
	// Manual agent IDs ride along in AgentIDs; strip them so Create does
	// not double count.
	if len(old.ManualAgents) > 0 {
		params.AgentIDs = nil
		for _, id := range old.AgentIDs {
			if _, isManual := old.ManualAgents[id]; !isManual {
				params.AgentIDs = append(params.AgentIDs, id)
			}
		}
	}

	return o.Create(ctx, params)
}

// Cancel stops dispatching pending runs. In-flight conversations are left
// to finish; the comparison then aggregates whatever settled.
func (o *Orchestrator) Cancel(comparisonID string) error {
	o.mu.RLock()
	exec, ok := o.active[comparisonID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("comparison %s is not running", comparisonID)
	}

	exec.mu.Lock()
	cancel := exec.cancel
	exec.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("comparison %s has no pending runs to cancel", comparisonID)
	}

	cancel()
	logger.Info("Comparison canceled", zap.String("comparison_id", comparisonID))
	return nil
}

// Status returns a snapshot of progress, from memory while the comparison
// runs and from storage afterwards.
func (o *Orchestrator) Status(ctx context.Context, comparisonID string) (Status, error) {
	o.mu.RLock()
	exec, ok := o.active[comparisonID]
	o.mu.RUnlock()
	if ok {
		return exec.snapshot(), nil
	}

	comp, err := o.store.GetComparison(ctx, comparisonID)
	if err != nil {
		return Status{}, err
	}
	runs, err := o.store.ListRuns(ctx, comparisonID)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		ComparisonID: comparisonID,
		Phase:        comp.Phase,
		TotalRuns:    len(comp.AgentIDs) * comp.NumSimulations,
		Error:        comp.Error,
	}
	for _, run := range runs {
		switch run.Status {
		case simulation.RunCompleted:
			status.CompletedRuns++
		case simulation.RunFailed:
			status.FailedRuns++
		}
	}
	return status, nil
}

// Subscribe returns a channel of status snapshots for a running
// comparison, plus a release function the caller must invoke.
func (o *Orchestrator) Subscribe(comparisonID string) (<-chan Status, func(), error) {
	o.mu.RLock()
	exec, ok := o.active[comparisonID]
	o.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("comparison %s is not running", comparisonID)
	}

	ch := make(chan Status, 16)
	exec.mu.Lock()
	exec.subs[ch] = struct{}{}
	ch <- exec.statusLocked()
	exec.mu.Unlock()

	release := func() {
		exec.mu.Lock()
		if _, still := exec.subs[ch]; still {
			delete(exec.subs, ch)
			close(ch)
		}
		exec.mu.Unlock()
	}
	return ch, release, nil
}

func (o *Orchestrator) run(exec *execution, comp *Comparison) {
	ctx := context.Background()
	start := time.Now()

	log := logger.GetLogger().With(zap.String("comparison_id", comp.ComparisonID))
	log.Info("Comparison execution started", zap.String("phase", string(PhaseFetchingConfigs)))

	resolved, err := o.fetchConfigs(ctx, comp)
	if err != nil {
		o.fail(exec, comp, err, start)
		return
	}

	o.setPhase(ctx, exec, comp, PhaseRunningSimulations)

	reqs := make([]RunRequest, 0, len(resolved)*comp.NumSimulations)
	for _, agentCfg := range resolved {
		for sim := 1; sim <= comp.NumSimulations; sim++ {
			reqs = append(reqs, RunRequest{
				RunID:            uuid.New().String(),
				ComparisonID:     comp.ComparisonID,
				Agent:            agentCfg,
				SimulationNumber: sim,
			})
		}
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	exec.mu.Lock()
	exec.cancel = cancel
	exec.mu.Unlock()

	scheduler := NewScheduler(o.cfg.MaxConcurrentSimulations, o.makeSimulate(exec, comp), func(run *simulation.Run) {
		exec.runSettled(run)
		if err := o.store.SaveRun(ctx, run); err != nil {
			log.Error("Failed to persist run", zap.String("run_id", run.RunID), zap.Error(err))
		}
	})

	runs := scheduler.Execute(dispatchCtx, ctx, reqs)

	o.setPhase(ctx, exec, comp, PhaseAggregating)
	rankings := o.aggregate(resolved, runs)

	o.setPhase(ctx, exec, comp, PhaseAnalyzing)
	ranked := Rank(rankings)

	var issues []CriticalIssue
	if len(ranked) > 0 {
		issues = AnalyzeIssues(ranked[0], runsForAgent(runs, ranked[0].AgentID))
	}

	comp.Result = &Result{
		TotalAgents:         len(resolved),
		SimulationsPerAgent: comp.NumSimulations,
		Rankings:            ranked,
		CriticalIssues:      issues,
	}
	now := time.Now()
	comp.Phase = PhaseCompleted
	comp.CompletedAt = &now

	if err := o.store.UpdateComparison(ctx, comp); err != nil {
		log.Error("Failed to persist comparison result", zap.Error(err))
	}

	exec.setPhase(PhaseCompleted)
	metrics.ComparisonsTotal.WithLabelValues(string(PhaseCompleted)).Inc()
	metrics.ComparisonDuration.Observe(time.Since(start).Seconds())

	log.Info("Comparison completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("runs", len(runs)),
		zap.Int("issues", len(issues)),
	)

	o.deactivate(comp.ComparisonID, exec)
}

func (o *Orchestrator) fetchConfigs(ctx context.Context, comp *Comparison) ([]*agents.Config, error) {
	resolved := make([]*agents.Config, 0, len(comp.AgentIDs))
	for _, agentID := range comp.AgentIDs {
		cfg, ok := comp.ManualAgents[agentID]
		if !ok {
			var err error
			cfg, err = o.provider.Fetch(ctx, agentID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch config for agent %s: %w", agentID, err)
			}
		}
		if !cfg.Supported {
			return nil, fmt.Errorf("agent %s uses unsupported LLM family %q", agentID, cfg.LLMFamily)
		}
		if len(comp.Variables) > 0 {
			cfg = agents.ReplaceConfigVariables(cfg, comp.Variables)
		}
		resolved = append(resolved, cfg)
	}
	return resolved, nil
}

func (o *Orchestrator) makeSimulate(exec *execution, comp *Comparison) func(ctx context.Context, req RunRequest) *simulation.Run {
	return func(ctx context.Context, req RunRequest) *simulation.Run {
		exec.runStarted(req.Agent.AgentID, req.Agent.AgentName)
		run := &simulation.Run{
			RunID:            req.RunID,
			ComparisonID:     comp.ComparisonID,
			AgentID:          req.Agent.AgentID,
			AgentName:        req.Agent.AgentName,
			SimulationNumber: req.SimulationNumber,
			Status:           simulation.RunPending,
		}
		o.runner.Run(ctx, run, req.Agent, comp.Scenario)
		return run
	}
}

func (o *Orchestrator) aggregate(resolved []*agents.Config, runs []*simulation.Run) []AgentRanking {
	rankings := make([]AgentRanking, 0, len(resolved))
	for _, agentCfg := range resolved {
		rankings = append(rankings, Aggregate(agentCfg.AgentID, agentCfg.AgentName, runsForAgent(runs, agentCfg.AgentID)))
	}
	return rankings
}

func runsForAgent(runs []*simulation.Run, agentID string) []*simulation.Run {
	var out []*simulation.Run
	for _, run := range runs {
		if run.AgentID == agentID {
			out = append(out, run)
		}
	}
	return out
}

func (o *Orchestrator) setPhase(ctx context.Context, exec *execution, comp *Comparison, phase Phase) {
	comp.Phase = phase
	exec.setPhase(phase)
	if err := o.store.UpdateComparison(ctx, comp); err != nil {
		logger.Error("Failed to persist phase change",
			zap.String("comparison_id", comp.ComparisonID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) fail(exec *execution, comp *Comparison, cause error, start time.Time) {
	now := time.Now()
	comp.Phase = PhaseFailed
	comp.Error = cause.Error()
	comp.CompletedAt = &now

	if err := o.store.UpdateComparison(context.Background(), comp); err != nil {
		logger.Error("Failed to persist failed comparison", zap.Error(err))
	}

	exec.mu.Lock()
	exec.status.Phase = PhaseFailed
	exec.status.Error = cause.Error()
	exec.notifyLocked()
	exec.mu.Unlock()

	metrics.ComparisonsTotal.WithLabelValues(string(PhaseFailed)).Inc()
	metrics.ComparisonDuration.Observe(time.Since(start).Seconds())

	logger.Error("Comparison failed",
		zap.String("comparison_id", comp.ComparisonID),
		zap.Error(cause),
	)

	o.deactivate(comp.ComparisonID, exec)
}

func (o *Orchestrator) deactivate(comparisonID string, exec *execution) {
	o.mu.Lock()
	delete(o.active, comparisonID)
	o.mu.Unlock()

	exec.mu.Lock()
	for ch := range exec.subs {
		delete(exec.subs, ch)
		close(ch)
	}
	exec.mu.Unlock()
}

func (e *execution) setPhase(phase Phase) {
	e.mu.Lock()
	e.status.Phase = phase
	e.notifyLocked()
	e.mu.Unlock()
}

func (e *execution) runStarted(agentID, agentName string) {
	e.mu.Lock()
	activity, ok := e.inflight[agentID]
	if !ok {
		activity = &AgentActivity{AgentID: agentID, AgentName: agentName}
		e.inflight[agentID] = activity
	}
	activity.InFlight++
	e.notifyLocked()
	e.mu.Unlock()
}

func (e *execution) runSettled(run *simulation.Run) {
	e.mu.Lock()
	if activity, ok := e.inflight[run.AgentID]; ok {
		activity.InFlight--
		if activity.InFlight <= 0 {
			delete(e.inflight, run.AgentID)
		}
	}
	switch run.Status {
	case simulation.RunCompleted:
		e.status.CompletedRuns++
	case simulation.RunFailed:
		e.status.FailedRuns++
	}
	e.notifyLocked()
	e.mu.Unlock()
}

func (e *execution) snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *execution) statusLocked() Status {
	status := e.status
	for _, activity := range e.inflight {
		status.ActiveAgents = append(status.ActiveAgents, *activity)
	}
	sort.Slice(status.ActiveAgents, func(i, j int) bool {
		return status.ActiveAgents[i].AgentID < status.ActiveAgents[j].AgentID
	})
	return status
}

func (e *execution) notifyLocked() {
	status := e.statusLocked()
	for ch := range e.subs {
		select {
		case ch <- status:
		default:
		}
	}
}
