package comparison

import (
	"time"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/scenario"
	"github.com/voicearena/backend/internal/simulation"
)

// Phase is where a comparison currently is in its lifecycle. Phases only
// ever move forward; failed is reachable from any of them.
type Phase string

const (
	PhaseFetchingConfigs    Phase = "fetching_configs"
	PhaseRunningSimulations Phase = "running_simulations"
	PhaseAggregating        Phase = "aggregating"
	PhaseAnalyzing          Phase = "analyzing"
	PhaseCompleted          Phase = "completed"
	PhaseFailed             Phase = "failed"
)

// Comparison is one head-to-head evaluation of a set of agents against a
// single scenario. Once completed it is immutable; a rerun produces a new
// comparison.
type Comparison struct {
	ComparisonID   string            `json:"comparison_id"`
	Name           string            `json:"name,omitempty"`
	Scenario       scenario.Config   `json:"scenario"`
	AgentIDs       []string          `json:"agent_ids"`
	Variables      map[string]string `json:"variables,omitempty"`

	// ManualAgents holds inline agent definitions keyed by their generated
	// IDs; those IDs also appear in AgentIDs.
	ManualAgents   map[string]*agents.Config `json:"manual_agents,omitempty"`
	NumSimulations int                       `json:"num_simulations"`
	Phase          Phase                     `json:"phase"`
	Error          string                    `json:"error,omitempty"`
	Result         *Result                   `json:"result,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	CompletedAt    *time.Time                `json:"completed_at,omitempty"`
}

// AgentActivity reports how many runs an agent has in flight right now.
type AgentActivity struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	InFlight  int    `json:"in_flight"`
}

// Status is a point-in-time snapshot of comparison progress. Reading it
// never mutates anything; repeated reads without intervening work return
// identical values.
type Status struct {
	ComparisonID  string          `json:"comparison_id"`
	Phase         Phase           `json:"phase"`
	TotalRuns     int             `json:"total_runs"`
	CompletedRuns int             `json:"completed_runs"`
	FailedRuns    int             `json:"failed_runs"`
	ActiveAgents  []AgentActivity `json:"active_agents,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// MetricStats summarizes one metric across an agent's completed runs.
// Nil fields mean the statistic is undefined, which is distinct from zero:
// an agent whose every run failed has no accuracy, not an accuracy of 0.
type MetricStats struct {
	Mean *float64 `json:"mean,omitempty"`
	Std  *float64 `json:"std,omitempty"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// AgentRanking is one agent's aggregated row in the comparison result.
type AgentRanking struct {
	Rank      int    `json:"rank"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`

	TotalSimulations      int `json:"total_simulations"`
	SuccessfulSimulations int `json:"successful_simulations"`
	FailedSimulations     int `json:"failed_simulations"`

	Accuracy  MetricStats `json:"accuracy"`
	Humanlike MetricStats `json:"humanlike"`
	Outcome   MetricStats `json:"outcome"`
	Composite MetricStats `json:"composite"`
	AvgTurns  MetricStats `json:"avg_turns"`

	LatencyMedian MetricStats `json:"latency_median"`
	LatencyP75    MetricStats `json:"latency_p75"`
	LatencyP99    MetricStats `json:"latency_p99"`

	HangupSuccessRate *float64 `json:"hangup_success_rate,omitempty"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// CriticalIssue is one rule-based finding about the winning agent.
type CriticalIssue struct {
	Severity       Severity              `json:"severity"`
	Category       string                `json:"category"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	MetricValue    float64               `json:"metric_value"`
	Threshold      float64               `json:"threshold"`
	RecommendedFix string                `json:"recommended_fix"`
	ExampleTurns   []simulation.PoorTurn `json:"example_turns,omitempty"`
}

// Result is the final, persisted outcome of a comparison.
type Result struct {
	TotalAgents         int             `json:"total_agents"`
	SimulationsPerAgent int             `json:"simulations_per_agent"`
	Rankings            []AgentRanking  `json:"rankings"`
	CriticalIssues      []CriticalIssue `json:"critical_issues"`
}
