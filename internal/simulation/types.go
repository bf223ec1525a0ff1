package simulation

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one utterance in a simulated conversation. Agent turns carry the
// measured response latency and an evaluation result.
type Turn struct {
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	LatencyMS float64     `json:"latency_ms,omitempty"`
	Result    *EvalResult `json:"evaluation,omitempty"`
}

// TurnEvaluation holds the scored dimensions for a single agent turn.
// All scores are on a 0-10 scale.
type TurnEvaluation struct {
	Accuracy             float64  `json:"accuracy"`
	ContextUnderstanding float64  `json:"context_understanding"`
	ResponseQuality      float64  `json:"response_quality"`
	Reasoning            string   `json:"reasoning"`
	Issues               []string `json:"issues,omitempty"`
	LowConfidence        bool     `json:"low_confidence,omitempty"`
}

// EvalResult is the outcome of evaluating one agent turn. When the judge
// call fails the evaluation is recorded as unavailable rather than being
// silently dropped or scored zero.
type EvalResult struct {
	Evaluation        *TurnEvaluation `json:"scores,omitempty"`
	UnavailableReason string          `json:"unavailable_reason,omitempty"`
}

func EvalOK(eval TurnEvaluation) *EvalResult {
	return &EvalResult{Evaluation: &eval}
}

func EvalUnavailable(reason string) *EvalResult {
	return &EvalResult{UnavailableReason: reason}
}

// OK returns the scores and whether the evaluation succeeded. Callers must
// branch on ok before reading scores.
func (r *EvalResult) OK() (*TurnEvaluation, bool) {
	if r == nil || r.Evaluation == nil {
		return nil, false
	}
	return r.Evaluation, true
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type EndReason string

const (
	EndAgentHangup     EndReason = "agent_hangup"
	EndMaxTurnsReached EndReason = "max_turns_reached"
	EndTimeout         EndReason = "timeout"
	EndError           EndReason = "error"
)

// PoorTurn references an agent turn that scored badly, kept for the issue
// report so reviewers can jump straight to the weak spots.
type PoorTurn struct {
	TurnIndex int      `json:"turn_index"`
	Content   string   `json:"content"`
	Accuracy  float64  `json:"accuracy"`
	Reasoning string   `json:"reasoning"`
	Issues    []string `json:"issues,omitempty"`
}

// Run is one full simulated conversation between the scripted user and an
// agent, plus everything measured along the way.
type Run struct {
	RunID            string    `json:"run_id"`
	ComparisonID     string    `json:"comparison_id"`
	AgentID          string    `json:"agent_id"`
	AgentName        string    `json:"agent_name"`
	SimulationNumber int       `json:"simulation_number"`
	Status           RunStatus `json:"status"`
	Turns            []Turn    `json:"turns"`
	EndReason        EndReason `json:"end_reason,omitempty"`
	ProperHangup     bool      `json:"proper_hangup"`
	TotalTurns       int       `json:"total_turns"`

	// Latency percentiles in seconds over this run's agent turns.
	LatencyMedian *float64 `json:"latency_median,omitempty"`
	LatencyP75    *float64 `json:"latency_p75,omitempty"`
	LatencyP99    *float64 `json:"latency_p99,omitempty"`

	// OverallAccuracy is on a 0-1 scale; the ratings are 0-10.
	OverallAccuracy    *float64 `json:"overall_accuracy,omitempty"`
	HumanlikeRating    *float64 `json:"humanlike_rating,omitempty"`
	OutcomeOrientation *float64 `json:"outcome_orientation,omitempty"`
	OutcomeReasoning   string   `json:"outcome_reasoning,omitempty"`

	LeastAccurateTurns []PoorTurn `json:"least_accurate_turns,omitempty"`

	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AgentTurnLatencies returns the latencies, in milliseconds, of the agent
// turns that were actually generated (the scripted welcome is excluded).
func (r *Run) AgentTurnLatencies() []float64 {
	var out []float64
	for i, turn := range r.Turns {
		if turn.Role != RoleAgent {
			continue
		}
		if i == 0 {
			// Welcome message, emitted without a model call.
			continue
		}
		out = append(out, turn.LatencyMS)
	}
	return out
}
