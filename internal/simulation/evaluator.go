package simulation

import (
	"context"

	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/scenario"
	"github.com/voicearena/backend/pkg/logger"
)

// contextWindow is how many preceding turns the judge sees when scoring
// a single agent turn.
const contextWindow = 6

// TurnScores is the judge's raw output for one agent turn, before range
// checks are applied.
type TurnScores struct {
	Accuracy             float64
	ContextUnderstanding float64
	ResponseQuality      float64
	Reasoning            string
	Issues               []string
}

// The remote capabilities a simulation needs. Production wiring backs all
// of them with the LLM client; tests substitute fakes.
type (
	UserSimulator interface {
		// NextUserTurn produces the simulated user's next utterance.
		// done reports that the user considers the conversation over.
		NextUserTurn(ctx context.Context, sc scenario.Config, history []Turn) (utterance string, done bool, err error)
	}

	AgentResponder interface {
		RespondAsAgent(ctx context.Context, cfg *agents.Config, history []Turn) (string, error)
	}

	TurnScorer interface {
		ScoreTurn(ctx context.Context, sc scenario.Config, history []Turn, turn Turn) (*TurnScores, error)
	}

	OutcomeScorer interface {
		ScoreOutcome(ctx context.Context, sc scenario.Config, turns []Turn) (score float64, reasoning string, err error)
	}

	HangupDetector interface {
		ShouldHangup(ctx context.Context, hangupPrompt string, history []Turn) (bool, error)
	}
)

// Evaluator scores agent turns one at a time, each against a bounded
// window of preceding conversation.
type Evaluator struct {
	scorer TurnScorer
	window int
}

func NewEvaluator(scorer TurnScorer) *Evaluator {
	return &Evaluator{scorer: scorer, window: contextWindow}
}

// Evaluate scores one agent turn. A judge failure yields an unavailable
// result; it never aborts the conversation.
func (e *Evaluator) Evaluate(ctx context.Context, sc scenario.Config, history []Turn, turn Turn) *EvalResult {
	window := history
	if len(window) > e.window {
		window = window[len(window)-e.window:]
	}

	scores, err := e.scorer.ScoreTurn(ctx, sc, window, turn)
	if err != nil {
		logger.Warn("Turn evaluation unavailable", zap.Error(err))
		return EvalUnavailable(err.Error())
	}

	eval := TurnEvaluation{
		Reasoning: scores.Reasoning,
		Issues:    scores.Issues,
	}
	eval.Accuracy, eval.LowConfidence = clampScore(scores.Accuracy, eval.LowConfidence)
	eval.ContextUnderstanding, eval.LowConfidence = clampScore(scores.ContextUnderstanding, eval.LowConfidence)
	eval.ResponseQuality, eval.LowConfidence = clampScore(scores.ResponseQuality, eval.LowConfidence)

	return EvalOK(eval)
}

// clampScore forces a judge score into [0,10]. A score outside the range
// is kept at the boundary and flags the whole evaluation as low confidence.
func clampScore(v float64, alreadyFlagged bool) (float64, bool) {
	switch {
	case v < 0:
		return 0, true
	case v > 10:
		return 10, true
	default:
		return v, alreadyFlagged
	}
}
