package simulation

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/metrics"
	"github.com/voicearena/backend/internal/scenario"
	"github.com/voicearena/backend/pkg/logger"
)

// Simulator drives a single conversation between the simulated user and an
// impersonated agent, scoring agent turns as it goes.
type Simulator struct {
	user      UserSimulator
	agent     AgentResponder
	evaluator *Evaluator
	outcome   OutcomeScorer
	hangup    HangupDetector
	maxTurns  int
	timeout   time.Duration
}

func NewSimulator(user UserSimulator, agent AgentResponder, evaluator *Evaluator, outcome OutcomeScorer, hangup HangupDetector, maxTurns, timeoutSec int) *Simulator {
	if maxTurns == 0 {
		maxTurns = 10
	}
	if timeoutSec == 0 {
		timeoutSec = 300
	}
	return &Simulator{
		user:      user,
		agent:     agent,
		evaluator: evaluator,
		outcome:   outcome,
		hangup:    hangup,
		maxTurns:  maxTurns,
		timeout:   time.Duration(timeoutSec) * time.Second,
	}
}

// Run executes the conversation and settles the run in place. Every run
// ends either completed (with an end reason) or failed (with an error);
// there is no third state.
func (s *Simulator) Run(ctx context.Context, run *Run, cfg *agents.Config, sc scenario.Config) {
	run.Status = RunRunning
	run.StartedAt = time.Now()

	metrics.SimulationsActive.Inc()
	defer metrics.SimulationsActive.Dec()

	log := logger.GetLogger().With(
		zap.String("run_id", run.RunID),
		zap.String("agent_id", run.AgentID),
		zap.Int("simulation_number", run.SimulationNumber),
	)
	log.Info("Simulation started")

	convCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if cfg.WelcomeMessage != "" {
		run.Turns = append(run.Turns, Turn{
			Role:      RoleAgent,
			Content:   cfg.WelcomeMessage,
			LatencyMS: 0,
			Result:    EvalUnavailable("scripted welcome message"),
		})
	}

	timedOut := false

	for pair := 0; pair < s.maxTurns; pair++ {
		utterance, done, err := s.user.NextUserTurn(convCtx, sc, run.Turns)
		if err != nil {
			if isDeadline(convCtx, err) {
				timedOut = true
				break
			}
			s.fail(run, log, "user simulation failed: "+err.Error())
			return
		}
		if done {
			run.EndReason = EndAgentHangup
			run.ProperHangup = false
			break
		}

		run.Turns = append(run.Turns, Turn{Role: RoleUser, Content: utterance})

		start := time.Now()
		response, err := s.agent.RespondAsAgent(convCtx, cfg, run.Turns)
		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		if err != nil {
			if isDeadline(convCtx, err) {
				timedOut = true
				// The dangling user turn stays in the transcript.
				break
			}
			s.fail(run, log, "agent response failed: "+err.Error())
			return
		}

		metrics.TurnLatency.Observe(latencyMS / 1000.0)

		agentTurn := Turn{Role: RoleAgent, Content: response, LatencyMS: latencyMS}
		agentTurn.Result = s.evaluator.Evaluate(convCtx, sc, run.Turns, agentTurn)
		run.Turns = append(run.Turns, agentTurn)

		if cfg.HangupPrompt != "" {
			shouldHangup, err := s.hangup.ShouldHangup(convCtx, cfg.HangupPrompt, run.Turns)
			if err != nil {
				if isDeadline(convCtx, err) {
					timedOut = true
					break
				}
				log.Warn("Hangup check failed, continuing", zap.Error(err))
			} else if shouldHangup {
				run.EndReason = EndAgentHangup
				run.ProperHangup = true
				break
			}
		}
	}

	if timedOut {
		run.EndReason = EndTimeout
	}
	if run.EndReason == "" {
		run.EndReason = EndMaxTurnsReached
	}

	// Finalization uses the parent context: a conversation that hit its
	// time budget still gets its outcome scored.
	s.finalize(ctx, run, sc, log)
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil
}

func (s *Simulator) fail(run *Run, log *zap.Logger, msg string) {
	now := time.Now()
	run.Status = RunFailed
	run.EndReason = EndError
	run.Error = msg
	run.CompletedAt = &now
	metrics.RunsTotal.WithLabelValues(string(RunFailed)).Inc()
	log.Error("Simulation failed", zap.String("error", msg))
}

func (s *Simulator) finalize(ctx context.Context, run *Run, sc scenario.Config, log *zap.Logger) {
	for _, turn := range run.Turns {
		if turn.Role == RoleUser {
			run.TotalTurns++
		}
	}

	if p := CalculatePercentiles(run.AgentTurnLatencies()); p != nil {
		run.LatencyMedian = &p.Median
		run.LatencyP75 = &p.P75
		run.LatencyP99 = &p.P99
	}

	s.summarizeTurnScores(run)

	if s.outcome != nil && run.TotalTurns > 0 {
		score, reasoning, err := s.outcome.ScoreOutcome(ctx, sc, run.Turns)
		if err != nil {
			log.Warn("Outcome scoring unavailable", zap.Error(err))
		} else {
			score, _ = clampScore(score, false)
			run.OutcomeOrientation = &score
			run.OutcomeReasoning = reasoning
		}
	}

	now := time.Now()
	run.Status = RunCompleted
	run.CompletedAt = &now
	metrics.RunsTotal.WithLabelValues(string(RunCompleted)).Inc()

	log.Info("Simulation completed",
		zap.String("end_reason", string(run.EndReason)),
		zap.Bool("proper_hangup", run.ProperHangup),
		zap.Int("total_turns", run.TotalTurns),
	)
}

// summarizeTurnScores rolls per-turn evaluations up into run-level metrics:
// overall accuracy on a 0-1 scale, humanlike rating on 0-10, and the worst
// scoring turns for the issue report.
func (s *Simulator) summarizeTurnScores(run *Run) {
	var accuracySum, qualitySum float64
	var scored int
	var poor []PoorTurn

	for i, turn := range run.Turns {
		eval, ok := turn.Result.OK()
		if !ok {
			continue
		}
		scored++
		accuracySum += (eval.Accuracy + eval.ContextUnderstanding) / 2
		qualitySum += eval.ResponseQuality

		if eval.Accuracy < 7 {
			poor = append(poor, PoorTurn{
				TurnIndex: i,
				Content:   turn.Content,
				Accuracy:  eval.Accuracy,
				Reasoning: eval.Reasoning,
				Issues:    eval.Issues,
			})
		}
	}

	if scored == 0 {
		return
	}

	accuracy := accuracySum / float64(scored) / 10.0
	humanlike := qualitySum / float64(scored)
	run.OverallAccuracy = &accuracy
	run.HumanlikeRating = &humanlike

	sort.Slice(poor, func(i, j int) bool { return poor[i].Accuracy < poor[j].Accuracy })
	if len(poor) > 3 {
		poor = poor[:3]
	}
	run.LeastAccurateTurns = poor
}
