package comparison

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voicearena/backend/internal/simulation"
)

// Issue detection thresholds.
const (
	accuracyThresholdCritical = 0.5
	accuracyThresholdHigh     = 0.7
	hangupRateCritical        = 0.4
	hangupRateHigh            = 0.6
	latencyP99ThresholdHigh   = 3.0
	humanlikeThresholdMedium  = 5.0
	outcomeThresholdMedium    = 7.0
	zeroVarianceThreshold     = 0.001

	maxIssues = 3
)

var severityOrder = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
}

// AnalyzeIssues runs the rule set against the winning agent's aggregated
// metrics and returns at most three issues, worst first. The rules are
// pure functions of the ranking row; the runs only supply example turns.
func AnalyzeIssues(ranking AgentRanking, runs []*simulation.Run) []CriticalIssue {
	var issues []CriticalIssue

	if issue := checkAccuracy(ranking, runs); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := checkHangupRate(ranking); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := checkLatency(ranking); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := checkZeroVariance(ranking); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := checkHumanlike(ranking); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := checkOutcome(ranking); issue != nil {
		issues = append(issues, *issue)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return severityOrder[issues[i].Severity] < severityOrder[issues[j].Severity]
	})

	if len(issues) > maxIssues {
		issues = issues[:maxIssues]
	}
	return issues
}

func checkAccuracy(ranking AgentRanking, runs []*simulation.Run) *CriticalIssue {
	if ranking.Accuracy.Mean == nil {
		return nil
	}
	accuracy := *ranking.Accuracy.Mean

	if accuracy < accuracyThresholdCritical {
		return &CriticalIssue{
			Severity:    SeverityCritical,
			Category:    "accuracy",
			Title:       "Very Low Turn Accuracy",
			Description: fmt.Sprintf("Average accuracy of %.1f%% is critically low. The agent frequently misunderstands or mishandles user turns.", accuracy*100),
			MetricValue: accuracy,
			Threshold:   accuracyThresholdCritical,
			RecommendedFix: "Review agent prompt quality and conversation flow adherence. " +
				"Check whether the system prompt covers the scenarios users actually raise.",
			ExampleTurns: worstTurns(runs),
		}
	}
	if accuracy < accuracyThresholdHigh {
		return &CriticalIssue{
			Severity:    SeverityHigh,
			Category:    "accuracy",
			Title:       "Low Turn Accuracy",
			Description: fmt.Sprintf("Average accuracy of %.1f%% is below the acceptable threshold.", accuracy*100),
			MetricValue: accuracy,
			Threshold:   accuracyThresholdHigh,
			RecommendedFix: "Review agent prompt quality and conversation flow adherence. " +
				"Tighten instructions around the turns that score poorly.",
			ExampleTurns: worstTurns(runs),
		}
	}
	return nil
}

func checkHangupRate(ranking AgentRanking) *CriticalIssue {
	if ranking.HangupSuccessRate == nil {
		return nil
	}
	rate := *ranking.HangupSuccessRate

	if rate < hangupRateCritical {
		return &CriticalIssue{
			Severity:    SeverityCritical,
			Category:    "hangup",
			Title:       "Very Low Hangup Success Rate",
			Description: fmt.Sprintf("Only %.0f%% of conversations ended properly. The agent rarely closes calls on its own terms.", rate*100),
			MetricValue: rate,
			Threshold:   hangupRateCritical,
			RecommendedFix: "Review and strengthen hangup prompt logic. " +
				"Add explicit conversation completion criteria the agent can act on.",
		}
	}
	if rate < hangupRateHigh {
		return &CriticalIssue{
			Severity:    SeverityHigh,
			Category:    "hangup",
			Title:       "Low Hangup Success Rate",
			Description: fmt.Sprintf("Only %.0f%% of conversations ended properly.", rate*100),
			MetricValue: rate,
			Threshold:   hangupRateHigh,
			RecommendedFix: "Improve the hangup prompt to better recognize conversation completion signals " +
				"such as confirmations and goodbyes.",
		}
	}
	return nil
}

func checkLatency(ranking AgentRanking) *CriticalIssue {
	if ranking.LatencyP99.Mean == nil {
		return nil
	}
	p99 := *ranking.LatencyP99.Mean
	if p99 <= latencyP99ThresholdHigh {
		return nil
	}

	return &CriticalIssue{
		Severity:    SeverityHigh,
		Category:    "latency",
		Title:       "High P99 Latency",
		Description: fmt.Sprintf("P99 latency of %.2fs is above the acceptable threshold. Slow worst-case responses break the flow of a voice call.", p99),
		MetricValue: p99,
		Threshold:   latencyP99ThresholdHigh,
		RecommendedFix: "Optimize agent response generation. " +
			"Consider a faster model or a shorter system prompt.",
	}
}

func checkZeroVariance(ranking AgentRanking) *CriticalIssue {
	var flat []string
	if ranking.Accuracy.Std != nil && *ranking.Accuracy.Std < zeroVarianceThreshold {
		flat = append(flat, "accuracy")
	}
	if ranking.Humanlike.Std != nil && *ranking.Humanlike.Std < zeroVarianceThreshold {
		flat = append(flat, "humanlike")
	}
	if ranking.AvgTurns.Std != nil && *ranking.AvgTurns.Std < zeroVarianceThreshold {
		flat = append(flat, "avg_turns")
	}

	if len(flat) < 2 {
		return nil
	}

	return &CriticalIssue{
		Severity:    SeverityHigh,
		Category:    "variance",
		Title:       "Zero Variance in Multiple Metrics",
		Description: fmt.Sprintf("Suspicious zero variance detected in %s. Independent simulations should show natural variation.", strings.Join(flat, ", ")),
		MetricValue: float64(len(flat)),
		Threshold:   zeroVarianceThreshold,
		RecommendedFix: "Investigate aggregation logic for potential bugs. " +
			"Verify simulations are actually running independently.",
	}
}

func checkHumanlike(ranking AgentRanking) *CriticalIssue {
	if ranking.Humanlike.Mean == nil {
		return nil
	}
	humanlike := *ranking.Humanlike.Mean
	if humanlike >= humanlikeThresholdMedium {
		return nil
	}

	return &CriticalIssue{
		Severity:    SeverityMedium,
		Category:    "humanlike",
		Title:       "Low Human-like Score",
		Description: fmt.Sprintf("Human-like rating of %.1f/10 indicates responses feel robotic.", humanlike),
		MetricValue: humanlike,
		Threshold:   humanlikeThresholdMedium,
		RecommendedFix: "Improve conversational tone in the system prompt. " +
			"Add natural fillers and vary sentence structure.",
	}
}

func checkOutcome(ranking AgentRanking) *CriticalIssue {
	if ranking.Outcome.Mean == nil {
		return nil
	}
	outcome := *ranking.Outcome.Mean
	if outcome >= outcomeThresholdMedium {
		return nil
	}

	return &CriticalIssue{
		Severity:    SeverityMedium,
		Category:    "outcome",
		Title:       "Low Outcome Orientation Score",
		Description: fmt.Sprintf("Outcome score of %.1f/10 suggests the agent is not effectively driving toward the expected outcome.", outcome),
		MetricValue: outcome,
		Threshold:   outcomeThresholdMedium,
		RecommendedFix: "Make the expected outcome explicit in the system prompt and " +
			"instruct the agent to steer the conversation toward it.",
	}
}

// worstTurns gathers the lowest scoring agent turns across runs, capped at
// three, to attach as evidence on accuracy issues.
func worstTurns(runs []*simulation.Run) []simulation.PoorTurn {
	var all []simulation.PoorTurn
	for _, run := range runs {
		all = append(all, run.LeastAccurateTurns...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Accuracy < all[j].Accuracy })
	if len(all) > 3 {
		all = all[:3]
	}
	return all
}
