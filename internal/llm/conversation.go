package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/scenario"
	"github.com/voicearena/backend/internal/simulation"
	"github.com/voicearena/backend/pkg/config"
	"github.com/voicearena/backend/pkg/logger"
)

// completeSentinel is what the simulated user says when it considers the
// conversation over.
const completeSentinel = "CONVERSATION_COMPLETE"

// ConversationService backs every remote capability of the simulation with
// the shared LLM client. Different concerns use different models: a cheap
// model plays the user and checks hangups, a stronger one judges.
type ConversationService struct {
	client          *Client
	userModel       string
	hangupModel     string
	validationModel string
}

func NewConversationService(client *Client, cfg config.LLMConfig) *ConversationService {
	return &ConversationService{
		client:          client,
		userModel:       cfg.UserModel,
		hangupModel:     cfg.HangupModel,
		validationModel: cfg.ValidationModel,
	}
}

// NextUserTurn generates the simulated user's next utterance from the
// scenario and the conversation so far.
func (s *ConversationService) NextUserTurn(ctx context.Context, sc scenario.Config, history []simulation.Turn) (string, bool, error) {
	prompt := fmt.Sprintf(`You are simulating a realistic user in a voice conversation scenario.

**User Persona**: %s

**Situation**: %s

**Expected Outcome**: %s

**Agent Overview**: %s

**Language**: %s

**Conversation So Far**:
%s

**Instructions**:
1. Generate the NEXT realistic user response in %s
2. Stay in character as the user persona described above
3. Respond naturally to the agent's last message
4. Work towards achieving the expected outcome
5. Keep responses concise and conversational (1-3 sentences)
6. If the agent has clearly ended the conversation or achieved the outcome, return exactly: "%s"

**Return ONLY the user's next message as plain text (no formatting, no prefixes).**`,
		sc.UserPersona, sc.Situation, sc.ExpectedOutcome, sc.AgentOverview, sc.PrimaryLanguage,
		formatHistory(history), sc.PrimaryLanguage, completeSentinel)

	resp, err := s.client.Complete(ctx, CompletionRequest{
		Model:       s.userModel,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: 0.8,
		MaxTokens:   200,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to generate user turn: %w", err)
	}

	utterance := strings.TrimSpace(resp.Content)
	if strings.Contains(utterance, completeSentinel) {
		logger.Debug("Simulated user ended the conversation", zap.Int("history_turns", len(history)))
		return "", true, nil
	}

	return utterance, false, nil
}

// RespondAsAgent impersonates the agent under test using its own system
// prompt and model settings.
func (s *ConversationService) RespondAsAgent(ctx context.Context, cfg *agents.Config, history []simulation.Turn) (string, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: cfg.SystemPrompt})
	for _, turn := range history {
		role := RoleUser
		if turn.Role == simulation.RoleAgent {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: turn.Content})
	}

	resp, err := s.client.Complete(ctx, CompletionRequest{
		Model:       cfg.LLMModel,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate agent response: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

type turnScoreResponse struct {
	Accuracy             float64  `json:"accuracy"`
	ContextUnderstanding float64  `json:"context_understanding"`
	ResponseQuality      float64  `json:"response_quality"`
	Reasoning            string   `json:"reasoning"`
	Issues               []string `json:"issues"`
}

// ScoreTurn asks the judge model to rate a single agent turn against the
// scenario and the preceding context window.
func (s *ConversationService) ScoreTurn(ctx context.Context, sc scenario.Config, history []simulation.Turn, turn simulation.Turn) (*simulation.TurnScores, error) {
	prompt := fmt.Sprintf(`You are evaluating an AI agent's response in a conversation.

**Scenario Context**:
- Agent Overview: %s
- User Persona: %s
- Situation: %s
- Expected Outcome: %s

**Previous Context**:
%s

**Agent's Response**:
%s

**Instructions**:
Evaluate this response given the scenario and context.
Consider:
1. Does it align with the agent's role and overview?
2. Is it contextually relevant to the previous turns?
3. Does it move toward the expected outcome?
4. Is the tone and approach appropriate?

**IMPORTANT**: Be realistic and critical. Most real conversations will have issues. Don't inflate scores.

Return ONLY a JSON object:
{
    "accuracy": <0-10 float, how correct and appropriate the response is>,
    "context_understanding": <0-10 float, how well it uses the preceding turns>,
    "response_quality": <0-10 float, how natural and human-like it sounds>,
    "reasoning": "<1-2 sentences explaining the scores>",
    "issues": ["<short issue descriptions, empty if none>"]
}`,
		sc.AgentOverview, sc.UserPersona, sc.Situation, sc.ExpectedOutcome,
		formatHistoryOrStart(history), turn.Content)

	resp, err := s.client.Complete(ctx, CompletionRequest{
		Model: s.validationModel,
		Messages: []Message{
			{Role: RoleSystem, Content: "You are an expert evaluator of conversational AI responses. You provide accurate, critical assessments."},
			{Role: RoleUser, Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to score turn: %w", err)
	}

	raw, err := ExtractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse turn scores: %w", err)
	}

	var parsed turnScoreResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse turn scores: %w", err)
	}

	return &simulation.TurnScores{
		Accuracy:             parsed.Accuracy,
		ContextUnderstanding: parsed.ContextUnderstanding,
		ResponseQuality:      parsed.ResponseQuality,
		Reasoning:            parsed.Reasoning,
		Issues:               parsed.Issues,
	}, nil
}

type outcomeScoreResponse struct {
	Outcome   float64 `json:"outcome"`
	Reasoning string  `json:"reasoning"`
}

// ScoreOutcome rates how far the whole conversation got toward the
// scenario's expected outcome.
func (s *ConversationService) ScoreOutcome(ctx context.Context, sc scenario.Config, turns []simulation.Turn) (float64, string, error) {
	prompt := fmt.Sprintf(`You are evaluating whether a voice AI conversation achieved its goal.

**Expected Outcome**: %s

**Agent Overview**: %s

**CONVERSATION TRANSCRIPT**:
%s

**Instructions**:
Rate how well the expected outcome was achieved on a 0-10 scale:
- 0-2: Outcome not achieved, conversation went off track
- 3-4: Minor progress but largely unsuccessful
- 5-6: Partial achievement, some key aspects addressed
- 7-8: Most of the outcome achieved with minor gaps
- 9-10: Expected outcome fully achieved

**IMPORTANT**: Be realistic and critical. Don't inflate scores.

Return ONLY a JSON object:
{
    "outcome": <0-10 float>,
    "reasoning": "<2-3 sentences explaining the outcome score>"
}`,
		sc.ExpectedOutcome, sc.AgentOverview, formatHistory(turns))

	resp, err := s.client.Complete(ctx, CompletionRequest{
		Model: s.validationModel,
		Messages: []Message{
			{Role: RoleSystem, Content: "You are an expert evaluator of conversational AI. You provide accurate, critical assessments."},
			{Role: RoleUser, Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to score outcome: %w", err)
	}

	raw, err := ExtractJSON(resp.Content)
	if err != nil {
		return 0, "", fmt.Errorf("failed to parse outcome score: %w", err)
	}

	var parsed outcomeScoreResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return 0, "", fmt.Errorf("failed to parse outcome score: %w", err)
	}

	return parsed.Outcome, parsed.Reasoning, nil
}

type hangupResponse struct {
	Hangup string `json:"hangup"`
}

// ShouldHangup checks the agent's hangup criteria against the transcript.
func (s *ConversationService) ShouldHangup(ctx context.Context, hangupPrompt string, history []simulation.Turn) (bool, error) {
	prompt := fmt.Sprintf(`An AI voice agent has the following criteria for ending a call:

%s

**Conversation So Far**:
%s

Based on the criteria and the conversation, should the agent hang up now?

Return ONLY a JSON object: {"hangup": "Yes"} or {"hangup": "No"}`,
		hangupPrompt, formatHistory(history))

	resp, err := s.client.Complete(ctx, CompletionRequest{
		Model:       s.hangupModel,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: 0,
		MaxTokens:   50,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check hangup: %w", err)
	}

	raw, err := ExtractJSON(resp.Content)
	if err != nil {
		return false, fmt.Errorf("failed to parse hangup check: %w", err)
	}

	var parsed hangupResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return false, fmt.Errorf("failed to parse hangup check: %w", err)
	}

	return strings.EqualFold(strings.TrimSpace(parsed.Hangup), "yes"), nil
}

func formatHistory(turns []simulation.Turn) string {
	if len(turns) == 0 {
		return "(No conversation yet - this will be the first user message)"
	}
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(turn.Role)), turn.Content))
	}
	return strings.Join(lines, "\n")
}

func formatHistoryOrStart(turns []simulation.Turn) string {
	if len(turns) == 0 {
		return "(Start of conversation)"
	}
	return formatHistory(turns)
}
