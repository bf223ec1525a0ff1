package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/comparison"
	"github.com/voicearena/backend/internal/simulation"
	"github.com/voicearena/backend/pkg/logger"
)

// Client persists comparisons, simulation runs and rankings in SQLite.
// It implements comparison.Store.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS comparisons (
		comparison_id TEXT PRIMARY KEY,
		name TEXT,
		scenario_config TEXT NOT NULL,
		agent_ids TEXT NOT NULL,
		variables TEXT,
		manual_agents TEXT,
		num_simulations INTEGER NOT NULL,
		phase TEXT NOT NULL,
		error_message TEXT,
		result TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_comparisons_created ON comparisons(created_at);

	CREATE TABLE IF NOT EXISTS comparison_runs (
		run_id TEXT PRIMARY KEY,
		comparison_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		agent_name TEXT,
		simulation_number INTEGER,
		status TEXT NOT NULL,
		end_reason TEXT,
		proper_hangup INTEGER NOT NULL DEFAULT 0,
		total_turns INTEGER NOT NULL DEFAULT 0,
		transcript TEXT,
		latency_median REAL,
		latency_p75 REAL,
		latency_p99 REAL,
		overall_accuracy REAL,
		humanlike_rating REAL,
		outcome_orientation REAL,
		outcome_reasoning TEXT,
		least_accurate_turns TEXT,
		error_message TEXT,
		started_at INTEGER,
		completed_at INTEGER,
		FOREIGN KEY (comparison_id) REFERENCES comparisons(comparison_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_runs_comparison ON comparison_runs(comparison_id);
	CREATE INDEX IF NOT EXISTS idx_runs_agent ON comparison_runs(agent_id);

	CREATE TABLE IF NOT EXISTS agent_rankings (
		comparison_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		agent_name TEXT,
		agent_rank INTEGER NOT NULL,
		total_simulations INTEGER NOT NULL,
		successful_simulations INTEGER NOT NULL,
		failed_simulations INTEGER NOT NULL,
		stats TEXT NOT NULL,
		PRIMARY KEY (comparison_id, agent_id),
		FOREIGN KEY (comparison_id) REFERENCES comparisons(comparison_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rankings_comparison ON agent_rankings(comparison_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) SaveComparison(ctx context.Context, comp *comparison.Comparison) error {
	scenarioJSON, err := json.Marshal(comp.Scenario)
	if err != nil {
		return fmt.Errorf("failed to marshal scenario: %w", err)
	}
	agentIDsJSON, err := json.Marshal(comp.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}
	variablesJSON, err := marshalNullable(comp.Variables, len(comp.Variables) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	manualJSON, err := marshalNullable(comp.ManualAgents, len(comp.ManualAgents) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal manual agents: %w", err)
	}
	resultJSON, err := marshalNullable(comp.Result, comp.Result == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO comparisons
		(comparison_id, name, scenario_config, agent_ids, variables, manual_agents,
		 num_simulations, phase, error_message, result, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		comp.ComparisonID, comp.Name, string(scenarioJSON), string(agentIDsJSON),
		variablesJSON, manualJSON, comp.NumSimulations, string(comp.Phase),
		nullString(comp.Error), resultJSON, comp.CreatedAt.Unix(), nullTime(comp.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save comparison: %w", err)
	}

	if comp.Result != nil {
		if err := c.saveRankings(ctx, comp.ComparisonID, comp.Result.Rankings); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) UpdateComparison(ctx context.Context, comp *comparison.Comparison) error {
	return c.SaveComparison(ctx, comp)
}

func (c *Client) GetComparison(ctx context.Context, comparisonID string) (*comparison.Comparison, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT comparison_id, name, scenario_config, agent_ids, variables, manual_agents,
		       num_simulations, phase, error_message, result, created_at, completed_at
		FROM comparisons WHERE comparison_id = ?`, comparisonID)

	comp, err := scanComparison(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("comparison %s not found", comparisonID)
	}
	return comp, err
}

func (c *Client) ListComparisons(ctx context.Context, limit, offset int) ([]*comparison.Comparison, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT comparison_id, name, scenario_config, agent_ids, variables, manual_agents,
		       num_simulations, phase, error_message, result, created_at, completed_at
		FROM comparisons ORDER BY created_at DESC, comparison_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list comparisons: %w", err)
	}
	defer rows.Close()

	var out []*comparison.Comparison
	for rows.Next() {
		comp, err := scanComparison(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	return out, rows.Err()
}

func (c *Client) SaveRun(ctx context.Context, run *simulation.Run) error {
	transcriptJSON, err := json.Marshal(run.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	poorTurnsJSON, err := marshalNullable(run.LeastAccurateTurns, len(run.LeastAccurateTurns) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal least accurate turns: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO comparison_runs
		(run_id, comparison_id, agent_id, agent_name, simulation_number, status, end_reason,
		 proper_hangup, total_turns, transcript, latency_median, latency_p75, latency_p99,
		 overall_accuracy, humanlike_rating, outcome_orientation, outcome_reasoning,
		 least_accurate_turns, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ComparisonID, run.AgentID, run.AgentName, run.SimulationNumber,
		string(run.Status), string(run.EndReason), boolToInt(run.ProperHangup), run.TotalTurns,
		string(transcriptJSON), nullFloat(run.LatencyMedian), nullFloat(run.LatencyP75),
		nullFloat(run.LatencyP99), nullFloat(run.OverallAccuracy), nullFloat(run.HumanlikeRating),
		nullFloat(run.OutcomeOrientation), nullString(run.OutcomeReasoning), poorTurnsJSON,
		nullString(run.Error), run.StartedAt.Unix(), nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*simulation.Run, error) {
	row := c.db.QueryRowContext(ctx, runSelect+` WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, err
}

func (c *Client) ListRuns(ctx context.Context, comparisonID string) ([]*simulation.Run, error) {
	rows, err := c.db.QueryContext(ctx, runSelect+`
		WHERE comparison_id = ? ORDER BY agent_id, simulation_number`, comparisonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*simulation.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListRankings returns the persisted ranking rows for a completed
// comparison, best rank first.
func (c *Client) ListRankings(ctx context.Context, comparisonID string) ([]comparison.AgentRanking, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT stats FROM agent_rankings WHERE comparison_id = ? ORDER BY agent_rank`, comparisonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rankings: %w", err)
	}
	defer rows.Close()

	var out []comparison.AgentRanking
	for rows.Next() {
		var statsJSON string
		if err := rows.Scan(&statsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan ranking: %w", err)
		}
		var ranking comparison.AgentRanking
		if err := json.Unmarshal([]byte(statsJSON), &ranking); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ranking: %w", err)
		}
		out = append(out, ranking)
	}
	return out, rows.Err()
}

func (c *Client) saveRankings(ctx context.Context, comparisonID string, rankings []comparison.AgentRanking) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_rankings WHERE comparison_id = ?`, comparisonID); err != nil {
		return fmt.Errorf("failed to clear rankings: %w", err)
	}

	for _, ranking := range rankings {
		statsJSON, err := json.Marshal(ranking)
		if err != nil {
			return fmt.Errorf("failed to marshal ranking: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_rankings
			(comparison_id, agent_id, agent_name, agent_rank, total_simulations,
			 successful_simulations, failed_simulations, stats)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			comparisonID, ranking.AgentID, ranking.AgentName, ranking.Rank,
			ranking.TotalSimulations, ranking.SuccessfulSimulations,
			ranking.FailedSimulations, string(statsJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to save ranking: %w", err)
		}
	}

	return tx.Commit()
}

const runSelect = `
	SELECT run_id, comparison_id, agent_id, agent_name, simulation_number, status, end_reason,
	       proper_hangup, total_turns, transcript, latency_median, latency_p75, latency_p99,
	       overall_accuracy, humanlike_rating, outcome_orientation, outcome_reasoning,
	       least_accurate_turns, error_message, started_at, completed_at
	FROM comparison_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanComparison(row scanner) (*comparison.Comparison, error) {
	var (
		comp          comparison.Comparison
		scenarioJSON  string
		agentIDsJSON  string
		variablesJSON sql.NullString
		manualJSON    sql.NullString
		phase         string
		errMsg        sql.NullString
		resultJSON    sql.NullString
		createdAt     int64
		completedAt   sql.NullInt64
	)

	err := row.Scan(&comp.ComparisonID, &comp.Name, &scenarioJSON, &agentIDsJSON,
		&variablesJSON, &manualJSON, &comp.NumSimulations, &phase, &errMsg,
		&resultJSON, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scenarioJSON), &comp.Scenario); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario: %w", err)
	}
	if err := json.Unmarshal([]byte(agentIDsJSON), &comp.AgentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent ids: %w", err)
	}
	if variablesJSON.Valid {
		if err := json.Unmarshal([]byte(variablesJSON.String), &comp.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}
	if manualJSON.Valid {
		if err := json.Unmarshal([]byte(manualJSON.String), &comp.ManualAgents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal manual agents: %w", err)
		}
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &comp.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	comp.Phase = comparison.Phase(phase)
	comp.Error = errMsg.String
	comp.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		comp.CompletedAt = &t
	}

	return &comp, nil
}

func scanRun(row scanner) (*simulation.Run, error) {
	var (
		run              simulation.Run
		status           string
		endReason        sql.NullString
		properHangup     int
		transcriptJSON   sql.NullString
		latMedian        sql.NullFloat64
		latP75           sql.NullFloat64
		latP99           sql.NullFloat64
		accuracy         sql.NullFloat64
		humanlike        sql.NullFloat64
		outcome          sql.NullFloat64
		outcomeReasoning sql.NullString
		poorTurnsJSON    sql.NullString
		errMsg           sql.NullString
		startedAt        int64
		completedAt      sql.NullInt64
	)

	err := row.Scan(&run.RunID, &run.ComparisonID, &run.AgentID, &run.AgentName,
		&run.SimulationNumber, &status, &endReason, &properHangup, &run.TotalTurns,
		&transcriptJSON, &latMedian, &latP75, &latP99, &accuracy, &humanlike,
		&outcome, &outcomeReasoning, &poorTurnsJSON, &errMsg, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if transcriptJSON.Valid {
		if err := json.Unmarshal([]byte(transcriptJSON.String), &run.Turns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
		}
	}
	if poorTurnsJSON.Valid {
		if err := json.Unmarshal([]byte(poorTurnsJSON.String), &run.LeastAccurateTurns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal least accurate turns: %w", err)
		}
	}

	run.Status = simulation.RunStatus(status)
	run.EndReason = simulation.EndReason(endReason.String)
	run.ProperHangup = properHangup != 0
	run.LatencyMedian = floatPtr(latMedian)
	run.LatencyP75 = floatPtr(latP75)
	run.LatencyP99 = floatPtr(latP99)
	run.OverallAccuracy = floatPtr(accuracy)
	run.HumanlikeRating = floatPtr(humanlike)
	run.OutcomeOrientation = floatPtr(outcome)
	run.OutcomeReasoning = outcomeReasoning.String
	run.Error = errMsg.String
	run.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		run.CompletedAt = &t
	}

	return &run, nil
}

func marshalNullable(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
