package execlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Execution statuses.
const (
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// timeLayout is fixed width so executed_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when an execution id does not exist.
var ErrNotFound = errors.New("execution not found")

// Execution is one append-only audit row.
type Execution struct {
	ID         int64           `json:"id"`
	PolicyID   int64           `json:"policyDefinitionId"`
	PolicyName string          `json:"workflowName,omitempty"`
	EntityID   string          `json:"entityId"`
	TraceID    string          `json:"traceId"`
	Status     string          `json:"status"`
	Logs       json.RawMessage `json:"logs"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// Store appends and reads execution rows. There is no update or delete.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record serializes trace and appends one execution row, returning its id.
func (s *Store) Record(ctx context.Context, policyID int64, entityID, traceID, status string, trace *Trace) (int64, error) {
	if traceID == "" {
		return 0, fmt.Errorf("trace id is empty")
	}
	if status != StatusCompleted && status != StatusFailed {
		return 0, fmt.Errorf("invalid execution status %q", status)
	}
	if trace == nil {
		trace = NewTrace("Unknown", nil)
	}
	logs, err := json.Marshal(trace)
	if err != nil {
		return 0, fmt.Errorf("encode trace: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO policy_executions(policy_definition_id, entity_id, trace_id, status, logs, executed_at)
VALUES(?, ?, ?, ?, ?, ?);
`, policyID, entityID, traceID, status, string(logs), now)
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}
	return id, nil
}

// Latest returns up to limit executions, newest first, with the owning
// policy name ("N/A" once the policy is deleted).
func (s *Store) Latest(ctx context.Context, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT e.id, e.policy_definition_id, COALESCE(d.name, 'N/A'), e.entity_id, e.trace_id, e.status, e.logs, e.executed_at
FROM policy_executions e
LEFT JOIN policy_definitions d ON d.id = e.policy_definition_id
ORDER BY e.executed_at DESC, e.id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var (
			e          Execution
			logs       string
			executedAt string
		)
		if err := rows.Scan(&e.ID, &e.PolicyID, &e.PolicyName, &e.EntityID, &e.TraceID, &e.Status, &logs, &executedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Logs = json.RawMessage(logs)
		e.ExecutedAt, _ = time.Parse(timeLayout, executedAt)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

// Get returns one execution row or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Execution, error) {
	var (
		e          Execution
		logs       sql.NullString
		executedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, policy_definition_id, entity_id, trace_id, status, logs, executed_at
FROM policy_executions WHERE id = ?;
`, id).Scan(&e.ID, &e.PolicyID, &e.EntityID, &e.TraceID, &e.Status, &logs, &executedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read execution: %w", err)
	}
	e.Logs = json.RawMessage(logs.String)
	e.ExecutedAt, _ = time.Parse(timeLayout, executedAt)
	return &e, nil
}

// Trace decodes the stored trace of an execution. Rows with empty logs
// yield an "Unknown" trace with no steps.
func (s *Store) Trace(ctx context.Context, id int64) (*Trace, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(e.Logs) == 0 {
		return NewTrace("Unknown", nil), nil
	}
	var t Trace
	if err := json.Unmarshal(e.Logs, &t); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if t.Steps == nil {
		t.Steps = []Step{}
	}
	return &t, nil
}
