package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const definitionColumns = `id, name, trigger_event, entity_type, version, trigger_key, context_profile,
  rule_set, trigger_condition, on_match_actions, on_no_match_actions, condition_criteria,
  action_type, is_active, rule_fingerprint, created_at, updated_at`

// Store persists policy definitions in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// List returns every definition ordered by id.
func (s *Store) List(ctx context.Context) ([]*Definition, error) {
	return s.query(ctx, "SELECT "+definitionColumns+" FROM policy_definitions ORDER BY id;")
}

// ListActive returns every active definition ordered by id.
func (s *Store) ListActive(ctx context.Context) ([]*Definition, error) {
	return s.query(ctx, "SELECT "+definitionColumns+" FROM policy_definitions WHERE is_active = 1 ORDER BY id;")
}

// ListByTrigger returns active definitions for a trigger event regardless of entity type.
func (s *Store) ListByTrigger(ctx context.Context, triggerEvent string) ([]*Definition, error) {
	return s.query(ctx, "SELECT "+definitionColumns+` FROM policy_definitions
WHERE is_active = 1 AND trigger_event = ? ORDER BY id;`, triggerEvent)
}

// ListImpacted returns active definitions for a trigger event whose entity
// type matches entityType or the wildcard.
func (s *Store) ListImpacted(ctx context.Context, triggerEvent, entityType string) ([]*Definition, error) {
	return s.query(ctx, "SELECT "+definitionColumns+` FROM policy_definitions
WHERE is_active = 1 AND trigger_event = ? AND (entity_type = ? OR entity_type = ?) ORDER BY id;`,
		triggerEvent, entityType, EntityAny)
}

// Get returns one definition or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Definition, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+definitionColumns+" FROM policy_definitions WHERE id = ?;", id)
	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read policy definition: %w", err)
	}
	return d, nil
}

// GetByName returns the first definition with the given name or ErrNotFound.
func (s *Store) GetByName(ctx context.Context, name string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+definitionColumns+" FROM policy_definitions WHERE name = ? ORDER BY id LIMIT 1;", name)
	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read policy definition: %w", err)
	}
	return d, nil
}

// Create normalizes and inserts d, assigning its id and timestamps.
func (s *Store) Create(ctx context.Context, d *Definition) error {
	if d == nil {
		return fmt.Errorf("definition is nil")
	}
	d.Normalize()
	if d.Name == "" {
		return fmt.Errorf("name is empty")
	}
	if d.TriggerEvent == "" {
		return fmt.Errorf("trigger event is empty")
	}

	cond, onMatch, onNoMatch, err := encodeJSONColumns(d)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO policy_definitions(name, trigger_event, entity_type, version, trigger_key, context_profile,
  rule_set, trigger_condition, on_match_actions, on_no_match_actions, condition_criteria,
  action_type, is_active, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, d.Name, d.TriggerEvent, d.EntityType, d.Version, d.TriggerKey, d.ContextProfile,
		d.RuleSet, cond, onMatch, onNoMatch, d.Condition,
		d.ActionType, boolToInt(d.IsActive), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert policy definition: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted id: %w", err)
	}
	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

// Update overwrites the mutable fields of an existing definition and bumps
// its version. The stored row is returned.
func (s *Store) Update(ctx context.Context, d *Definition) (*Definition, error) {
	if d == nil {
		return nil, fmt.Errorf("definition is nil")
	}
	d.Normalize()

	cond, onMatch, onNoMatch, err := encodeJSONColumns(d)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE policy_definitions SET
  name = ?, trigger_event = ?, entity_type = ?, version = version + 1, context_profile = ?,
  rule_set = ?, trigger_condition = ?, on_match_actions = ?, on_no_match_actions = ?,
  condition_criteria = ?, action_type = ?, is_active = ?, updated_at = ?
WHERE id = ?;
`, d.Name, d.TriggerEvent, d.EntityType, d.ContextProfile,
		d.RuleSet, cond, onMatch, onNoMatch,
		d.Condition, d.ActionType, boolToInt(d.IsActive), now, d.ID)
	if err != nil {
		return nil, fmt.Errorf("update policy definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, d.ID)
}

// Delete removes a definition. Execution rows that reference it are kept.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM policy_definitions WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("delete policy definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFingerprint records the fingerprint of the last deployed rule source.
func (s *Store) SetFingerprint(ctx context.Context, id int64, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE policy_definitions SET rule_fingerprint = ? WHERE id = ?;", fingerprint, id); err != nil {
		return fmt.Errorf("update rule fingerprint: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query policy definitions: %w", err)
	}
	defer rows.Close()

	var out []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy definition: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy definitions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(sc scanner) (*Definition, error) {
	var (
		d           Definition
		active      int
		cond        sql.NullString
		onMatch     sql.NullString
		onNoMatch   sql.NullString
		fingerprint sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := sc.Scan(
		&d.ID, &d.Name, &d.TriggerEvent, &d.EntityType, &d.Version, &d.TriggerKey, &d.ContextProfile,
		&d.RuleSet, &cond, &onMatch, &onNoMatch, &d.Condition,
		&d.ActionType, &active, &fingerprint, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	d.IsActive = active != 0
	d.RuleFingerprint = fingerprint.String

	// Stored JSON is parsed once here; a corrupt column leaves the field
	// empty rather than hiding the whole definition.
	if cond.Valid && cond.String != "" {
		var tc TriggerCondition
		if err := json.Unmarshal([]byte(cond.String), &tc); err == nil {
			d.TriggerCondition = &tc
		}
	}
	if onMatch.Valid && onMatch.String != "" {
		_ = json.Unmarshal([]byte(onMatch.String), &d.OnMatch)
	}
	if onNoMatch.Valid && onNoMatch.String != "" {
		_ = json.Unmarshal([]byte(onNoMatch.String), &d.OnNoMatch)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &d, nil
}

func encodeJSONColumns(d *Definition) (cond, onMatch, onNoMatch sql.NullString, err error) {
	if !d.TriggerCondition.Empty() {
		b, mErr := json.Marshal(d.TriggerCondition)
		if mErr != nil {
			return cond, onMatch, onNoMatch, fmt.Errorf("encode trigger condition: %w", mErr)
		}
		cond = sql.NullString{String: string(b), Valid: true}
	}
	if onMatch, err = encodeActions(d.OnMatch); err != nil {
		return cond, onMatch, onNoMatch, fmt.Errorf("encode on-match actions: %w", err)
	}
	if onNoMatch, err = encodeActions(d.OnNoMatch); err != nil {
		return cond, onMatch, onNoMatch, fmt.Errorf("encode on-no-match actions: %w", err)
	}
	return cond, onMatch, onNoMatch, nil
}

func encodeActions(actions []Action) (sql.NullString, error) {
	if len(actions) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
