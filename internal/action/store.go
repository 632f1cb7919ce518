package action

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	routeColumns   = "action_type, target_url, http_method, payload_template, auth_secret, updated_at"
	adapterColumns = "id, adapter_name, base_url, auth_token, api_key, default_headers, is_active, updated_at"
)

// Store persists routes and adapter configs in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListRoutes returns every route ordered by action type.
func (s *Store) ListRoutes(ctx context.Context) ([]*Route, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+routeColumns+" FROM action_routes ORDER BY action_type;")
	if err != nil {
		return nil, fmt.Errorf("query action routes: %w", err)
	}
	defer rows.Close()

	var out []*Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action routes: %w", err)
	}
	return out, nil
}

// GetRoute returns the route for actionType or ErrRouteNotFound.
func (s *Store) GetRoute(ctx context.Context, actionType string) (*Route, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+routeColumns+" FROM action_routes WHERE action_type = ?;", actionType)
	r, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRouteNotFound
	}
	return r, err
}

// CreateRoute inserts r or returns ErrRouteExists.
func (s *Store) CreateRoute(ctx context.Context, r *Route) error {
	if err := normalizeRoute(r); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, "INSERT INTO action_routes("+routeColumns+") VALUES(?, ?, ?, ?, ?, ?) ON CONFLICT(action_type) DO NOTHING;",
		r.ActionType, r.TargetURL, r.HTTPMethod, r.PayloadTemplate, nullString(r.AuthSecret), r.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert action route: %w", err)
	}
	return requireAffected(res, ErrRouteExists)
}

// UpdateRoute overwrites target, method, template and secret of an existing route.
func (s *Store) UpdateRoute(ctx context.Context, r *Route) error {
	if err := normalizeRoute(r); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE action_routes SET target_url = ?, http_method = ?, payload_template = ?, auth_secret = ?, updated_at = ?
WHERE action_type = ?;`,
		r.TargetURL, r.HTTPMethod, r.PayloadTemplate, nullString(r.AuthSecret), r.UpdatedAt.Format(time.RFC3339Nano), r.ActionType)
	if err != nil {
		return fmt.Errorf("update action route: %w", err)
	}
	return requireAffected(res, ErrRouteNotFound)
}

// DeleteRoute removes the route for actionType.
func (s *Store) DeleteRoute(ctx context.Context, actionType string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM action_routes WHERE action_type = ?;", actionType)
	if err != nil {
		return fmt.Errorf("delete action route: %w", err)
	}
	return requireAffected(res, ErrRouteNotFound)
}

// BatchUpsert inserts new routes and overwrites target, method and template
// of existing ones in one transaction. Existing auth secrets are kept.
func (s *Store) BatchUpsert(ctx context.Context, routes []*Route) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range routes {
		if err := normalizeRoute(r); err != nil {
			return 0, err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO action_routes(`+routeColumns+`) VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(action_type) DO UPDATE SET
  target_url = excluded.target_url,
  http_method = excluded.http_method,
  payload_template = excluded.payload_template,
  updated_at = excluded.updated_at;`,
			r.ActionType, r.TargetURL, r.HTTPMethod, r.PayloadTemplate, nullString(r.AuthSecret), now)
		if err != nil {
			return 0, fmt.Errorf("upsert action route %s: %w", r.ActionType, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(routes), nil
}

// ListAdapters returns every adapter config ordered by name.
func (s *Store) ListAdapters(ctx context.Context) ([]*AdapterConfig, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+adapterColumns+" FROM adapter_configs ORDER BY adapter_name;")
	if err != nil {
		return nil, fmt.Errorf("query adapter configs: %w", err)
	}
	defer rows.Close()

	var out []*AdapterConfig
	for rows.Next() {
		a, err := scanAdapter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adapter configs: %w", err)
	}
	return out, nil
}

// GetAdapter returns the config named name (case-insensitive) or ErrAdapterNotFound.
func (s *Store) GetAdapter(ctx context.Context, name string) (*AdapterConfig, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+adapterColumns+" FROM adapter_configs WHERE adapter_name = ? COLLATE NOCASE;", name)
	a, err := scanAdapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdapterNotFound
	}
	return a, err
}

// CreateAdapter inserts a new adapter config.
func (s *Store) CreateAdapter(ctx context.Context, a *AdapterConfig) error {
	headers, err := encodeHeaders(a.DefaultHeaders)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO adapter_configs(adapter_name, base_url, auth_token, api_key, default_headers, is_active, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?);`,
		a.AdapterName, a.BaseURL, nullString(a.AuthToken), nullString(a.APIKey), headers, boolToInt(a.IsActive), a.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert adapter config: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted id: %w", err)
	}
	return nil
}

// UpdateAdapter overwrites base URL, token, API key, headers and active flag
// of the config named name.
func (s *Store) UpdateAdapter(ctx context.Context, name string, a *AdapterConfig) error {
	headers, err := encodeHeaders(a.DefaultHeaders)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE adapter_configs SET base_url = ?, auth_token = ?, api_key = ?, default_headers = ?, is_active = ?, updated_at = ?
WHERE adapter_name = ? COLLATE NOCASE;`,
		a.BaseURL, nullString(a.AuthToken), nullString(a.APIKey), headers, boolToInt(a.IsActive), a.UpdatedAt.Format(time.RFC3339Nano), name)
	if err != nil {
		return fmt.Errorf("update adapter config: %w", err)
	}
	return requireAffected(res, ErrAdapterNotFound)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoute(sc scanner) (*Route, error) {
	var (
		r       Route
		secret  sql.NullString
		updated string
	)
	if err := sc.Scan(&r.ActionType, &r.TargetURL, &r.HTTPMethod, &r.PayloadTemplate, &secret, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan action route: %w", err)
	}
	r.AuthSecret = secret.String
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &r, nil
}

func scanAdapter(sc scanner) (*AdapterConfig, error) {
	var (
		a             AdapterConfig
		token, apiKey sql.NullString
		headers       string
		active        int
		updated       string
	)
	if err := sc.Scan(&a.ID, &a.AdapterName, &a.BaseURL, &token, &apiKey, &headers, &active, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan adapter config: %w", err)
	}
	a.AuthToken = token.String
	a.APIKey = apiKey.String
	a.IsActive = active != 0
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	a.DefaultHeaders = map[string]string{}
	// Malformed header JSON degrades to no headers.
	_ = json.Unmarshal([]byte(headers), &a.DefaultHeaders)
	return &a, nil
}

func normalizeRoute(r *Route) error {
	r.ActionType = strings.TrimSpace(r.ActionType)
	r.TargetURL = strings.TrimSpace(r.TargetURL)
	if r.ActionType == "" {
		return fmt.Errorf("action type is empty")
	}
	if r.TargetURL == "" {
		return fmt.Errorf("target url is empty")
	}
	r.HTTPMethod = strings.ToUpper(strings.TrimSpace(r.HTTPMethod))
	if r.HTTPMethod == "" {
		r.HTTPMethod = "POST"
	}
	if strings.TrimSpace(r.PayloadTemplate) == "" {
		r.PayloadTemplate = "{}"
	}
	return nil
}

func encodeHeaders(h map[string]string) (string, error) {
	if h == nil {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode default headers: %w", err)
	}
	return string(b), nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
