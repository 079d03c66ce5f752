package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// PostgresStore implements Store using PostgreSQL. The score breakdown,
// alternatives, and constraint snapshot live in a JSONB payload; the
// queryable dimensions are first-class columns with indexes.
type PostgresStore struct {
	db *sql.DB
}

// PostgresSchema creates the decision log table and its lookup indexes.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS routing_decisions (
	id            TEXT PRIMARY KEY,
	org_id        TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	task_category TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	payload       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_org_ts ON routing_decisions (org_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_category ON routing_decisions (org_id, task_category);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_provider ON routing_decisions (org_id, provider);`

// NewPostgresStore creates a decision log backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("ensure decision log schema: %w", err)
	}
	return nil
}

// Record appends a decision. Inserts only; there is no update path.
func (s *PostgresStore) Record(ctx context.Context, d *types.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routing_decisions (id, org_id, ts, task_category, provider, model, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.OrgID, d.Timestamp, d.TaskCategory, d.Provider, d.Model, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Get returns one decision by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*types.Decision, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM routing_decisions WHERE id = $1`, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query decision: %w", err)
	}

	var d types.Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &d, nil
}

// History returns an organization's decisions, most recent first.
func (s *PostgresStore) History(ctx context.Context, orgID string, f Filter) ([]*types.Decision, error) {
	var (
		conds = []string{"org_id = $1"}
		args  = []any{orgID}
	)
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("ts <= $%d", len(args)))
	}
	if f.TaskCategory != "" {
		args = append(args, f.TaskCategory)
		conds = append(conds, fmt.Sprintf("task_category = $%d", len(args)))
	}
	if f.Provider != "" {
		args = append(args, f.Provider)
		conds = append(conds, fmt.Sprintf("provider = $%d", len(args)))
	}
	args = append(args, f.limit())

	query := fmt.Sprintf(`
		SELECT payload FROM routing_decisions
		WHERE %s
		ORDER BY ts DESC
		LIMIT $%d`, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decision history: %w", err)
	}
	defer rows.Close()

	var out []*types.Decision
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		var d types.Decision
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
