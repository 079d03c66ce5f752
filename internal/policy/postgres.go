package policy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // PostgreSQL driver

	routeerrors "github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// PostgresStore implements Store using PostgreSQL. Task overrides are kept
// as JSONB alongside the scalar guardrail columns.
type PostgresStore struct {
	db *sql.DB
}

// PostgresSchema creates the policies table. Callers run it at startup or
// through their migration tooling.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS guardrail_policies (
	org_id               TEXT PRIMARY KEY,
	trial                BOOLEAN NOT NULL DEFAULT FALSE,
	max_daily_cost_usd   DOUBLE PRECISION NOT NULL,
	max_request_cost_usd DOUBLE PRECISION NOT NULL,
	max_tokens_input     INTEGER NOT NULL,
	max_tokens_output    INTEGER NOT NULL,
	max_concurrent_jobs  INTEGER NOT NULL,
	allowed_providers    TEXT[] NOT NULL,
	burst_rate_limit     INTEGER NOT NULL,
	sustained_rate_limit INTEGER NOT NULL,
	task_overrides       JSONB NOT NULL DEFAULT '{}',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// NewPostgresStore creates a policy store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("ensure policy schema: %w", err)
	}
	return nil
}

// Get returns the policy for an organization.
func (s *PostgresStore) Get(ctx context.Context, orgID string) (*types.Policy, error) {
	query := `
		SELECT org_id, trial, max_daily_cost_usd, max_request_cost_usd,
		       max_tokens_input, max_tokens_output, max_concurrent_jobs,
		       allowed_providers, burst_rate_limit, sustained_rate_limit,
		       task_overrides, created_at, updated_at
		FROM guardrail_policies
		WHERE org_id = $1`

	var (
		p             types.Policy
		providers     []byte
		overridesJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&p.OrgID, &p.Trial, &p.MaxDailyCostUSD, &p.MaxRequestCostUSD,
		&p.MaxTokensInput, &p.MaxTokensOutput, &p.MaxConcurrentJobs,
		&providers, &p.BurstRateLimit, &p.SustainedRateLimit,
		&overridesJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, routeerrors.NewPolicyNotFound(orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("query policy: %w", err)
	}

	p.AllowedProviders = parseTextArray(string(providers))
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &p.TaskOverrides); err != nil {
			return nil, fmt.Errorf("decode task overrides: %w", err)
		}
	}
	return &p, nil
}

// Upsert validates and persists the policy.
func (s *PostgresStore) Upsert(ctx context.Context, orgID string, p *types.Policy) error {
	cp := p.Clone()
	cp.OrgID = orgID
	if err := Validate(cp); err != nil {
		return err
	}

	overridesJSON, err := json.Marshal(cp.TaskOverrides)
	if err != nil {
		return fmt.Errorf("encode task overrides: %w", err)
	}

	query := `
		INSERT INTO guardrail_policies (
			org_id, trial, max_daily_cost_usd, max_request_cost_usd,
			max_tokens_input, max_tokens_output, max_concurrent_jobs,
			allowed_providers, burst_rate_limit, sustained_rate_limit,
			task_overrides, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (org_id) DO UPDATE SET
			trial = EXCLUDED.trial,
			max_daily_cost_usd = EXCLUDED.max_daily_cost_usd,
			max_request_cost_usd = EXCLUDED.max_request_cost_usd,
			max_tokens_input = EXCLUDED.max_tokens_input,
			max_tokens_output = EXCLUDED.max_tokens_output,
			max_concurrent_jobs = EXCLUDED.max_concurrent_jobs,
			allowed_providers = EXCLUDED.allowed_providers,
			burst_rate_limit = EXCLUDED.burst_rate_limit,
			sustained_rate_limit = EXCLUDED.sustained_rate_limit,
			task_overrides = EXCLUDED.task_overrides,
			updated_at = now()`

	_, err = s.db.ExecContext(ctx, query,
		cp.OrgID, cp.Trial, cp.MaxDailyCostUSD, cp.MaxRequestCostUSD,
		cp.MaxTokensInput, cp.MaxTokensOutput, cp.MaxConcurrentJobs,
		encodeTextArray(cp.AllowedProviders), cp.BurstRateLimit, cp.SustainedRateLimit,
		string(overridesJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

// Delete removes the policy for an organization.
func (s *PostgresStore) Delete(ctx context.Context, orgID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM guardrail_policies WHERE org_id = $1`, orgID); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// encodeTextArray renders a Postgres text[] literal.
func encodeTextArray(values []string) string {
	out := "{"
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += `"` + v + `"`
	}
	return out + "}"
}

// parseTextArray parses a Postgres text[] literal of simple identifiers.
// Provider names never contain commas, quotes, or braces.
func parseTextArray(raw string) []string {
	raw = trimBraces(raw)
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			item := raw[start:i]
			if len(item) >= 2 && item[0] == '"' && item[len(item)-1] == '"' {
				item = item[1 : len(item)-1]
			}
			if item != "" {
				out = append(out, item)
			}
			start = i + 1
		}
	}
	return out
}

func trimBraces(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		return s[1 : len(s)-1]
	}
	return s
}
