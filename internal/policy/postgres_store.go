package policy

import (
	"context"
	"database/sql"
)

// PostgresStore persists platform settings in a single-row table, so the
// configured arbiter and fee rate survive restarts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settings store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Seed inserts the initial settings row if none exists. Existing settings
// are never overwritten: runtime changes win over environment defaults.
func (p *PostgresStore) Seed(ctx context.Context, arbiter string, feeRateBps uint32) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO platform_settings (id, arbiter_addr, fee_rate_bps, updated_at)
		VALUES (1, NULLIF($1, ''), $2, NOW())
		ON CONFLICT (id) DO NOTHING`, arbiter, feeRateBps)
	return err
}

func (p *PostgresStore) Get(ctx context.Context) (*Settings, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(arbiter_addr, ''), fee_rate_bps
		FROM platform_settings WHERE id = 1`)

	s := &Settings{}
	err := row.Scan(&s.Arbiter, &s.FeeRateBps)
	if err == sql.ErrNoRows {
		return &Settings{}, nil
	}
	return s, err
}

func (p *PostgresStore) SetArbiter(ctx context.Context, addr string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO platform_settings (id, arbiter_addr, fee_rate_bps, updated_at)
		VALUES (1, NULLIF($1, ''), 0, NOW())
		ON CONFLICT (id) DO UPDATE
		SET arbiter_addr = NULLIF(EXCLUDED.arbiter_addr, ''), updated_at = NOW()`, addr)
	return err
}

func (p *PostgresStore) SetFeeRate(ctx context.Context, bps uint32) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO platform_settings (id, arbiter_addr, fee_rate_bps, updated_at)
		VALUES (1, NULL, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET fee_rate_bps = EXCLUDED.fee_rate_bps, updated_at = NOW()`, bps)
	return err
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
