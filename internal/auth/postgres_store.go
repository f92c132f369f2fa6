package auth

import (
	"context"
	"database/sql"
)

// PostgresStore is a PostgreSQL-backed key store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL key store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const keyColumns = `id, key_hash, account_addr, name, created_at, last_used, expires_at, revoked`

func scanKey(row interface{ Scan(...interface{}) error }) (*APIKey, error) {
	var k APIKey
	var lastUsed, expiresAt sql.NullTime

	err := row.Scan(&k.ID, &k.Hash, &k.AccountAddr, &k.Name,
		&k.CreatedAt, &lastUsed, &expiresAt, &k.Revoked)
	if err != nil {
		return nil, err
	}

	if lastUsed.Valid {
		k.LastUsed = lastUsed.Time
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	return &k, nil
}

func (p *PostgresStore) Create(ctx context.Context, key *APIKey) error {
	var expiresAt sql.NullTime
	if key.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *key.ExpiresAt, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, account_addr, name, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Hash, key.AccountAddr, key.Name, key.CreatedAt, expiresAt, key.Revoked)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash)

	key, err := scanKey(row)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	return key, err
}

func (p *PostgresStore) GetByAccount(ctx context.Context, addr string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+keyColumns+` FROM api_keys
		WHERE account_addr = $1
		ORDER BY created_at DESC`, addr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, key *APIKey) error {
	var lastUsed sql.NullTime
	if !key.LastUsed.IsZero() {
		lastUsed = sql.NullTime{Time: key.LastUsed, Valid: true}
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE api_keys
		SET last_used = $2, revoked = $3
		WHERE id = $1`,
		key.ID, lastUsed, key.Revoked)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
