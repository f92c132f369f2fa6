package escrow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore is a PostgreSQL-backed escrow store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	var e Escrow
	var id, amount int64
	var description sql.NullString
	var fundedAt, resolvedAt sql.NullTime

	err := s.Scan(&id, &e.BuyerAddr, &e.SellerAddr, &amount, &description,
		&e.Status, &fundedAt, &resolvedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.ID = uint64(id)
	e.Amount = uint64(amount)
	e.Description = description.String
	if fundedAt.Valid {
		t := fundedAt.Time
		e.FundedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

const escrowColumns = `id, buyer_addr, seller_addr, amount, description,
	status, funded_at, resolved_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, escrow *Escrow) error {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO escrows (buyer_addr, seller_addr, amount, description,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		escrow.BuyerAddr, escrow.SellerAddr, int64(escrow.Amount),
		nullString(escrow.Description), escrow.Status,
		escrow.CreatedAt, escrow.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return err
	}
	escrow.ID = uint64(id)
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id uint64) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, int64(id))

	escrow, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return escrow, err
}

func (p *PostgresStore) Update(ctx context.Context, escrow *Escrow) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows
		SET status = $2, funded_at = $3, resolved_at = $4, updated_at = $5
		WHERE id = $1`,
		int64(escrow.ID), escrow.Status,
		nullTime(escrow.FundedAt), nullTime(escrow.ResolvedAt),
		escrow.UpdatedAt)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE buyer_addr = $1 OR seller_addr = $1
		ORDER BY id DESC
		LIMIT $2`, agentAddr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []*Escrow
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, escrow)
	}
	return escrows, rows.Err()
}

func (p *PostgresStore) NextID(ctx context.Context) (uint64, error) {
	// The sequence reports its last handed-out value; before the first
	// allocation is_called is false and last_value is the start value itself.
	var next int64
	err := p.db.QueryRowContext(ctx, `
		SELECT CASE WHEN is_called THEN last_value + 1 ELSE last_value END
		FROM escrow_id_seq`).Scan(&next)
	if err != nil {
		return 0, err
	}
	return uint64(next), nil
}

// SumInCustody returns the total amount across escrows currently holding funds
// (funded or disputed).
func (p *PostgresStore) SumInCustody(ctx context.Context) (uint64, error) {
	var total uint64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM escrows
		WHERE status IN ($1, $2)`, StatusFunded, StatusDisputed).Scan(&total)
	return total, err
}

func (p *PostgresStore) CreateDispute(ctx context.Context, dispute *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (escrow_id, raised_by, reason, resolved, created_at)
		VALUES ($1, $2, $3, FALSE, $4)`,
		int64(dispute.EscrowID), dispute.RaisedBy, dispute.Reason, dispute.CreatedAt)
	return err
}

func (p *PostgresStore) GetDispute(ctx context.Context, escrowID uint64) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT escrow_id, raised_by, reason, resolved, winner, created_at, resolved_at
		FROM disputes WHERE escrow_id = $1`, int64(escrowID))

	var d Dispute
	var id int64
	var winner sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&id, &d.RaisedBy, &d.Reason, &d.Resolved, &winner,
		&d.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}

	d.EscrowID = uint64(id)
	d.Winner = winner.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}

func (p *PostgresStore) UpdateDispute(ctx context.Context, dispute *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes
		SET resolved = $2, winner = $3, resolved_at = $4
		WHERE escrow_id = $1`,
		int64(dispute.EscrowID), dispute.Resolved,
		nullString(dispute.Winner), nullTime(dispute.ResolvedAt))
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
