package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists ledger data in PostgreSQL. Every balance-moving
// method runs in a single transaction with row locks on the balances it
// touches, so a movement is either fully committed or not observed at all.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT account_addr, available, escrowed, total_in, total_out, updated_at
		FROM ledger_balances WHERE account_addr = $1`, addr)

	b := &Balance{}
	err := row.Scan(&b.AccountAddr, &b.Available, &b.Escrowed, &b.TotalIn, &b.TotalOut, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Balance{AccountAddr: addr, UpdatedAt: time.Now()}, nil
	}
	return b, err
}

func (p *PostgresStore) Credit(ctx context.Context, addr string, amount uint64, txHash, description string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertCredit(ctx, tx, addr, amount); err != nil {
			return err
		}
		return insertEntry(ctx, tx, addr, "deposit", amount, txHash, "", description)
	})
}

func (p *PostgresStore) Withdraw(ctx context.Context, addr string, amount uint64, txHash string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		avail, _, err := lockBalance(ctx, tx, addr)
		if err != nil {
			return err
		}
		if avail < amount {
			return ErrInsufficientBalance
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE ledger_balances
			SET available = available - $2, total_out = total_out + $2, updated_at = NOW()
			WHERE account_addr = $1`, addr, amount)
		if err != nil {
			return err
		}
		return insertEntry(ctx, tx, addr, "withdrawal", amount, txHash, "", "withdrawal")
	})
}

func (p *PostgresStore) EscrowLock(ctx context.Context, addr string, amount uint64, reference string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		avail, _, err := lockBalance(ctx, tx, addr)
		if err != nil {
			return err
		}
		if avail < amount {
			return ErrInsufficientBalance
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE ledger_balances
			SET available = available - $2, escrowed = escrowed + $2, updated_at = NOW()
			WHERE account_addr = $1`, addr, amount)
		if err != nil {
			return err
		}
		return insertEntry(ctx, tx, addr, "escrow_lock", amount, "", reference, "escrow_locked")
	})
}

func (p *PostgresStore) SettleEscrow(ctx context.Context, from, recipient, feeRecipient string, payout, fee uint64, reference string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		total := payout + fee

		_, escrowed, err := lockBalance(ctx, tx, from)
		if err != nil {
			return err
		}
		if escrowed < total {
			return ErrInsufficientBalance
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE ledger_balances
			SET escrowed = escrowed - $2, total_out = total_out + $2, updated_at = NOW()
			WHERE account_addr = $1`, from, total)
		if err != nil {
			return err
		}

		if err := upsertCredit(ctx, tx, recipient, payout); err != nil {
			return err
		}
		if err := insertEntry(ctx, tx, from, "escrow_payout", payout, "", reference, "escrow_paid_to_"+recipient); err != nil {
			return err
		}

		if fee > 0 {
			if err := upsertCredit(ctx, tx, feeRecipient, fee); err != nil {
				return err
			}
			if err := insertEntry(ctx, tx, from, "escrow_fee", fee, "", reference, "platform_fee"); err != nil {
				return err
			}
		}

		return nil
	})
}

func (p *PostgresStore) GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_addr, type, amount, COALESCE(tx_hash, ''), COALESCE(reference, ''),
		       COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE account_addr = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		var id int64
		if err := rows.Scan(&id, &e.AccountAddr, &e.Type, &e.Amount,
			&e.TxHash, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = fmt.Sprintf("entry_%d", id)
		result = append(result, e)
	}
	return result, rows.Err()
}

// SumEscrowed returns the total value held in custody across all accounts.
func (p *PostgresStore) SumEscrowed(ctx context.Context) (uint64, error) {
	var total uint64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(escrowed), 0) FROM ledger_balances`).Scan(&total)
	return total, err
}

func (p *PostgresStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries WHERE type = 'deposit' AND tx_hash = $1
		)`, txHash).Scan(&exists)
	return exists, err
}

// inTx runs fn in a transaction, rolling back on error.
func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// lockBalance locks the balance row for addr and returns available, escrowed.
func lockBalance(ctx context.Context, tx *sql.Tx, addr string) (uint64, uint64, error) {
	var available, escrowed uint64
	err := tx.QueryRowContext(ctx, `
		SELECT available, escrowed FROM ledger_balances
		WHERE account_addr = $1 FOR UPDATE`, addr).Scan(&available, &escrowed)
	if err == sql.ErrNoRows {
		return 0, 0, ErrAccountNotFound
	}
	return available, escrowed, err
}

// upsertCredit adds amount to addr's available balance, creating the row if needed.
func upsertCredit(ctx context.Context, tx *sql.Tx, addr string, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (account_addr, available, escrowed, total_in, total_out, updated_at)
		VALUES ($1, $2, 0, $2, 0, NOW())
		ON CONFLICT (account_addr) DO UPDATE
		SET available = ledger_balances.available + EXCLUDED.available,
		    total_in = ledger_balances.total_in + EXCLUDED.total_in,
		    updated_at = NOW()`, addr, amount)
	return err
}

func insertEntry(ctx context.Context, tx *sql.Tx, addr, typ string, amount uint64, txHash, reference, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (account_addr, type, amount, tx_hash, reference, description, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NOW())`,
		addr, typ, amount, txHash, reference, description)
	return err
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
