package sqlite

import (
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/krill-network/krill/internal/domain"
)

// ─── Payment Ledger ─────────────────────────────────────────────────────────

// InsertPayment records a new payment. Fails with ErrPaymentExists when
// the subtask already has one; payments are written once per subtask.
func (d *DB) InsertPayment(p domain.PaymentRecord) error {
	var exists int
	err := d.db.QueryRow(`SELECT COUNT(1) FROM payments WHERE subtask_id = ?`, p.SubtaskID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: subtask %s", domain.ErrPaymentExists, p.SubtaskID)
	}

	_, err = d.db.Exec(
		`INSERT INTO payments (subtask_id, task_id, payee, value, transaction_id, block_number, status, created_at, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SubtaskID, p.TaskID, p.Payee, p.Value.String(),
		nullStr(p.TransactionID), nullInt(p.BlockNumber), string(p.Status),
		p.CreatedAt.Unix(), nullableUnix(p.SettledAt),
	)
	return err
}

// UpdatePayment rewrites the mutable settlement fields of a payment.
func (d *DB) UpdatePayment(p domain.PaymentRecord) error {
	res, err := d.db.Exec(
		`UPDATE payments SET transaction_id = ?, block_number = ?, status = ?, settled_at = ?
		 WHERE subtask_id = ?`,
		nullStr(p.TransactionID), nullInt(p.BlockNumber), string(p.Status),
		nullableUnix(p.SettledAt), p.SubtaskID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: subtask %s", domain.ErrUnknownSubtask, p.SubtaskID)
	}
	return nil
}

// GetPayment returns the payment for a subtask, or nil when none exists.
func (d *DB) GetPayment(subtaskID string) (*domain.PaymentRecord, error) {
	row := d.db.QueryRow(
		`SELECT subtask_id, task_id, payee, value, transaction_id, block_number, status, created_at, settled_at
		 FROM payments WHERE subtask_id = ?`, subtaskID)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPayments returns payments for one task, or all tasks when taskID
// is empty, newest first.
func (d *DB) ListPayments(taskID string) ([]domain.PaymentRecord, error) {
	query := `SELECT subtask_id, task_id, payee, value, transaction_id, block_number, status, created_at, settled_at
		 FROM payments ORDER BY created_at DESC, subtask_id`
	args := []any{}
	if taskID != "" {
		query = `SELECT subtask_id, task_id, payee, value, transaction_id, block_number, status, created_at, settled_at
			 FROM payments WHERE task_id = ? ORDER BY created_at DESC, subtask_id`
		args = append(args, taskID)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.PaymentRecord, error) {
	var (
		p         domain.PaymentRecord
		value     string
		txID      sql.NullString
		blockNum  sql.NullInt64
		createdAt int64
		settledAt sql.NullInt64
	)
	err := row.Scan(&p.SubtaskID, &p.TaskID, &p.Payee, &value,
		&txID, &blockNum, &p.Status, &createdAt, &settledAt)
	if err != nil {
		return nil, err
	}

	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt payment value %q for subtask %s", value, p.SubtaskID)
	}
	p.Value = v
	if txID.Valid {
		p.TransactionID = txID.String
	}
	if blockNum.Valid {
		p.BlockNumber = blockNum.Int64
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	if settledAt.Valid {
		p.SettledAt = time.Unix(settledAt.Int64, 0)
	}
	return &p, nil
}

// ─── Scan Helpers ───────────────────────────────────────────────────────────

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullableUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
