package financial

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saudeplus/tiss/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type ledgerPG struct{ pool *pgxpool.Pool }

// NewLedgerPG returns the Postgres-backed ledger. Idempotency rides on
// the unique index over idempotency_key in each table.
func NewLedgerPG(pool *pgxpool.Pool) Ledger { return &ledgerPG{pool: pool} }

func (r *ledgerPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *ledgerPG) RecordIncome(ctx context.Context, t *Transacao) (bool, error) {
	t.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO transacao_financeira (id, idempotency_key, guia_id, lote_id, convenio_id, amount, description, transaction_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		t.ID, t.IdempotencyKey, t.GuiaID, t.LoteID, t.ConvenioID, t.Amount, t.Description, t.TransactionDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ledgerPG) RecordReceivable(ctx context.Context, rec *Recebimento) (bool, error) {
	rec.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO recebimento (id, idempotency_key, guia_id, lote_id, convenio_id, amount, status, method, receipt_ref, due_date, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.ID, rec.IdempotencyKey, rec.GuiaID, rec.LoteID, rec.ConvenioID, rec.Amount,
		rec.Status, rec.Method, rec.ReceiptRef, rec.DueDate, rec.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ledgerPG) ListTransactions(ctx context.Context, guiaID *uuid.UUID, limit, offset int) ([]*Transacao, int, error) {
	where, args, n := guiaFilter(guiaID)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM transacao_financeira`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, idempotency_key, guia_id, lote_id, convenio_id, amount, description, transaction_date, created_at
		FROM transacao_financeira`+where+`
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Transacao
	for rows.Next() {
		var t Transacao
		if err := rows.Scan(&t.ID, &t.IdempotencyKey, &t.GuiaID, &t.LoteID, &t.ConvenioID,
			&t.Amount, &t.Description, &t.TransactionDate, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &t)
	}
	return out, total, rows.Err()
}

func (r *ledgerPG) ListReceivables(ctx context.Context, guiaID *uuid.UUID, limit, offset int) ([]*Recebimento, int, error) {
	where, args, n := guiaFilter(guiaID)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM recebimento`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, idempotency_key, guia_id, lote_id, convenio_id, amount, status, method, receipt_ref, due_date, received_at, created_at
		FROM recebimento`+where+`
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Recebimento
	for rows.Next() {
		var rec Recebimento
		if err := rows.Scan(&rec.ID, &rec.IdempotencyKey, &rec.GuiaID, &rec.LoteID, &rec.ConvenioID,
			&rec.Amount, &rec.Status, &rec.Method, &rec.ReceiptRef, &rec.DueDate, &rec.ReceivedAt, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &rec)
	}
	return out, total, rows.Err()
}

func guiaFilter(guiaID *uuid.UUID) (string, []interface{}, int) {
	if guiaID == nil {
		return " WHERE 1=1", []interface{}{}, 0
	}
	return " WHERE 1=1 AND guia_id = $1", []interface{}{*guiaID}, 1
}

type pendingRepoPG struct{ pool *pgxpool.Pool }

func NewPendingRepoPG(pool *pgxpool.Pool) PendingRepository { return &pendingRepoPG{pool: pool} }

func (r *pendingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *pendingRepoPG) Upsert(ctx context.Context, p *PendingPayment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pagamento_pendente (id, idempotency_key, guia_id, guia_numero, lote_id, convenio_id, amount, payment_term_days, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET attempts = EXCLUDED.attempts, last_error = EXCLUDED.last_error, updated_at = now()`,
		p.ID, p.IdempotencyKey, p.GuiaID, p.GuiaNumero, p.LoteID, p.ConvenioID, p.Amount,
		p.PaymentTermDays, p.Attempts, p.LastError)
	return err
}

func (r *pendingRepoPG) List(ctx context.Context, limit int) ([]*PendingPayment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, idempotency_key, guia_id, guia_numero, lote_id, convenio_id, amount, payment_term_days, attempts, last_error, created_at, updated_at
		FROM pagamento_pendente ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingPayment
	for rows.Next() {
		var p PendingPayment
		if err := rows.Scan(&p.ID, &p.IdempotencyKey, &p.GuiaID, &p.GuiaNumero, &p.LoteID, &p.ConvenioID,
			&p.Amount, &p.PaymentTermDays, &p.Attempts, &p.LastError, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *pendingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM pagamento_pendente WHERE id = $1`, id)
	return err
}
