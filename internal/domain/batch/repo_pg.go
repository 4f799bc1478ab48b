package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saudeplus/tiss/internal/platform/db"
	"github.com/saudeplus/tiss/internal/platform/errs"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const loteCols = `id, numero, convenio_id, competence, status, total_amount,
	paid_amount, denied_amount, protocol_number, claim_count,
	closed_at, submitted_at, processed_at, version, created_at, updated_at`

func scanLote(row pgx.Row) (*Lote, error) {
	var l Lote
	err := row.Scan(&l.ID, &l.Numero, &l.ConvenioID, &l.Competence, &l.Status, &l.TotalAmount,
		&l.PaidAmount, &l.DeniedAmount, &l.ProtocolNumber, &l.ClaimCount,
		&l.ClosedAt, &l.SubmittedAt, &l.ProcessedAt, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	return &l, err
}

func (r *repoPG) Create(ctx context.Context, l *Lote) error {
	l.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lote (id, numero, convenio_id, competence, status, total_amount, claim_count, version)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 1)`,
		l.ID, l.Numero, l.ConvenioID, l.Competence, l.Status)
	if err != nil {
		return err
	}
	l.Version = 1
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lote, error) {
	l, err := scanLote(r.conn(ctx).QueryRow(ctx, `
		SELECT `+loteCols+` FROM lote WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "lote", Ref: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *repoPG) NumeroExists(ctx context.Context, numero string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM lote WHERE numero = $1)`, numero).Scan(&exists)
	return exists, err
}

func (r *repoPG) Update(ctx context.Context, l *Lote) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lote SET status = $2, total_amount = $3, paid_amount = $4,
			denied_amount = $5, protocol_number = $6, claim_count = $7,
			closed_at = $8, submitted_at = $9, processed_at = $10,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $11`,
		l.ID, l.Status, l.TotalAmount, l.PaidAmount,
		l.DeniedAmount, l.ProtocolNumber, l.ClaimCount,
		l.ClosedAt, l.SubmittedAt, l.ProcessedAt, l.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.InvalidStateError{Entity: "lote", Reason: "concurrent modification, reload and retry"}
	}
	l.Version++
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Lote, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	n := 0
	if f.ConvenioID != nil {
		n++
		where += fmt.Sprintf(" AND convenio_id = $%d", n)
		args = append(args, *f.ConvenioID)
	}
	if f.Competence != "" {
		n++
		where += fmt.Sprintf(" AND competence = $%d", n)
		args = append(args, f.Competence)
	}
	if f.Status != "" {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM lote`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+loteCols+` FROM lote`+where+`
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Lote
	for rows.Next() {
		l, err := scanLote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func (r *repoPG) SumMembers(ctx context.Context, loteID uuid.UUID) (float64, int, error) {
	var sum float64
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0), count(*) FROM guia WHERE lote_id = $1`,
		loteID).Scan(&sum, &count)
	return sum, count, err
}

func (r *repoPG) MemberIDs(ctx context.Context, loteID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id FROM guia WHERE lote_id = $1 ORDER BY created_at`, loteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) ClearMembers(ctx context.Context, loteID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE guia SET lote_id = NULL, version = version + 1, updated_at = now()
		WHERE lote_id = $1`, loteID)
	return err
}
