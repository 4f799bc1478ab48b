package glosa

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

func (r *repoPG) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, r.pool, fn)
}

const glosaCols = `id, guia_id, retorno_id, code, reason, amount, status,
	contestation_deadline, contestation_protocol, justification,
	settlement_amount, resolved_at, created_at, updated_at`

func scanGlosa(row pgx.Row) (*Glosa, error) {
	var g Glosa
	err := row.Scan(&g.ID, &g.GuiaID, &g.RetornoID, &g.Code, &g.Reason, &g.Amount, &g.Status,
		&g.ContestationDeadline, &g.ContestationProtocol, &g.Justification,
		&g.SettlementAmount, &g.ResolvedAt, &g.CreatedAt, &g.UpdatedAt)
	return &g, err
}

func (r *repoPG) Create(ctx context.Context, g *Glosa) error {
	g.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO glosa (id, guia_id, retorno_id, code, reason, amount, status, contestation_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, g.GuiaID, g.RetornoID, g.Code, g.Reason, g.Amount, g.Status, g.ContestationDeadline)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Glosa, error) {
	g, err := scanGlosa(r.conn(ctx).QueryRow(ctx, `
		SELECT `+glosaCols+` FROM glosa WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "glosa", Ref: id.String()}
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadEvidence(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *repoPG) loadEvidence(ctx context.Context, g *Glosa) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT document_ref FROM glosa_documento WHERE glosa_id = $1 ORDER BY position`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	g.EvidenceRefs = nil
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return err
		}
		g.EvidenceRefs = append(g.EvidenceRefs, ref)
	}
	return rows.Err()
}

func (r *repoPG) Update(ctx context.Context, g *Glosa) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE glosa SET status = $2, contestation_protocol = $3, justification = $4,
				settlement_amount = $5, resolved_at = $6, updated_at = now()
			WHERE id = $1`,
			g.ID, g.Status, g.ContestationProtocol, g.Justification,
			g.SettlementAmount, g.ResolvedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &errs.NotFoundError{Resource: "glosa", Ref: g.ID.String()}
		}

		if _, err := r.conn(ctx).Exec(ctx, `
			DELETE FROM glosa_documento WHERE glosa_id = $1`, g.ID); err != nil {
			return err
		}
		for i, ref := range g.EvidenceRefs {
			if _, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO glosa_documento (id, glosa_id, position, document_ref)
				VALUES ($1, $2, $3, $4)`, uuid.New(), g.ID, i+1, ref); err != nil {
				return fmt.Errorf("insert evidence %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Glosa, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	n := 0
	if f.GuiaID != nil {
		n++
		where += fmt.Sprintf(" AND guia_id = $%d", n)
		args = append(args, *f.GuiaID)
	}
	if f.Status != "" {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM glosa`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+glosaCols+` FROM glosa`+where+`
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Glosa
	for rows.Next() {
		g, err := scanGlosa(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, g := range out {
		if err := r.loadEvidence(ctx, g); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}
