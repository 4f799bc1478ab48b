package retorno

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

const retornoCols = `id, lote_id, protocolo, total_amount, paid_amount, denied_amount,
	claim_count, denial_count, status, error_detail, created_at`

func scanRetorno(row pgx.Row) (*Retorno, error) {
	var rt Retorno
	err := row.Scan(&rt.ID, &rt.LoteID, &rt.Protocolo, &rt.TotalAmount, &rt.PaidAmount, &rt.DeniedAmount,
		&rt.ClaimCount, &rt.DenialCount, &rt.Status, &rt.ErrorDetail, &rt.CreatedAt)
	return &rt, err
}

func (r *repoPG) Create(ctx context.Context, rt *Retorno) error {
	if rt.ID == uuid.Nil {
		rt.ID = uuid.New()
	}
	return r.inTx(ctx, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO retorno (id, lote_id, protocolo, total_amount, paid_amount, denied_amount, claim_count, denial_count, status, error_detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rt.ID, rt.LoteID, rt.Protocolo, rt.TotalAmount, rt.PaidAmount, rt.DeniedAmount,
			rt.ClaimCount, rt.DenialCount, rt.Status, rt.ErrorDetail)
		if err != nil {
			return err
		}
		return r.insertItems(ctx, rt.ID, rt.Items)
	})
}

func (r *repoPG) SetItems(ctx context.Context, retornoID uuid.UUID, items []Item) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM retorno_item WHERE retorno_id = $1`, retornoID); err != nil {
			return err
		}
		return r.insertItems(ctx, retornoID, items)
	})
}

func (r *repoPG) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE retorno SET status = $2 WHERE id = $1 AND status = $3`,
		id, StatusProcessed, StatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.NotFoundError{Resource: "retorno", Ref: id.String()}
	}
	return nil
}

func (r *repoPG) insertItems(ctx context.Context, retornoID uuid.UUID, items []Item) error {
	for i := range items {
		item := &items[i]
		item.ID = uuid.New()
		item.RetornoID = retornoID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO retorno_item (id, retorno_id, node, guia_numero, outcome, paid_amount, denied_amount, denial_count, result, detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, item.RetornoID, item.Node, item.GuiaNumero, item.Outcome,
			item.PaidAmount, item.DeniedAmount, item.DenialCount, item.Result, item.Detail); err != nil {
			return fmt.Errorf("insert retorno item %d: %w", item.Node, err)
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Retorno, error) {
	rt, err := scanRetorno(r.conn(ctx).QueryRow(ctx, `
		SELECT `+retornoCols+` FROM retorno WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "retorno", Ref: id.String()}
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *repoPG) GetByProtocolo(ctx context.Context, protocolo string) (*Retorno, error) {
	rt, err := scanRetorno(r.conn(ctx).QueryRow(ctx, `
		SELECT `+retornoCols+` FROM retorno WHERE protocolo = $1 AND status <> $2`, protocolo, StatusError))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "retorno", Ref: protocolo}
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *repoPG) loadItems(ctx context.Context, rt *Retorno) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, retorno_id, node, guia_numero, outcome, paid_amount, denied_amount, denial_count, result, detail
		FROM retorno_item WHERE retorno_id = $1 ORDER BY node`, rt.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	rt.Items = nil
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.RetornoID, &item.Node, &item.GuiaNumero, &item.Outcome,
			&item.PaidAmount, &item.DeniedAmount, &item.DenialCount, &item.Result, &item.Detail); err != nil {
			return err
		}
		rt.Items = append(rt.Items, item)
	}
	return rows.Err()
}

func (r *repoPG) List(ctx context.Context, loteID *uuid.UUID, limit, offset int) ([]*Retorno, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	n := 0
	if loteID != nil {
		n++
		where += fmt.Sprintf(" AND lote_id = $%d", n)
		args = append(args, *loteID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM retorno`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+retornoCols+` FROM retorno`+where+`
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Retorno
	for rows.Next() {
		rt, err := scanRetorno(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rt)
	}
	return out, total, rows.Err()
}
