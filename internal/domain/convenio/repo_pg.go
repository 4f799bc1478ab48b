package convenio

import (
	"context"
	"errors"

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

const convenioCols = `id, name, ans_code, cnpj, table_mode, table_percent, payment_term_days, active, created_at, updated_at`

func scanConvenio(row pgx.Row) (*Convenio, error) {
	var c Convenio
	err := row.Scan(&c.ID, &c.Name, &c.ANSCode, &c.CNPJ, &c.TableMode, &c.TablePercent,
		&c.PaymentTermDays, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Convenio) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO convenio (id, name, ans_code, cnpj, table_mode, table_percent, payment_term_days, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.ANSCode, c.CNPJ, c.TableMode, c.TablePercent, c.PaymentTermDays, c.Active)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Convenio, error) {
	c, err := scanConvenio(r.conn(ctx).QueryRow(ctx, `
		SELECT `+convenioCols+` FROM convenio WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "convenio", Ref: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *repoPG) Update(ctx context.Context, c *Convenio) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE convenio SET name = $2, ans_code = $3, cnpj = $4, table_mode = $5,
			table_percent = $6, payment_term_days = $7, active = $8, updated_at = now()
		WHERE id = $1`,
		c.ID, c.Name, c.ANSCode, c.CNPJ, c.TableMode, c.TablePercent, c.PaymentTermDays, c.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.NotFoundError{Resource: "convenio", Ref: c.ID.String()}
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, onlyActive bool, limit, offset int) ([]*Convenio, int, error) {
	where := ""
	if onlyActive {
		where = " WHERE active"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM convenio`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+convenioCols+` FROM convenio`+where+`
		ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Convenio
	for rows.Next() {
		c, err := scanConvenio(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE convenio SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.NotFoundError{Resource: "convenio", Ref: id.String()}
	}
	return nil
}

func (r *repoPG) ReferenceCount(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT (SELECT count(*) FROM guia WHERE convenio_id = $1)
		     + (SELECT count(*) FROM lote WHERE convenio_id = $1)`, id).Scan(&n)
	return n, err
}
