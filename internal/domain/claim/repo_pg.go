package claim

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

// inTx runs fn inside the ambient transaction when one exists, otherwise
// it opens one. Guia writes span two tables and must stay atomic.
func (r *repoPG) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, r.pool, fn)
}

const guiaCols = `id, numero, kind, status, convenio_id, lote_id,
	patient_name, patient_card, professional_name, professional_license,
	diagnosis_code, justification, total_amount, paid_amount, denied_amount,
	finalized_at, submitted_at, processed_at, version, created_at, updated_at`

func scanGuia(row pgx.Row) (*Guia, error) {
	var g Guia
	err := row.Scan(&g.ID, &g.Numero, &g.Kind, &g.Status, &g.ConvenioID, &g.LoteID,
		&g.PatientName, &g.PatientCard, &g.ProfessionalName, &g.ProfessionalLicense,
		&g.DiagnosisCode, &g.Justification, &g.TotalAmount, &g.PaidAmount, &g.DeniedAmount,
		&g.FinalizedAt, &g.SubmittedAt, &g.ProcessedAt, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	return &g, err
}

func (r *repoPG) Create(ctx context.Context, g *Guia) error {
	g.ID = uuid.New()
	return r.inTx(ctx, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO guia (id, numero, kind, status, convenio_id,
				patient_name, patient_card, professional_name, professional_license,
				diagnosis_code, justification, total_amount, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1)`,
			g.ID, g.Numero, g.Kind, g.Status, g.ConvenioID,
			g.PatientName, g.PatientCard, g.ProfessionalName, g.ProfessionalLicense,
			g.DiagnosisCode, g.Justification, g.TotalAmount)
		if err != nil {
			return err
		}
		g.Version = 1
		return r.insertLines(ctx, g)
	})
}

func (r *repoPG) insertLines(ctx context.Context, g *Guia) error {
	for i := range g.Lines {
		l := &g.Lines[i]
		l.ID = uuid.New()
		l.GuiaID = g.ID
		l.Position = i + 1
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO guia_procedimento (id, guia_id, position, code, description,
				quantity, unit_price, line_total, service_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			l.ID, l.GuiaID, l.Position, l.Code, l.Description,
			l.Quantity, l.UnitPrice, l.LineTotal, l.ServiceDate)
		if err != nil {
			return fmt.Errorf("insert line %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *repoPG) loadLines(ctx context.Context, g *Guia) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, guia_id, position, code, description, quantity, unit_price, line_total, service_date
		FROM guia_procedimento WHERE guia_id = $1 ORDER BY position`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	g.Lines = nil
	for rows.Next() {
		var l ProcedureLine
		if err := rows.Scan(&l.ID, &l.GuiaID, &l.Position, &l.Code, &l.Description,
			&l.Quantity, &l.UnitPrice, &l.LineTotal, &l.ServiceDate); err != nil {
			return err
		}
		g.Lines = append(g.Lines, l)
	}
	return rows.Err()
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Guia, error) {
	g, err := scanGuia(r.conn(ctx).QueryRow(ctx, `
		SELECT `+guiaCols+` FROM guia WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "guia", Ref: id.String()}
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *repoPG) GetByNumero(ctx context.Context, numero string) (*Guia, error) {
	g, err := scanGuia(r.conn(ctx).QueryRow(ctx, `
		SELECT `+guiaCols+` FROM guia WHERE numero = $1`, numero))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "guia", Ref: numero}
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *repoPG) NumeroExists(ctx context.Context, numero string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM guia WHERE numero = $1)`, numero).Scan(&exists)
	return exists, err
}

func (r *repoPG) Update(ctx context.Context, g *Guia) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE guia SET status = $2, lote_id = $3, total_amount = $4,
			paid_amount = $5, denied_amount = $6, justification = $7,
			finalized_at = $8, submitted_at = $9, processed_at = $10,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $11`,
		g.ID, g.Status, g.LoteID, g.TotalAmount,
		g.PaidAmount, g.DeniedAmount, g.Justification,
		g.FinalizedAt, g.SubmittedAt, g.ProcessedAt, g.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.InvalidStateError{Entity: "guia", Reason: "concurrent modification, reload and retry"}
	}
	g.Version++
	return nil
}

func (r *repoPG) ReplaceLines(ctx context.Context, g *Guia) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `
			DELETE FROM guia_procedimento WHERE guia_id = $1`, g.ID); err != nil {
			return err
		}
		if err := r.insertLines(ctx, g); err != nil {
			return err
		}
		return r.Update(ctx, g)
	})
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Guia, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	n := 0
	if f.ConvenioID != nil {
		n++
		where += fmt.Sprintf(" AND convenio_id = $%d", n)
		args = append(args, *f.ConvenioID)
	}
	if f.LoteID != nil {
		n++
		where += fmt.Sprintf(" AND lote_id = $%d", n)
		args = append(args, *f.LoteID)
	}
	if f.Status != "" {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM guia`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+guiaCols+` FROM guia`+where+`
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Guia
	for rows.Next() {
		g, err := scanGuia(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, g := range out {
		if err := r.loadLines(ctx, g); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}
