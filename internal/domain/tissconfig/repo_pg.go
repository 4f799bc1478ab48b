package tissconfig

import (
	"context"
	"errors"

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

func (r *repoPG) Get(ctx context.Context) (*Config, error) {
	var c Config
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT razao_social, cnpj, cnes, provider_code, tiss_version,
			validate_on_finalize, notify_on_return, updated_at
		FROM tiss_config WHERE singleton`).Scan(
		&c.RazaoSocial, &c.CNPJ, &c.CNES, &c.ProviderCode, &c.TISSVersion,
		&c.ValidateOnFinalize, &c.NotifyOnReturn, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) Save(ctx context.Context, c *Config) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tiss_config (singleton, razao_social, cnpj, cnes, provider_code,
			tiss_version, validate_on_finalize, notify_on_return, updated_at)
		VALUES (true, $1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (singleton) DO UPDATE SET
			razao_social = EXCLUDED.razao_social,
			cnpj = EXCLUDED.cnpj,
			cnes = EXCLUDED.cnes,
			provider_code = EXCLUDED.provider_code,
			tiss_version = EXCLUDED.tiss_version,
			validate_on_finalize = EXCLUDED.validate_on_finalize,
			notify_on_return = EXCLUDED.notify_on_return,
			updated_at = now()`,
		c.RazaoSocial, c.CNPJ, c.CNES, c.ProviderCode, c.TISSVersion,
		c.ValidateOnFinalize, c.NotifyOnReturn)
	return err
}
