package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/migrations"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const postgresDocumentName = "credentials"

// PostgresBackend stores the credential document in a single row of credential_documents.
// An upsert replaces the body in one statement.
type PostgresBackend struct {
	db  *sql.DB
	dsn string
}

// NewPostgresBackend opens a connection pool; Initialize applies migrations.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresBackend{db: db, dsn: dsn}, nil
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) Initialize(ctx context.Context) error {
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()

	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrations.PostgresUp(p.dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	const seed = `INSERT INTO credential_documents (name, body, updated_at)
VALUES ($1, $2, NOW()) ON CONFLICT (name) DO NOTHING`
	if _, err := p.db.ExecContext(ctx, seed, postgresDocumentName, EmptyDocument); err != nil {
		return fmt.Errorf("seed credential document: %w", err)
	}
	log.Info("PostgreSQL credential document ready")
	return nil
}

func (p *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()

	var body string
	err := p.db.QueryRowContext(ctx, `SELECT body FROM credential_documents WHERE name = $1`, postgresDocumentName).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: postgresDocumentName}
	}
	if err != nil {
		return nil, fmt.Errorf("load credential document: %w", err)
	}
	return []byte(body), nil
}

func (p *PostgresBackend) Save(ctx context.Context, data []byte) error {
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()

	const upsert = `INSERT INTO credential_documents (name, body, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`
	if _, err := p.db.ExecContext(ctx, upsert, postgresDocumentName, string(data)); err != nil {
		return fmt.Errorf("save credential document: %w", err)
	}
	return nil
}

func (p *PostgresBackend) SaveIf(ctx context.Context, prev, data []byte) error {
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if prev == nil {
		res, err = p.db.ExecContext(ctx, `INSERT INTO credential_documents (name, body, updated_at)
VALUES ($1, $2, NOW()) ON CONFLICT (name) DO NOTHING`, postgresDocumentName, string(data))
	} else {
		res, err = p.db.ExecContext(ctx, `UPDATE credential_documents SET body = $2, updated_at = NOW()
WHERE name = $1 AND body = $3`, postgresDocumentName, string(data), string(prev))
	}
	if err != nil {
		return fmt.Errorf("save credential document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save credential document: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (p *PostgresBackend) Health(ctx context.Context) error {
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
