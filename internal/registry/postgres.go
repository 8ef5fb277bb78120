package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres persists the registry in a documents table. It enforces the same
// state machine as Memory by reading the current status inside a transaction
// before applying a transition.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection and runs the schema migration.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.migrate(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	// Advisory lock so several replicas can boot at once without racing the
	// migration. Production setups should run migrations as a deploy step.
	const lockID = 874302156

	var acquired bool
	if err := p.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = p.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			original_name TEXT NOT NULL,
			stored_name TEXT NOT NULL,
			size BIGINT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			chunk_count INT NOT NULL DEFAULT 0,
			uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			processed_at TIMESTAMPTZ
		);`)
	return err
}

func (p *Postgres) Create(ctx context.Context, rec Record) error {
	if rec.ID == uuid.Nil {
		return fmt.Errorf("record id required")
	}
	if rec.Status == "" {
		rec.Status = StatusUploading
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO documents(id, original_name, stored_name, size, type, status, uploaded_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.OriginalName, rec.StoredName, rec.Size, rec.Type, rec.Status, rec.UploadedAt)
	return err
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_name, size, type, status, error_message, chunk_count, uploaded_at, processed_at
		FROM documents WHERE id=$1`, id)
	return scanRecord(row)
}

func (p *Postgres) List(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, original_name, stored_name, size, type, status, error_message, chunk_count, uploaded_at, processed_at
		FROM documents ORDER BY uploaded_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateStatus(ctx context.Context, id uuid.UUID, tr Transition) (Record, error) {
	if err := tr.Validate(); err != nil {
		return Record{}, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	var current Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id=$1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	if !Allowed(current, tr.To) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, tr.To)
	}

	switch tr.To {
	case StatusCompleted:
		_, err = tx.ExecContext(ctx, `UPDATE documents SET status=$1, chunk_count=$2, processed_at=now() WHERE id=$3`,
			tr.To, tr.ChunkCount, id)
	case StatusFailed:
		_, err = tx.ExecContext(ctx, `UPDATE documents SET status=$1, error_message=$2 WHERE id=$3`,
			tr.To, tr.ErrorMessage, id)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE documents SET status=$1 WHERE id=$2`, tr.To, id)
	}
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return p.Get(ctx, id)
}

func (p *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var processedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.OriginalName, &rec.StoredName, &rec.Size, &rec.Type,
		&rec.Status, &rec.ErrorMessage, &rec.ChunkCount, &rec.UploadedAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w", ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	if processedAt.Valid {
		rec.ProcessedAt = processedAt.Time
	}
	return rec, nil
}
