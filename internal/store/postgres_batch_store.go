package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tobyfell/imagepress/internal/domain"
)

const batchSchemaSQL = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	output_format TEXT NOT NULL,
	object_keys JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	files JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresBatchStore struct {
	db *sql.DB
}

func NewPostgresBatchStore(ctx context.Context, dsn string) (*PostgresBatchStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresBatchStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresBatchStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, batchSchemaSQL); err != nil {
		return fmt.Errorf("ensure batches schema: %w", err)
	}
	return nil
}

func (s *PostgresBatchStore) Close() error {
	return s.db.Close()
}

func (s *PostgresBatchStore) Create(ctx context.Context, batch domain.Batch) error {
	keysJSON, err := json.Marshal(batch.ObjectKeys)
	if err != nil {
		return fmt.Errorf("marshal object keys: %w", err)
	}
	filesJSON, err := json.Marshal(records(batch.Files))
	if err != nil {
		return fmt.Errorf("marshal file records: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO batches (id, status, output_format, object_keys, webhook_url, files, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		batch.ID,
		batch.Status,
		batch.OutputFormat,
		keysJSON,
		batch.WebhookURL,
		filesJSON,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	return nil
}

func (s *PostgresBatchStore) Get(ctx context.Context, id string) (domain.Batch, bool, error) {
	return s.get(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresBatchStore) get(ctx context.Context, q queryRower, id string) (domain.Batch, bool, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT id, status, output_format, object_keys, webhook_url, files, created_at, updated_at
		 FROM batches
		 WHERE id = $1`,
		id,
	)

	var (
		batch     domain.Batch
		keysJSON  []byte
		filesJSON []byte
	)
	if err := row.Scan(
		&batch.ID,
		&batch.Status,
		&batch.OutputFormat,
		&keysJSON,
		&batch.WebhookURL,
		&filesJSON,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Batch{}, false, nil
		}
		return domain.Batch{}, false, fmt.Errorf("query batch: %w", err)
	}

	if err := json.Unmarshal(keysJSON, &batch.ObjectKeys); err != nil {
		return domain.Batch{}, false, fmt.Errorf("unmarshal object keys: %w", err)
	}
	if err := json.Unmarshal(filesJSON, &batch.Files); err != nil {
		return domain.Batch{}, false, fmt.Errorf("unmarshal file records: %w", err)
	}

	return batch, true, nil
}

func (s *PostgresBatchStore) UpdateStatus(ctx context.Context, id, status string) (domain.Batch, error) {
	return s.update(ctx, id, status, nil)
}

func (s *PostgresBatchStore) SetOutcome(ctx context.Context, id, status string, files []domain.FileRecord) (domain.Batch, error) {
	return s.update(ctx, id, status, files)
}

func (s *PostgresBatchStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete batch rows affected: %w", err)
	}
	if affected == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// update re-checks the lifecycle transition inside a transaction so
// two writers cannot race a batch into an illegal status.
func (s *PostgresBatchStore) update(ctx context.Context, id, status string, files []domain.FileRecord) (domain.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("begin batch update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, ok, err := s.get(ctx, tx, id)
	if err != nil {
		return domain.Batch{}, err
	}
	if !ok {
		return domain.Batch{}, ErrBatchNotFound
	}
	if !domain.CanTransition(current.Status, status) {
		return domain.Batch{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
	}

	now := time.Now().UTC()
	if files == nil {
		_, err = tx.ExecContext(
			ctx,
			`UPDATE batches SET status = $1, updated_at = $2 WHERE id = $3`,
			status, now, id,
		)
	} else {
		var filesJSON []byte
		filesJSON, err = json.Marshal(records(files))
		if err != nil {
			return domain.Batch{}, fmt.Errorf("marshal file records: %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			`UPDATE batches SET status = $1, files = $2, updated_at = $3 WHERE id = $4`,
			status, filesJSON, now, id,
		)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("update batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Batch{}, fmt.Errorf("commit batch update: %w", err)
	}

	current.Status = status
	if files != nil {
		current.Files = files
	}
	current.UpdatedAt = now
	return current, nil
}

// records normalizes a nil slice to an empty one so the JSONB column
// never stores SQL null.
func records(files []domain.FileRecord) []domain.FileRecord {
	if files == nil {
		return []domain.FileRecord{}
	}
	return files
}
