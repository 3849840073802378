package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/ports"
)

// Repository persists job records in DuckDB.
type Repository struct {
	db *sql.DB
}

var _ ports.JobRepository = (*Repository)(nil)

func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS jobs (
		id           VARCHAR PRIMARY KEY,
		filename     VARCHAR NOT NULL,
		status       VARCHAR NOT NULL,
		error        VARCHAR,
		submitted_at TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) SaveJob(ctx context.Context, rec domain.JobRecord) error {
	query := `
	INSERT INTO jobs (id, filename, status, error, submitted_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status     = excluded.status,
		error      = excluded.error,
		updated_at = excluded.updated_at;
	`

	_, err := r.db.ExecContext(ctx, query,
		string(rec.ID), rec.Filename, string(rec.Status), rec.Error,
		rec.SubmittedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.JobRecord, error) {
	query := `SELECT id, filename, status, error, submitted_at, updated_at FROM jobs WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, string(id))

	rec, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.JobRecord{}, domain.ErrJobNotFound
		}
		return domain.JobRecord{}, err
	}
	return rec, nil
}

func (r *Repository) ListJobs(ctx context.Context) ([]domain.JobRecord, error) {
	query := `SELECT id, filename, status, error, submitted_at, updated_at FROM jobs ORDER BY submitted_at DESC LIMIT 100`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.JobRecord, error) {
	var (
		id, filename, status string
		errMsg               sql.NullString
		submittedAt          time.Time
		updatedAt            time.Time
	)
	if err := row.Scan(&id, &filename, &status, &errMsg, &submittedAt, &updatedAt); err != nil {
		return domain.JobRecord{}, err
	}

	rec := domain.JobRecord{
		ID:          domain.JobID(id),
		Filename:    filename,
		Status:      domain.JobStatus(status),
		SubmittedAt: submittedAt,
		UpdatedAt:   updatedAt,
	}
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	return rec, nil
}
