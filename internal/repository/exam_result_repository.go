package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-live/internal/model"
)

// ExamResultRepository stores finished live sessions.
type ExamResultRepository struct {
	pool *pgxpool.Pool
}

// NewExamResultRepository creates a new ExamResultRepository.
func NewExamResultRepository(pool *pgxpool.Pool) *ExamResultRepository {
	return &ExamResultRepository{pool: pool}
}

const insertExamResult = `
	INSERT INTO exam_results (exam_code, test_id, owner_id, questions, results, started_at, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (exam_code, finished_at) DO NOTHING`

// InsertBatch writes records in one round trip. Re-inserting a record is a
// no-op, so a requeued batch is safe.
func (r *ExamResultRepository) InsertBatch(ctx context.Context, records []*model.ExamRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertExamResult,
			rec.ExamCode, rec.TestID, rec.OwnerID, rec.Questions, rec.Results, rec.StartedAt, rec.FinishedAt)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// Insert writes a single record.
func (r *ExamResultRepository) Insert(ctx context.Context, rec *model.ExamRecord) error {
	_, err := r.pool.Exec(ctx, insertExamResult,
		rec.ExamCode, rec.TestID, rec.OwnerID, rec.Questions, rec.Results, rec.StartedAt, rec.FinishedAt)
	return err
}
