package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-live/internal/model"
)

// ErrTestNotFound is returned when a test id does not exist.
var ErrTestNotFound = errors.New("test not found")

// TestRepository reads tests and their questions from the test library.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetWithQuestions loads a test and its questions ordered by order_num.
func (r *TestRepository) GetWithQuestions(ctx context.Context, testID uuid.UUID) (*model.Test, []model.Question, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject, owner_id, created_at
		 FROM tests WHERE id = $1`, testID,
	).Scan(&t.ID, &t.Title, &t.Subject, &t.OwnerID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrTestNotFound
		}
		return nil, nil, fmt.Errorf("get test: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, title, type, answers, max_score, time_limit, order_num
		 FROM questions WHERE test_id = $1
		 ORDER BY order_num`, testID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.Title, &q.Type, &q.Answers, &q.MaxScore, &q.TimeLimit, &q.OrderNum); err != nil {
			return nil, nil, err
		}
		questions = append(questions, q)
	}
	return t, questions, rows.Err()
}
