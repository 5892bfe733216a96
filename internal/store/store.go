// Package store persists live exam session documents keyed by room code.
// Writes replace the whole document; callers serialize read-modify-write
// cycles per code (see package lane).
package store

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-live/internal/model"
)

var (
	ErrNotFound    = errors.New("exam session not found")
	ErrPersistence = errors.New("session store failure")
)

// SessionStore is the key-value boundary for live sessions.
type SessionStore interface {
	Get(ctx context.Context, code string) (*model.ExamSession, error)
	Set(ctx context.Context, code string, session *model.ExamSession) error
	Exists(ctx context.Context, code string) (bool, error)
	Delete(ctx context.Context, code string) error
}
