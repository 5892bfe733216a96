// Package uid generates participant identifiers and short room codes.
package uid

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// ErrCodeSpaceExhausted is returned when no free room code was found
// within the configured number of attempts.
var ErrCodeSpaceExhausted = errors.New("no free exam code found")

const (
	codeMin   = 100000
	codeRange = 900000
)

// ExistsFunc reports whether a room code is already taken.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator hands out uuid identifiers and collision-checked 6-digit codes.
type Generator struct {
	maxAttempts int
	draw        func() (string, error)
}

// New creates a Generator that gives up after maxAttempts collisions.
func New(maxAttempts int) *Generator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Generator{maxAttempts: maxAttempts, draw: drawCode}
}

// NewID returns an opaque identifier for students and author tokens.
func (g *Generator) NewID() string {
	return uuid.NewString()
}

// ExamCode draws candidates until exists reports a free one. A failing
// exists check aborts immediately.
func (g *Generator) ExamCode(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		code, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("draw exam code: %w", err)
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check exam code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, g.maxAttempts)
}

func drawCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
