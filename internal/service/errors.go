package service

import (
	"errors"

	"github.com/stemsi/exstem-live/internal/store"
)

// Domain errors of the live exam engine.
var (
	ErrNotFound          = store.ErrNotFound
	ErrPersistence       = store.ErrPersistence
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrStaleOperation    = errors.New("operation addressed to a non-current question")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNoQuestions       = errors.New("test has no questions")
)
