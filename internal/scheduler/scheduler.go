// Package scheduler keeps at most one pending question-advance timer per
// exam code.
package scheduler

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-live/internal/clock"
	"github.com/stemsi/exstem-live/internal/model"
)

// Token identifies what a timer expects to find when it fires. A firing
// whose token no longer matches the stored session is stale.
type Token struct {
	Code   string
	Status model.ExamStatus
	Index  int
}

// Matches reports whether the session is still in the state the token was
// issued for.
func (t Token) Matches(s *model.ExamSession) bool {
	return s != nil &&
		s.Code == t.Code &&
		s.Status == t.Status &&
		s.CurrentQuestionIndex == t.Index
}

type entry struct {
	timer clock.Timer
	gen   uint64
}

// Scheduler arms timers through a clock.Clock.
type Scheduler struct {
	clock  clock.Clock
	mu     sync.Mutex
	gen    uint64
	timers map[string]entry
}

func New(c clock.Clock) *Scheduler {
	return &Scheduler{clock: c, timers: make(map[string]entry)}
}

// Schedule arms fn to run with tok after delay, replacing any timer already
// pending for tok.Code.
func (s *Scheduler) Schedule(delay time.Duration, tok Token, fn func(Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[tok.Code]; ok {
		prev.timer.Stop()
	}

	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if cur, ok := s.timers[tok.Code]; ok && cur.gen == gen {
			delete(s.timers, tok.Code)
		}
		s.mu.Unlock()
		fn(tok)
	})
	s.timers[tok.Code] = entry{timer: t, gen: gen}
}

// Cancel drops the pending timer for code, if any.
func (s *Scheduler) Cancel(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[code]; ok {
		e.timer.Stop()
		delete(s.timers, code)
	}
}

// Pending returns the number of codes with an armed timer.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
