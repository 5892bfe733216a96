// Package events carries lifecycle events of live sessions to the
// connection gateway. Each exam code gets its own topic, opened when the
// session starts and closed when it finishes.
package events

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-live/internal/model"
)

// Kind is the type of a lifecycle event.
type Kind string

const (
	KindExamStarted      Kind = "exam-started"
	KindQuestionAdvanced Kind = "question-advanced"
	KindExamFinished     Kind = "exam-finished"
)

// Event is a lifecycle event for one exam code.
type Event struct {
	Kind     Kind
	Code     string
	Index    int
	Question *model.ExamQuestion
	// ExpiresAt is when the scheduler will move past Question.
	ExpiresAt time.Time
	Results   *model.ExamResults
}

// Subscription receives the events of one topic. C is closed when the
// topic closes or the subscription is cancelled.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	bus    *Bus
	code   string
	closed bool
}

// Cancel detaches the subscription from its topic.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s)
}

// Bus fans events out to the subscribers of each topic. Delivery is
// best-effort: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.Mutex
	buffer int
	topics map[string][]*Subscription
}

func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{buffer: buffer, topics: make(map[string][]*Subscription)}
}

// Subscribe attaches to the topic for code, opening it if needed.
func (b *Bus) Subscribe(code string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b, code: code}

	b.mu.Lock()
	b.topics[code] = append(b.topics[code], sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers e to every subscriber of e.Code and returns how many
// received it.
func (b *Bus) Publish(e Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, sub := range b.topics[e.Code] {
		select {
		case sub.ch <- e:
			delivered++
		default:
		}
	}
	return delivered
}

// Close tears down the topic for code, closing every subscription.
func (b *Bus) Close(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.topics[code] {
		sub.closed = true
		close(sub.ch)
	}
	delete(b.topics, code)
}

// Topics returns the number of open topics.
func (b *Bus) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	subs := b.topics[s.code]
	for i, other := range subs {
		if other == s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, s.code)
	} else {
		b.topics[s.code] = subs
	}
	s.closed = true
	close(s.ch)
}
