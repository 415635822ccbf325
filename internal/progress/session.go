package progress

import (
	"maps"
	"sync"

	"github.com/MrWong99/hafiz/internal/catalog"
)

// Session tracks attempts within one practice run of a collection,
// including incorrect ones. It is never persisted.
type Session struct {
	mu           sync.Mutex
	collectionID int
	attempted    map[int]bool
}

// NewSession starts a session for collectionID seeded with the verses the
// learner has already memorized.
func NewSession(collectionID int, rec Record) *Session {
	return &Session{
		collectionID: collectionID,
		attempted:    rec.Collection(collectionID),
	}
}

// CollectionID returns the collection this session practises.
func (s *Session) CollectionID() int { return s.collectionID }

// Set records the latest verdict for a verse.
func (s *Session) Set(verseID int, correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempted[verseID] = correct
}

// Attempt returns the recorded verdict for a verse and whether one exists.
func (s *Session) Attempt(verseID int) (correct, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	correct, ok = s.attempted[verseID]
	return correct, ok
}

// Entries returns a copy of the recorded verdicts.
func (s *Session) Entries() map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.attempted)
}

// Completed reports whether every verse of col has a verdict.
func (s *Session) Completed(col catalog.Collection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range col.Verses {
		if _, ok := s.attempted[v.ID]; !ok {
			return false
		}
	}
	return len(col.Verses) > 0
}

// AllCorrect reports whether every verse of col has a correct verdict.
func (s *Session) AllCorrect(col catalog.Collection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range col.Verses {
		if !s.attempted[v.ID] {
			return false
		}
	}
	return len(col.Verses) > 0
}

// NextVerse returns the first verse of col, in memorization order, that is
// not yet correct. Failed verses come up again before later unattempted ones.
func (s *Session) NextVerse(col catalog.Collection) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range col.Verses {
		if !s.attempted[v.ID] {
			return v.ID, true
		}
	}
	return 0, false
}

// correctCount returns the number of verses of col judged correct.
func (s *Session) correctCount(col catalog.Collection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range col.Verses {
		if s.attempted[v.ID] {
			n++
		}
	}
	return n
}
