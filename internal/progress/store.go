// Package progress persists which verses a learner has memorized and on which
// days they practised, and derives the streak, score and chart views from
// that state.
//
// Durable state lives behind a [kv.Store] under two keys, "progress" and
// "practice_log", prefixed per learner profile. Read failures degrade to empty
// state; write failures are logged and returned while callers keep their
// in-memory view.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/kv"
	"github.com/MrWong99/hafiz/internal/notify"
	"github.com/MrWong99/hafiz/internal/observe"
)

// DefaultKeyPrefix namespaces the keys of the default learner profile.
const DefaultKeyPrefix = "hafiz."

const (
	progressKey    = "progress"
	practiceLogKey = "practice_log"
)

// Record maps collection id to verse id to "attempted and judged correct".
// A missing verse has not been memorized yet.
type Record map[int]map[int]bool

// Memorized reports whether the verse is recorded as memorized.
func (r Record) Memorized(collectionID, verseID int) bool {
	return r[collectionID][verseID]
}

// Collection returns a copy of the verse map of one collection, never nil.
func (r Record) Collection(collectionID int) map[int]bool {
	out := make(map[int]bool, len(r[collectionID]))
	maps.Copy(out, r[collectionID])
	return out
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix sets the key prefix, e.g. "hafiz.aisha.".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithBroadcaster publishes a change notification after every successful
// write.
func WithBroadcaster(b *notify.Broadcaster) Option {
	return func(s *Store) { s.changes = b }
}

// WithMetrics records every write in m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock replaces time.Now, which decides what "today" is.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the progress store. Safe for concurrent use within one process;
// across processes sharing a backend the last write wins.
type Store struct {
	kv      kv.Store
	prefix  string
	changes *notify.Broadcaster
	metrics *observe.Metrics
	now     func() time.Time

	// mu serialises load-modify-save sequences.
	mu sync.Mutex
}

// NewStore returns a Store writing through backend.
func NewStore(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     backend,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Changes returns the broadcaster writes are published to, or nil.
func (s *Store) Changes() *notify.Broadcaster { return s.changes }

// Load returns the memorization record. An absent or undecodable payload
// yields an empty record; the failure is logged.
func (s *Store) Load(ctx context.Context) Record {
	rec := make(Record)
	raw, ok := s.get(ctx, progressKey)
	if !ok {
		return rec
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		observe.Logger(ctx).Error("progress: decode memorization record", "key", s.key(progressKey), "err", err)
		return make(Record)
	}
	if rec == nil {
		// A stored JSON null.
		return make(Record)
	}
	return rec
}

// Save overwrites the whole memorization record.
func (s *Store) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, rec)
}

// MarkVerseMemorized records the verse as memorized. It never writes false
// and never removes entries, so repeating it is harmless.
func (s *Store) MarkVerseMemorized(ctx context.Context, collectionID, verseID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.Load(ctx)
	if rec[collectionID] == nil {
		rec[collectionID] = make(map[int]bool)
	}
	rec[collectionID][verseID] = true
	return s.saveLocked(ctx, rec)
}

// CollectionMemorized reports whether every verse of col is durably
// memorized.
func (s *Store) CollectionMemorized(ctx context.Context, col catalog.Collection) bool {
	return collectionMemorized(s.Load(ctx), col)
}

func collectionMemorized(rec Record, col catalog.Collection) bool {
	if len(col.Verses) == 0 {
		return false
	}
	for _, v := range col.Verses {
		if !rec.Memorized(col.ID, v.ID) {
			return false
		}
	}
	return true
}

func (s *Store) saveLocked(ctx context.Context, rec Record) error {
	if rec == nil {
		rec = Record{}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("progress: encode memorization record: %w", err)
	}
	return s.set(ctx, progressKey, string(raw))
}

func (s *Store) key(name string) string { return s.prefix + name }

func (s *Store) get(ctx context.Context, name string) (string, bool) {
	raw, ok, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		observe.Logger(ctx).Error("progress: read failed", "key", s.key(name), "err", err)
		return "", false
	}
	return raw, ok
}

func (s *Store) set(ctx context.Context, name, value string) error {
	key := s.key(name)
	if err := s.kv.Set(ctx, key, value); err != nil {
		observe.Logger(ctx).Error("progress: write failed", "key", key, "err", err)
		if s.metrics != nil {
			s.metrics.RecordProgressWrite(ctx, name, "error")
		}
		return fmt.Errorf("progress: save %s: %w", key, err)
	}
	if s.metrics != nil {
		s.metrics.RecordProgressWrite(ctx, name, "ok")
	}
	s.changes.Publish()
	return nil
}
