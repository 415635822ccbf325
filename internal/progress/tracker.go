package progress

import (
	"context"
	"errors"
)

// Tracker applies verdicts to a practice session and, for correct ones, to
// durable state.
type Tracker struct {
	store   *Store
	session *Session
}

// NewTracker returns a Tracker for session backed by store. session may be
// nil when only durable state matters (CLI and tool calls).
func NewTracker(store *Store, session *Session) *Tracker {
	return &Tracker{store: store, session: session}
}

// Session returns the tracked session, or nil.
func (t *Tracker) Session() *Session { return t.session }

// Record applies one verdict. A correct verdict marks the verse memorized and
// logs today as a practice day; an incorrect one only touches the session, so
// durable state is left exactly as it was.
func (t *Tracker) Record(ctx context.Context, collectionID, verseID int, correct bool) error {
	if t.session != nil && t.session.CollectionID() == collectionID {
		t.session.Set(verseID, correct)
	}
	if !correct {
		return nil
	}
	return errors.Join(
		t.store.MarkVerseMemorized(ctx, collectionID, verseID),
		t.store.LogToday(ctx),
	)
}
