package api

import (
	"net/http"
	"time"

	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/internal/progress"
	"github.com/MrWong99/hafiz/internal/recite"
)

// collectionSummary is one entry of GET /api/collections.
type collectionSummary struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	EnglishName   string `json:"english_name"`
	FrenchName    string `json:"french_name"`
	LocalizedName string `json:"localized_name"`
	Verses        int    `json:"verses"`
	Memorized     int    `json:"memorized"`
	Score         int    `json:"score"`
	Completed     bool   `json:"completed"`
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	lang := s.lang(r, "")
	rec := s.d.Store.Load(r.Context())
	cols := s.d.Catalog.Collections()
	rows := progress.ChartRows(cols, rec, lang)

	out := make([]collectionSummary, len(cols))
	for i, col := range cols {
		out[i] = collectionSummary{
			ID:            col.ID,
			Name:          col.Name,
			EnglishName:   col.EnglishName,
			FrenchName:    col.FrenchName,
			LocalizedName: rows[i].Name,
			Verses:        rows[i].Total,
			Memorized:     rows[i].Memorized,
			Score:         progress.CollectionScore(rec, col),
			Completed:     rows[i].Total > 0 && rows[i].Remaining == 0,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type verseView struct {
	catalog.Verse
	Memorized bool `json:"memorized"`
}

type collectionView struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	LocalizedName string      `json:"localized_name"`
	Verses        []verseView `json:"verses"`
	Score         int         `json:"score"`
	Completed     bool        `json:"completed"`
	NextVerse     int         `json:"next_verse,omitempty"`
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	col, err := s.d.Catalog.Collection(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	rec := s.d.Store.Load(r.Context())
	view := collectionView{
		ID:            col.ID,
		Name:          col.Name,
		LocalizedName: col.LocalizedName(s.lang(r, "")),
		Verses:        make([]verseView, len(col.Verses)),
		Score:         progress.CollectionScore(rec, col),
	}
	for i, v := range col.Verses {
		view.Verses[i] = verseView{Verse: v, Memorized: rec.Memorized(col.ID, v.ID)}
	}
	sess := progress.NewSession(col.ID, rec)
	view.Completed = sess.AllCorrect(col)
	if next, ok := sess.NextVerse(col); ok {
		view.NextVerse = next
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Store.Load(r.Context()))
}

func (s *Server) handleMarkMemorized(w http.ResponseWriter, r *http.Request) {
	colID, ok := pathInt(w, r, "collection")
	if !ok {
		return
	}
	verseID, ok := pathInt(w, r, "verse")
	if !ok {
		return
	}
	if _, err := s.d.Catalog.Verse(colID, verseID); err != nil {
		writeLookupError(w, err)
		return
	}
	if err := s.d.Store.MarkVerseMemorized(r.Context(), colID, verseID); err != nil {
		observe.Logger(r.Context()).Error("api: mark memorized", "collection", colID, "verse", verseID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not save progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection_id": colID,
		"verse_id":      verseID,
		"memorized":     true,
	})
}

type streakView struct {
	Streak int      `json:"streak"`
	Dates  []string `json:"dates"`
}

func (s *Server) streak(r *http.Request) streakView {
	dates := s.d.Store.Dates(r.Context())
	out := streakView{Dates: make([]string, len(dates))}
	for i, d := range dates {
		out.Dates[i] = d.Format(progress.DateLayout)
	}
	out.Streak = s.d.Store.Streak(r.Context())
	return out
}

func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.streak(r))
}

type statsView struct {
	Rows   []progress.ChartRow `json:"rows"`
	Totals progress.Totals     `json:"totals"`
	Streak int                 `json:"streak"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rec := s.d.Store.Load(r.Context())
	rows := progress.ChartRows(s.d.Catalog.Collections(), rec, s.lang(r, ""))
	writeJSON(w, http.StatusOK, statsView{
		Rows:   rows,
		Totals: progress.SumRows(rows),
		Streak: s.d.Store.Streak(r.Context()),
	})
}

type checkRequest struct {
	CollectionID int    `json:"collection_id"`
	VerseID      int    `json:"verse_id"`
	Transcript   string `json:"transcript"`
}

type checkResponse struct {
	Attempt             recite.Attempt    `json:"attempt"`
	Highlight           []recite.WordMark `json:"highlight"`
	CollectionCompleted bool              `json:"collection_completed"`
	SaveError           string            `json:"save_error,omitempty"`
}

// handleCheck scores a transcript produced elsewhere, such as by the
// browser's own recognizer. Correct verdicts are persisted.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	col, err := s.d.Catalog.Collection(req.CollectionID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	verse, err := s.d.Catalog.Verse(col.ID, req.VerseID)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	ctx := r.Context()
	scorer := s.d.Scorer()
	attempt := scorer.Attempt(verse.ID, verse.Text, req.Transcript)
	s.d.Metrics.RecordAttempt(ctx, string(attempt.Verdict), attempt.Similarity)

	resp := checkResponse{
		Attempt:   attempt,
		Highlight: scorer.Normalizer().Highlight(verse.Text, req.Transcript),
	}
	if err := progress.NewTracker(s.d.Store, nil).Record(ctx, col.ID, verse.ID, attempt.Correct()); err != nil {
		observe.Logger(ctx).Error("api: record verdict", "collection", col.ID, "verse", verse.ID, "err", err)
		resp.SaveError = "progress could not be saved"
	}
	resp.CollectionCompleted = s.d.Store.CollectionMemorized(ctx, col)
	writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	CollectionID int    `json:"collection_id"`
	Lang         string `json:"lang"`
}

// handleFeedback always answers 200; generation failures yield the static
// fallback message.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	col, err := s.d.Catalog.Collection(req.CollectionID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	lang := s.lang(r, req.Lang)
	fb := s.d.Feedback.Generate(r.Context(), col.LocalizedName(lang), lang)
	writeJSON(w, http.StatusOK, fb)
}

type askRequest struct {
	Topic    string `json:"topic"`
	Question string `json:"question"`
	Lang     string `json:"lang"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.Topic == "" {
		req.Topic = "Islam"
	}
	start := time.Now()
	answer := s.d.Feedback.Answer(r.Context(), req.Topic, req.Question, s.lang(r, req.Lang))
	observe.Logger(r.Context()).Debug("api: answered question", "topic", req.Topic, "elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) handleGuides(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Catalog.Guides())
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	steps, err := s.d.Catalog.Guide(r.PathValue("name"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}
